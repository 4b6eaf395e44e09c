package engine

import "encoding/json"

// encodeCached/decodeCached serialize a write-path result for the
// idempotency-by-request-id store: a caller retrying an ambiguous failure
// with the same requestId gets back the exact result of the first attempt
// instead of the operation reapplying.
func encodeCached[T any](v *T) ([]byte, error) {
	return json.Marshal(v)
}

func decodeCached[T any](data []byte, out *T) error {
	return json.Unmarshal(data, out)
}
