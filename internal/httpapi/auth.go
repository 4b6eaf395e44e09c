package httpapi

import (
	"context"
	"net/http"
	"strings"

	"svcqueue/internal/identity"
)

type principalContextKey struct{}

// AuthMiddleware resolves the bearer credential on every request except the
// public endpoints to a principal via the identity service, and stores it
// in the request context for handlers to read. It never authenticates
// itself — that is the identity service's job, consumed here as an
// external collaborator per the spec's scope statement.
func AuthMiddleware(resolver identity.Resolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer credential")
			return
		}
		principal, err := resolver.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired credential")
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) (identity.Principal, bool) {
	v := ctx.Value(principalContextKey{})
	if v == nil {
		return identity.Principal{}, false
	}
	p, ok := v.(identity.Principal)
	return p, ok
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	default:
		if strings.HasPrefix(r.URL.Path, "/realtime/") {
			// The realtime feed is a read-only display channel; its clients
			// subscribe by business/helper ID rather than principal identity.
			return true
		}
		return r.Method == http.MethodOptions
	}
}
