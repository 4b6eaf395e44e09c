package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"svcqueue/internal/clock"
	"svcqueue/internal/engine"
	"svcqueue/internal/identity"
	"svcqueue/internal/models"
	"svcqueue/internal/notify"
	"svcqueue/internal/store/memstore"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	st := memstore.New()
	st.SeedBusiness(models.Business{ID: "biz1", OwnerID: "owner1", Active: true})
	st.SeedHelper(models.Helper{BusinessID: "biz1", HelperID: "h1", Status: models.HelperAccepted, Active: true, Services: map[string]bool{"svc1": true}})
	st.SeedService(models.Service{ID: "svc1", BusinessID: "biz1", Name: "Haircut", Duration: 20, Price: 25})
	st.SeedUser(models.RegisteredUser{UserID: "user1", Active: true})

	fc := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	n := notify.New(notify.NewProvider("noop", ""), 1)
	t.Cleanup(n.Close)
	eng := engine.New(st, fc, n, engine.DefaultConfig())
	return NewHandler(eng)
}

func withPrincipal(r *http.Request, p identity.Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalContextKey{}, p))
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Token   *string         `json:"token"`
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestHandleEnqueueSuccess(t *testing.T) {
	h := newTestHandler(t)

	payload := map[string]any{
		"businessId": "biz1",
		"userType":   "normal",
		"services": []map[string]any{
			{"serviceId": "svc1", "gender": "male", "preference": "ANY"},
		},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queue/enqueue", bytes.NewReader(body))
	req = withPrincipal(req, identity.Principal{ID: "user1", Role: identity.RoleCustomer})
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	env := decodeEnvelope(t, resp)
	if !env.Success {
		t.Fatalf("expected success envelope, got %+v", env)
	}
	var entries []models.QueueEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(entries) != 1 || entries[0].HelperID != "h1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestHandleEnqueueMissingPrincipalIsUnauthorized(t *testing.T) {
	h := newTestHandler(t)

	payload := map[string]any{
		"businessId": "biz1",
		"userType":   "normal",
		"services": []map[string]any{
			{"serviceId": "svc1", "gender": "male", "preference": "ANY"},
		},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queue/enqueue", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	env := decodeEnvelope(t, resp)
	if env.Success {
		t.Fatalf("expected failure envelope, got %+v", env)
	}
}

func TestHandleEnqueueUnknownServiceMapsToNotFound(t *testing.T) {
	h := newTestHandler(t)

	payload := map[string]any{
		"businessId": "biz1",
		"userType":   "normal",
		"services": []map[string]any{
			{"serviceId": "does-not-exist", "gender": "male", "preference": "ANY"},
		},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queue/enqueue", bytes.NewReader(body))
	req = withPrincipal(req, identity.Principal{ID: "user1", Role: identity.RoleCustomer})
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestHandleEnqueueWrongMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/enqueue", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestHandleEnqueueRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(t)

	body := []byte(`{"businessId":"biz1","userType":"normal","services":[],"bogus":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/queue/enqueue", bytes.NewReader(body))
	req = withPrincipal(req, identity.Principal{ID: "user1", Role: identity.RoleCustomer})
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown field, got %d", resp.Code)
	}
}

func TestHandleQueueActionForbiddenForCustomer(t *testing.T) {
	h := newTestHandler(t)

	enqueueBody, _ := json.Marshal(map[string]any{
		"businessId": "biz1",
		"userType":   "normal",
		"services": []map[string]any{
			{"serviceId": "svc1", "gender": "male", "preference": "ANY"},
		},
	})
	enqueueReq := httptest.NewRequest(http.MethodPost, "/api/queue/enqueue", bytes.NewReader(enqueueBody))
	enqueueReq = withPrincipal(enqueueReq, identity.Principal{ID: "user1", Role: identity.RoleCustomer})
	enqueueResp := httptest.NewRecorder()
	h.Routes().ServeHTTP(enqueueResp, enqueueReq)
	env := decodeEnvelope(t, enqueueResp)
	var entries []models.QueueEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode enqueue data: %v", err)
	}
	entryID := entries[0].ID

	actionBody, _ := json.Marshal(map[string]any{"queueId": entryID, "action": "hold"})
	actionReq := httptest.NewRequest(http.MethodPost, "/api/queue/actions", bytes.NewReader(actionBody))
	actionReq = withPrincipal(actionReq, identity.Principal{ID: "user1", Role: identity.RoleCustomer})
	actionResp := httptest.NewRecorder()

	h.Routes().ServeHTTP(actionResp, actionReq)

	if actionResp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", actionResp.Code, actionResp.Body.String())
	}
}

func TestHandleHealthz(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
