// Package httpapi is the thin request/response layer mapping external
// calls onto engine.Engine operations; per the spec this layer is
// deliberately trivial — validation of shape lives here, every business
// rule lives in the engine.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"svcqueue/internal/engine"
	"svcqueue/internal/identity"
	"svcqueue/internal/models"
)

type Handler struct {
	engine *engine.Engine
}

func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queue/enqueue", h.handleEnqueue)
	mux.HandleFunc("/api/queue/restructure", h.handleRestructure)
	mux.HandleFunc("/api/queue/helper-queue", h.handleHelperQueue)
	mux.HandleFunc("/api/queue/helper-wait-times", h.handleHelperWaitTimes)
	mux.HandleFunc("/api/queue/manual-customers", h.handleManualCustomers)
	mux.HandleFunc("/api/queue/rating", h.handleUpdateRating)
	mux.HandleFunc("/api/queue/user-history", h.handleUserQueueHistory)
	mux.HandleFunc("/api/queue/business-history", h.handleBusinessQueueHistory)
	mux.HandleFunc("/api/queue/break", h.handleSetBreak)
	mux.HandleFunc("/api/queue/resume", h.handleResumeBreak)
	mux.HandleFunc("/api/queue/actions", h.handleQueueAction)
	mux.HandleFunc("/api/queue/helper-recent-actions", h.handleHelperRecentActions)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- enqueue ---

type lineItemRequest struct {
	ServiceID  string `json:"serviceId"`
	Gender     string `json:"gender"`
	Preference string `json:"preference"`
	HelperID   string `json:"helperId"`
}

type enqueueRequest struct {
	RequestID  string            `json:"requestId"`
	BusinessID string            `json:"businessId"`
	UserType   string            `json:"userType"`
	ManualID   string            `json:"manualId"`
	Services   []lineItemRequest `json:"services"`
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req enqueueRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	items := make([]engine.LineItem, 0, len(req.Services))
	for _, it := range req.Services {
		items = append(items, engine.LineItem{
			ServiceID:  it.ServiceID,
			Gender:     models.Gender(it.Gender),
			Preference: models.Preference(it.Preference),
			HelperID:   it.HelperID,
		})
	}

	result, err := h.engine.Enqueue(r.Context(), engine.EnqueueInput{
		BusinessID: req.BusinessID,
		Principal:  principal,
		UserType:   req.UserType,
		ManualID:   req.ManualID,
		Items:      items,
		RequestID:  req.RequestID,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "queue entries created", result.Entries)
}

// --- restructure ---

type restructureRequest struct {
	RequestID  string `json:"requestId"`
	BusinessID string `json:"businessId"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
}

func (h *Handler) handleRestructure(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req restructureRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	t0, t1, ok := parseWindow(w, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	result, err := h.engine.Restructure(r.Context(), req.BusinessID, t0, t1)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "restructure complete", result)
}

// --- helper queue / wait times / recent actions ---

func (h *Handler) handleHelperQueue(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	q := r.URL.Query()
	helperID := strings.TrimSpace(q.Get("helperId"))
	if helperID == "" {
		writeError(w, http.StatusBadRequest, "helperId is required")
		return
	}
	t0, t1, ok := parseWindow(w, q.Get("startTime"), q.Get("endTime"))
	if !ok {
		return
	}
	result, err := h.engine.HelperQueue(r.Context(), helperID, t0, t1)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "helper queue", result)
}

func (h *Handler) handleHelperWaitTimes(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	businessID := strings.TrimSpace(r.URL.Query().Get("businessId"))
	if businessID == "" {
		writeError(w, http.StatusBadRequest, "businessId is required")
		return
	}
	waits, err := h.engine.HelperWaitTimes(r.Context(), businessID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "helper wait times", waits)
}

func (h *Handler) handleHelperRecentActions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	q := r.URL.Query()
	helperID := strings.TrimSpace(q.Get("helperId"))
	if helperID == "" {
		writeError(w, http.StatusBadRequest, "helperId is required")
		return
	}
	limit := 10
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := h.engine.RecentHelperActions(r.Context(), helperID, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "recent helper actions", events)
}

// --- manual customers ---

type addManualRequest struct {
	BusinessID string `json:"businessId"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Gender     string `json:"gender"`
}

func (h *Handler) handleManualCustomers(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req addManualRequest
		if !decodeStrict(w, r, &req) {
			return
		}
		created, err := h.engine.AddManualCustomer(r.Context(), engine.AddManualCustomerInput{
			BusinessID: req.BusinessID, Name: req.Name, Phone: req.Phone, Gender: models.Gender(req.Gender), Principal: principal,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeOK(w, "manual customer added", created)
	case http.MethodGet:
		q := r.URL.Query()
		businessID := strings.TrimSpace(q.Get("businessId"))
		if businessID == "" {
			writeError(w, http.StatusBadRequest, "businessId is required")
			return
		}
		out, err := h.engine.SearchManualCustomers(r.Context(), businessID, q.Get("name"), q.Get("phone"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeOK(w, "manual customers", out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// --- rating ---

type updateRatingRequest struct {
	QueueID string `json:"queueId"`
	Rating  int    `json:"rating"`
	Notes   string `json:"notes"`
}

func (h *Handler) handleUpdateRating(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req updateRatingRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	updated, err := h.engine.UpdateRating(r.Context(), engine.UpdateRatingInput{
		EntryID: req.QueueID, Rating: req.Rating, Notes: req.Notes, Principal: principal,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "rating updated", updated)
}

// --- history ---

func (h *Handler) handleUserQueueHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))
	if userID == "" {
		userID = principal.ID
	}
	t0, t1, ok := parseWindow(w, q.Get("startTime"), q.Get("endTime"))
	if !ok {
		return
	}
	entries, err := h.engine.UserQueueHistory(r.Context(), userID, t0, t1)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "user queue history", entries)
}

func (h *Handler) handleBusinessQueueHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("businessId"))
	if businessID == "" {
		writeError(w, http.StatusBadRequest, "businessId is required")
		return
	}
	t0, t1, ok := parseWindow(w, q.Get("startTime"), q.Get("endTime"))
	if !ok {
		return
	}
	entries, err := h.engine.BusinessQueueHistory(r.Context(), businessID, t0, t1, q.Get("helperId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "business queue history", entries)
}

// --- break / resume ---

type breakRequest struct {
	BusinessID string `json:"businessId"`
	HelperID   string `json:"helperId"`
	Reason     string `json:"reason"`
	RequestID  string `json:"requestId"`
}

func (h *Handler) handleSetBreak(w http.ResponseWriter, r *http.Request) {
	h.handleBreakToggle(w, r, false)
}

func (h *Handler) handleResumeBreak(w http.ResponseWriter, r *http.Request) {
	h.handleBreakToggle(w, r, true)
}

func (h *Handler) handleBreakToggle(w http.ResponseWriter, r *http.Request, resume bool) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req breakRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	in := engine.SetBreakInput{BusinessID: req.BusinessID, HelperID: req.HelperID, Reason: req.Reason, Principal: principal, RequestID: req.RequestID}
	var err error
	if resume {
		err = h.engine.ResumeBreak(r.Context(), in)
	} else {
		err = h.engine.SetBreak(r.Context(), in)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	msg := "break set"
	if resume {
		msg = "break resumed"
	}
	writeOK(w, msg, nil)
}

// --- queue action ---

type queueActionRequest struct {
	RequestID string `json:"requestId"`
	QueueID   string `json:"queueId"`
	Action    string `json:"action"`
	AddedTime int    `json:"addedTime"`
}

func (h *Handler) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req queueActionRequest
	if !decodeStrict(w, r, &req) {
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	updated, err := h.engine.ApplyAction(r.Context(), engine.ApplyActionInput{
		EntryID:   req.QueueID,
		Action:    models.HistoryAction(req.Action),
		AddedTime: req.AddedTime,
		Principal: principal,
		RequestID: req.RequestID,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeOK(w, "queue entry updated", updated)
}

// --- shared helpers ---

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid bearer credential")
		return identity.Principal{}, false
	}
	return p, true
}

func decodeStrict(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func parseWindow(w http.ResponseWriter, startRaw, endRaw string) (time.Time, time.Time, bool) {
	if startRaw == "" || endRaw == "" {
		writeError(w, http.StatusBadRequest, "startTime and endTime are required")
		return time.Time{}, time.Time{}, false
	}
	t0, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "startTime must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	t1, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "endTime must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	return t0, t1, true
}

type response struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Data    any     `json:"data"`
	Token   *string `json:"token"`
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Success: false, Message: message, Data: nil})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status, message := mapEngineError(err)
	writeError(w, status, message)
}

func mapEngineError(err error) (int, string) {
	engErr, ok := err.(*engine.Error)
	if !ok {
		return http.StatusInternalServerError, "internal server error"
	}
	switch engErr.Kind {
	case engine.KindInvalidArgument:
		return http.StatusBadRequest, engErr.Message
	case engine.KindUnauthorized:
		return http.StatusUnauthorized, engErr.Message
	case engine.KindForbidden:
		return http.StatusForbidden, engErr.Message
	case engine.KindNotFound:
		return http.StatusNotFound, engErr.Message
	case engine.KindFailedPrecondition:
		return http.StatusBadRequest, engErr.Message
	case engine.KindConflict:
		return http.StatusConflict, engErr.Message
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
