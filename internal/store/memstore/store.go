// Package memstore is an in-memory store.Store used by engine tests and
// local development without Postgres. It mirrors the transactional
// contract of the Postgres implementation: BeginBusinessTx takes a
// per-business lock that blocks a second transaction on the same business
// until the first commits or rolls back.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"svcqueue/internal/models"
	"svcqueue/internal/store"
)

type Store struct {
	dataMu sync.RWMutex

	bizMu sync.Mutex
	locks map[string]*sync.Mutex

	businesses map[string]models.Business
	helpers    map[string]map[string]models.Helper
	services   map[string]map[string]models.Service
	users      map[string]models.RegisteredUser
	manuals    map[string]models.ManualCustomer
	entries    map[string]models.QueueEntry
	history    map[string][]models.HistoryEvent
	idempotent map[string][]byte

	outbox       []models.OutboxEvent
	outboxOffset store.OutboxOffset
	seq          int
}

func New() *Store {
	return &Store{
		locks:      make(map[string]*sync.Mutex),
		businesses: make(map[string]models.Business),
		helpers:    make(map[string]map[string]models.Helper),
		services:   make(map[string]map[string]models.Service),
		users:      make(map[string]models.RegisteredUser),
		manuals:    make(map[string]models.ManualCustomer),
		entries:    make(map[string]models.QueueEntry),
		history:    make(map[string][]models.HistoryEvent),
		idempotent: make(map[string][]byte),
	}
}

func (s *Store) Close() {}

func (s *Store) lockFor(businessID string) *sync.Mutex {
	s.bizMu.Lock()
	defer s.bizMu.Unlock()
	m, ok := s.locks[businessID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[businessID] = m
	}
	return m
}

// --- seeding helpers for tests ---

func (s *Store) SeedBusiness(b models.Business) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.businesses[b.ID] = b
}

func (s *Store) SeedHelper(h models.Helper) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.helpers[h.BusinessID] == nil {
		s.helpers[h.BusinessID] = make(map[string]models.Helper)
	}
	s.helpers[h.BusinessID][h.HelperID] = h
}

func (s *Store) SeedService(sv models.Service) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.services[sv.BusinessID] == nil {
		s.services[sv.BusinessID] = make(map[string]models.Service)
	}
	s.services[sv.BusinessID][sv.ID] = sv
}

func (s *Store) SeedUser(u models.RegisteredUser) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.users[u.UserID] = u
}

func (s *Store) SeedManual(m models.ManualCustomer) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.manuals[m.ManualID] = m
}

func (s *Store) SeedEntry(e models.QueueEntry) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.entries[e.ID] = e
}

func (s *Store) Entry(id string) models.QueueEntry {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.entries[id]
}

func (s *Store) History(entryID string) []models.HistoryEvent {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	out := make([]models.HistoryEvent, len(s.history[entryID]))
	copy(out, s.history[entryID])
	return out
}

// --- store.Store snapshot reads ---

func (s *Store) BeginBusinessTx(ctx context.Context, businessID string) (store.Tx, error) {
	mu := s.lockFor(businessID)
	mu.Lock()
	return &tx{s: s, businessID: businessID, mu: mu}, nil
}

func (s *Store) GetBusinessSnapshot(ctx context.Context, businessID string) (models.Business, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return models.Business{}, store.ErrBusinessNotFound
	}
	return b, nil
}

func (s *Store) ListHelpersSnapshot(ctx context.Context, businessID string) ([]models.Helper, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []models.Helper
	for _, h := range s.helpers[businessID] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HelperID < out[j].HelperID })
	return out, nil
}

func (s *Store) GetServiceSnapshot(ctx context.Context, businessID, serviceID string) (models.Service, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	sv, ok := s.services[businessID][serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return sv, nil
}

func (s *Store) ListServicesSnapshot(ctx context.Context, businessID string) ([]models.Service, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []models.Service
	for _, sv := range s.services[businessID] {
		out = append(out, sv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetEntrySnapshot(ctx context.Context, entryID string) (models.QueueEntry, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	e, ok := s.entries[entryID]
	if !ok {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	return e, nil
}

func (s *Store) HelperQueueSnapshot(ctx context.Context, helperID string, t0, t1 time.Time) ([]models.QueueEntry, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []models.QueueEntry
	for _, e := range s.entries {
		if e.HelperID != helperID || !e.IsLive() {
			continue
		}
		if e.JoiningTime.Before(t0) || e.JoiningTime.After(t1) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentPosition != out[j].CurrentPosition {
			return out[i].CurrentPosition < out[j].CurrentPosition
		}
		return out[i].JoiningTime.Before(out[j].JoiningTime)
	})
	return out, nil
}

func (s *Store) HelperWaitTimesSnapshot(ctx context.Context, businessID string) ([]store.HelperWait, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []store.HelperWait
	for _, h := range s.helpers[businessID] {
		if !h.Participates() {
			continue
		}
		for svcID := range h.Services {
			sv, ok := s.services[businessID][svcID]
			if !ok || sv.Deleted {
				continue
			}
			n := 0
			for _, e := range s.entries {
				if e.HelperID == h.HelperID && e.IsLive() {
					n++
				}
			}
			out = append(out, store.HelperWait{HelperID: h.HelperID, ServiceID: svcID, QueueLength: n, EstimatedWait: n * sv.Duration})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HelperID != out[j].HelperID {
			return out[i].HelperID < out[j].HelperID
		}
		return out[i].ServiceID < out[j].ServiceID
	})
	return out, nil
}

func (s *Store) RecentHelperActionsSnapshot(ctx context.Context, helperID string, since time.Time, limit int) ([]models.HistoryEvent, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []models.HistoryEvent
	for entryID, events := range s.history {
		e, ok := s.entries[entryID]
		if !ok || e.HelperID != helperID {
			continue
		}
		for _, ev := range events {
			if ev.Source != models.SourceVendor || ev.Action == models.ActionUndo {
				continue
			}
			if ev.At.Before(since) {
				continue
			}
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UserQueueHistorySnapshot(ctx context.Context, userID string, t0, t1 time.Time) ([]models.QueueEntry, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []models.QueueEntry
	for _, e := range s.entries {
		if e.UserRef.UserID != userID {
			continue
		}
		if e.JoiningTime.Before(t0) || e.JoiningTime.After(t1) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoiningTime.Before(out[j].JoiningTime) })
	return out, nil
}

func (s *Store) BusinessQueueHistorySnapshot(ctx context.Context, businessID string, t0, t1 time.Time, helperID string) ([]models.QueueEntry, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []models.QueueEntry
	for _, e := range s.entries {
		if e.BusinessID != businessID {
			continue
		}
		if helperID != "" && e.HelperID != helperID {
			continue
		}
		if e.JoiningTime.Before(t0) || e.JoiningTime.After(t1) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoiningTime.Before(out[j].JoiningTime) })
	return out, nil
}

func (s *Store) SearchManualCustomers(ctx context.Context, businessID, name, phone string) ([]models.ManualCustomer, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []models.ManualCustomer
	for _, m := range s.manuals {
		if m.BusinessID != businessID {
			continue
		}
		if name != "" && m.Name != name {
			continue
		}
		if phone != "" && m.Phone != phone {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.OutboxOffset, limit int) ([]models.OutboxEvent, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []models.OutboxEvent
	for _, ev := range s.outbox {
		if ev.CreatedAt.Before(after.LastEventTime) {
			continue
		}
		if ev.CreatedAt.Equal(after.LastEventTime) && ev.ID <= after.LastEventID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AdvanceOutboxOffset(ctx context.Context, offset store.OutboxOffset) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.outboxOffset = offset
	return nil
}

func (s *Store) LoadOutboxOffset(ctx context.Context) (store.OutboxOffset, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.outboxOffset, nil
}

// --- transaction ---

type tx struct {
	s          *Store
	businessID string
	mu         *sync.Mutex
	done       bool
}

func (t *tx) finish() {
	if !t.done {
		t.done = true
		t.mu.Unlock()
	}
}

func (t *tx) Commit(ctx context.Context) error   { t.finish(); return nil }
func (t *tx) Rollback(ctx context.Context) error { t.finish(); return nil }

func (t *tx) LockBusiness(ctx context.Context) (models.Business, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	b, ok := t.s.businesses[t.businessID]
	if !ok {
		return models.Business{}, store.ErrBusinessNotFound
	}
	return b, nil
}

func (t *tx) GetHelper(ctx context.Context, helperID string) (models.Helper, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	h, ok := t.s.helpers[t.businessID][helperID]
	if !ok {
		return models.Helper{}, store.ErrHelperNotFound
	}
	return h, nil
}

func (t *tx) ListHelpers(ctx context.Context) ([]models.Helper, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	var out []models.Helper
	for _, h := range t.s.helpers[t.businessID] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HelperID < out[j].HelperID })
	return out, nil
}

func (t *tx) SetBusinessActive(ctx context.Context, active bool) error {
	t.s.dataMu.Lock()
	defer t.s.dataMu.Unlock()
	b, ok := t.s.businesses[t.businessID]
	if !ok {
		return store.ErrBusinessNotFound
	}
	b.Active = active
	t.s.businesses[t.businessID] = b
	return nil
}

func (t *tx) SetHelperActive(ctx context.Context, helperID string, active bool) error {
	t.s.dataMu.Lock()
	defer t.s.dataMu.Unlock()
	h, ok := t.s.helpers[t.businessID][helperID]
	if !ok {
		return store.ErrHelperNotFound
	}
	h.Active = active
	t.s.helpers[t.businessID][helperID] = h
	return nil
}

func (t *tx) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	sv, ok := t.s.services[t.businessID][serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return sv, nil
}

func (t *tx) GetRegisteredUser(ctx context.Context, userID string) (models.RegisteredUser, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	u, ok := t.s.users[userID]
	if !ok {
		return models.RegisteredUser{}, store.ErrUserNotFound
	}
	return u, nil
}

func (t *tx) GetManualCustomer(ctx context.Context, manualID string) (models.ManualCustomer, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	m, ok := t.s.manuals[manualID]
	if !ok || m.BusinessID != t.businessID {
		return models.ManualCustomer{}, store.ErrManualNotFound
	}
	return m, nil
}

func (t *tx) CreateManualCustomer(ctx context.Context, m models.ManualCustomer) (models.ManualCustomer, error) {
	t.s.dataMu.Lock()
	defer t.s.dataMu.Unlock()
	if m.ManualID == "" {
		m.ManualID = uuid.NewString()
	}
	m.BusinessID = t.businessID
	t.s.manuals[m.ManualID] = m
	return m, nil
}

func (t *tx) CountLiveEntriesInLane(ctx context.Context, helperID string) (int, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	n := 0
	for _, e := range t.s.entries {
		if e.BusinessID == t.businessID && e.HelperID == helperID && e.IsLive() {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertEntry(ctx context.Context, e models.QueueEntry) (models.QueueEntry, error) {
	t.s.dataMu.Lock()
	defer t.s.dataMu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.BusinessID = t.businessID
	t.s.entries[e.ID] = e
	return e, nil
}

func (t *tx) GetEntryForUpdate(ctx context.Context, entryID string) (models.QueueEntry, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	e, ok := t.s.entries[entryID]
	if !ok || e.BusinessID != t.businessID {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	return e, nil
}

func (t *tx) ListLiveEntriesInLane(ctx context.Context, helperID string) ([]models.QueueEntry, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	var out []models.QueueEntry
	for _, e := range t.s.entries {
		if e.BusinessID == t.businessID && e.HelperID == helperID && e.IsLive() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPosition < out[j].CurrentPosition })
	return out, nil
}

func (t *tx) ListEntriesInWindow(ctx context.Context, t0, t1 time.Time) ([]models.QueueEntry, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	var out []models.QueueEntry
	for _, e := range t.s.entries {
		if e.BusinessID != t.businessID || !e.IsLive() {
			continue
		}
		if e.JoiningTime.Before(t0) || e.JoiningTime.After(t1) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoiningTime.Before(out[j].JoiningTime) })
	return out, nil
}

func (t *tx) UpdateEntry(ctx context.Context, e models.QueueEntry) error {
	t.s.dataMu.Lock()
	defer t.s.dataMu.Unlock()
	if _, ok := t.s.entries[e.ID]; !ok {
		return store.ErrEntryNotFound
	}
	t.s.entries[e.ID] = e
	return nil
}

func (t *tx) AppendHistory(ctx context.Context, ev models.HistoryEvent) (models.HistoryEvent, error) {
	t.s.dataMu.Lock()
	defer t.s.dataMu.Unlock()
	existing := t.s.history[ev.EntryID]
	ev.Seq = len(existing) + 1
	prevHash := ""
	if len(existing) > 0 {
		prevHash = existing[len(existing)-1].Hash
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.PrevHash = prevHash
	ev.Hash = models.ComputeHistoryHash(ev)
	t.s.history[ev.EntryID] = append(existing, ev)
	return ev, nil
}

func (t *tx) LastVendorEvent(ctx context.Context, entryID string, since time.Time) (models.HistoryEvent, bool, error) {
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	events := t.s.history[entryID]
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Source != models.SourceVendor {
			continue
		}
		if ev.At.Before(since) {
			return models.HistoryEvent{}, false, nil
		}
		if ev.Action == models.ActionUndo {
			return models.HistoryEvent{}, false, nil
		}
		return ev, true, nil
	}
	return models.HistoryEvent{}, false, nil
}

func (t *tx) InsertOutboxEvent(ctx context.Context, ev models.OutboxEvent) error {
	t.s.dataMu.Lock()
	defer t.s.dataMu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	t.s.outbox = append(t.s.outbox, ev)
	return nil
}

func (t *tx) idemKey(requestID string) string { return t.businessID + ":" + requestID }

func (t *tx) FindIdempotent(ctx context.Context, requestID string) ([]byte, bool, error) {
	if requestID == "" {
		return nil, false, nil
	}
	t.s.dataMu.RLock()
	defer t.s.dataMu.RUnlock()
	v, ok := t.s.idempotent[t.idemKey(requestID)]
	return v, ok, nil
}

func (t *tx) SaveIdempotent(ctx context.Context, requestID string, payload []byte) error {
	if requestID == "" {
		return nil
	}
	t.s.dataMu.Lock()
	defer t.s.dataMu.Unlock()
	t.s.idempotent[t.idemKey(requestID)] = payload
	return nil
}
