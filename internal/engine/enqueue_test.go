package engine_test

import (
	"context"
	"testing"
	"time"

	"svcqueue/internal/clock"
	"svcqueue/internal/engine"
	"svcqueue/internal/identity"
	"svcqueue/internal/models"
	"svcqueue/internal/notify"
	"svcqueue/internal/store/memstore"
)

func newTestEngine(t *testing.T) (*engine.Engine, *memstore.Store, *clock.Fake) {
	t.Helper()
	st := memstore.New()
	fc := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	n := notify.New(notify.NewProvider("noop", ""), 1)
	t.Cleanup(n.Close)
	return engine.New(st, fc, n, engine.DefaultConfig()), st, fc
}

func seedBasicBusiness(st *memstore.Store) {
	st.SeedBusiness(models.Business{ID: "biz1", OwnerID: "owner1", Active: true})
	st.SeedHelper(models.Helper{BusinessID: "biz1", HelperID: "h1", Status: models.HelperAccepted, Active: true, Services: map[string]bool{"svc1": true}})
	st.SeedHelper(models.Helper{BusinessID: "biz1", HelperID: "h2", Status: models.HelperAccepted, Active: true, Services: map[string]bool{"svc1": true}})
	st.SeedService(models.Service{ID: "svc1", BusinessID: "biz1", Name: "Haircut", Duration: 20, Price: 25})
	st.SeedUser(models.RegisteredUser{UserID: "user1", Active: true})
}

func TestEnqueueAssignsLeastLoadedHelper(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedBasicBusiness(st)

	result, err := eng.Enqueue(context.Background(), engine.EnqueueInput{
		BusinessID: "biz1",
		Principal:  identity.Principal{ID: "user1", Role: identity.RoleCustomer},
		UserType:   "normal",
		Items: []engine.LineItem{
			{ServiceID: "svc1", Gender: models.GenderMale, Preference: models.PreferenceAny},
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
	entry := result.Entries[0]
	if entry.CurrentPosition != 1 || entry.JoiningPosition != 1 {
		t.Fatalf("expected position 1, got current=%d joining=%d", entry.CurrentPosition, entry.JoiningPosition)
	}
	if entry.EstWait != 0 {
		t.Fatalf("expected estWait 0 for an empty lane, got %d", entry.EstWait)
	}
}

func TestEnqueueRejectsUnknownService(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedBasicBusiness(st)

	_, err := eng.Enqueue(context.Background(), engine.EnqueueInput{
		BusinessID: "biz1",
		Principal:  identity.Principal{ID: "user1", Role: identity.RoleCustomer},
		UserType:   "normal",
		Items: []engine.LineItem{
			{ServiceID: "does-not-exist", Gender: models.GenderMale, Preference: models.PreferenceAny},
		},
	})
	engErr, ok := err.(*engine.Error)
	if !ok || engErr.Kind != engine.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestEnqueueIsIdempotentOnRequestID(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedBasicBusiness(st)

	in := engine.EnqueueInput{
		BusinessID: "biz1",
		Principal:  identity.Principal{ID: "user1", Role: identity.RoleCustomer},
		UserType:   "normal",
		Items: []engine.LineItem{
			{ServiceID: "svc1", Gender: models.GenderMale, Preference: models.PreferenceAny},
		},
		RequestID: "req-1",
	}

	first, err := eng.Enqueue(context.Background(), in)
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	second, err := eng.Enqueue(context.Background(), in)
	if err != nil {
		t.Fatalf("replayed Enqueue: %v", err)
	}
	if first.Entries[0].ID != second.Entries[0].ID {
		t.Fatalf("expected replay to return the same entry id")
	}
}

func TestEnqueueSpecificPreferencePinsHelper(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedBasicBusiness(st)

	result, err := eng.Enqueue(context.Background(), engine.EnqueueInput{
		BusinessID: "biz1",
		Principal:  identity.Principal{ID: "user1", Role: identity.RoleCustomer},
		UserType:   "normal",
		Items: []engine.LineItem{
			{ServiceID: "svc1", Gender: models.GenderMale, Preference: models.PreferenceSpecific, HelperID: "h2"},
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if result.Entries[0].HelperID != "h2" {
		t.Fatalf("expected pinned helper h2, got %s", result.Entries[0].HelperID)
	}
}
