package engine_test

import (
	"context"
	"testing"
	"time"

	"svcqueue/internal/engine"
	"svcqueue/internal/identity"
	"svcqueue/internal/models"
)

func enqueueAny(t *testing.T, eng *engine.Engine) models.QueueEntry {
	t.Helper()
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
	return result.Entries[0]
}

func TestRestructureBalancesFlexibleEntriesAcrossLanes(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	seedBasicBusiness(st)

	for i := 0; i < 4; i++ {
		enqueueAny(t, eng)
	}

	result, err := eng.Restructure(context.Background(), "biz1", fc.Now().Add(-time.Hour), fc.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Restructure: %v", err)
	}
	if result.ActiveHelpers != 2 {
		t.Fatalf("expected 2 active helpers, got %d", result.ActiveHelpers)
	}

	t0, t1 := fc.Now().Add(-time.Hour), fc.Now().Add(time.Hour)
	h1Lane, err := st.HelperQueueSnapshot(context.Background(), "h1", t0, t1)
	if err != nil {
		t.Fatalf("h1 lane: %v", err)
	}
	h2Lane, err := st.HelperQueueSnapshot(context.Background(), "h2", t0, t1)
	if err != nil {
		t.Fatalf("h2 lane: %v", err)
	}
	if len(h1Lane) != 2 || len(h2Lane) != 2 {
		t.Fatalf("expected an even 2/2 split, got h1=%d h2=%d", len(h1Lane), len(h2Lane))
	}
}

func TestRestructureIsIdempotent(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	seedBasicBusiness(st)

	for i := 0; i < 3; i++ {
		enqueueAny(t, eng)
	}

	window := func() (time.Time, time.Time) { return fc.Now().Add(-time.Hour), fc.Now().Add(time.Hour) }

	t0, t1 := window()
	if _, err := eng.Restructure(context.Background(), "biz1", t0, t1); err != nil {
		t.Fatalf("first restructure: %v", err)
	}

	t0, t1 = window()
	second, err := eng.Restructure(context.Background(), "biz1", t0, t1)
	if err != nil {
		t.Fatalf("second restructure: %v", err)
	}
	if second.UpdatedCount != 0 {
		t.Fatalf("expected zero updates on a repeat restructure, got %d", second.UpdatedCount)
	}
}

func TestRestructureReassignsEntriesWhenHelperGoesOnBreak(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	seedBasicBusiness(st)

	first := enqueueAny(t, eng)
	_ = enqueueAny(t, eng)

	if err := eng.SetBreak(context.Background(), engine.SetBreakInput{
		BusinessID: "biz1",
		HelperID:   first.HelperID,
		Principal:  identity.Principal{ID: "owner1", Role: identity.RoleOwnerOrHelper},
	}); err != nil {
		t.Fatalf("SetBreak: %v", err)
	}

	otherHelper := "h1"
	if first.HelperID == "h1" {
		otherHelper = "h2"
	}
	lane, err := st.HelperQueueSnapshot(context.Background(), otherHelper, fc.Now().Add(-time.Hour), fc.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("lane: %v", err)
	}
	for _, e := range lane {
		if e.ID == first.ID {
			return
		}
	}
	t.Fatalf("expected entry %s to migrate to helper %s after %s went on break", first.ID, otherHelper, first.HelperID)
}

func TestRestructurePausesQueueWhenNoHelpersParticipate(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	seedBasicBusiness(st)
	_ = enqueueAny(t, eng)

	if err := eng.SetBreak(context.Background(), engine.SetBreakInput{
		BusinessID: "biz1",
		Principal:  identity.Principal{ID: "owner1", Role: identity.RoleOwnerOrHelper},
	}); err != nil {
		t.Fatalf("SetBreak (business-wide): %v", err)
	}

	result, err := eng.Restructure(context.Background(), "biz1", fc.Now().Add(-time.Hour), fc.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Restructure: %v", err)
	}
	if result.ActiveHelpers != 0 {
		t.Fatalf("expected zero active helpers once business is paused, got %d", result.ActiveHelpers)
	}
}
