package engine_test

import (
	"context"
	"testing"
	"time"

	"svcqueue/internal/engine"
	"svcqueue/internal/identity"
	"svcqueue/internal/models"
)

func mustEnqueue(t *testing.T, eng *engine.Engine, helperID string) models.QueueEntry {
	t.Helper()
	result, err := eng.Enqueue(context.Background(), engine.EnqueueInput{
		BusinessID: "biz1",
		Principal:  identity.Principal{ID: "user1", Role: identity.RoleCustomer},
		UserType:   "normal",
		Items: []engine.LineItem{
			{ServiceID: "svc1", Gender: models.GenderMale, Preference: models.PreferenceSpecific, HelperID: helperID},
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return result.Entries[0]
}

var ownerPrincipal = identity.Principal{ID: "owner1", Role: identity.RoleOwnerOrHelper}

func TestApplyActionHoldThenUnhold(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedBasicBusiness(st)
	entry := mustEnqueue(t, eng, "h1")

	held, err := eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: entry.ID, Action: models.ActionHold, Principal: ownerPrincipal,
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.Status != models.EntryHold {
		t.Fatalf("expected status hold, got %s", held.Status)
	}

	unheld, err := eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: entry.ID, Action: models.ActionUnhold, Principal: ownerPrincipal,
	})
	if err != nil {
		t.Fatalf("unhold: %v", err)
	}
	if unheld.Status != models.EntryInQueue {
		t.Fatalf("expected status in_queue, got %s", unheld.Status)
	}
}

func TestApplyActionCustomerCanOnlyRemoveOwnEntry(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedBasicBusiness(st)
	entry := mustEnqueue(t, eng, "h1")

	_, err := eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: entry.ID, Action: models.ActionHold, Principal: identity.Principal{ID: "user1", Role: identity.RoleCustomer},
	})
	engErr, ok := err.(*engine.Error)
	if !ok || engErr.Kind != engine.KindForbidden {
		t.Fatalf("expected Forbidden for customer attempting hold, got %v", err)
	}

	removed, err := eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: entry.ID, Action: models.ActionRemove, Principal: identity.Principal{ID: "user1", Role: identity.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Status != models.EntryRemoved {
		t.Fatalf("expected status removed, got %s", removed.Status)
	}
}

func TestApplyActionNextRequiresHeadPosition(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedBasicBusiness(st)
	first := mustEnqueue(t, eng, "h1")
	second := mustEnqueue(t, eng, "h1")

	_, err := eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: second.ID, Action: models.ActionNext, Principal: ownerPrincipal,
	})
	engErr, ok := err.(*engine.Error)
	if !ok || engErr.Kind != engine.KindFailedPrecondition {
		t.Fatalf("expected FailedPrecondition for non-head next, got %v", err)
	}

	completed, err := eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: first.ID, Action: models.ActionNext, Principal: ownerPrincipal,
	})
	if err != nil {
		t.Fatalf("next on head: %v", err)
	}
	if completed.Status != models.EntryComplete {
		t.Fatalf("expected status completed, got %s", completed.Status)
	}
}

func TestApplyActionUndoRevertsSkipWithinWindow(t *testing.T) {
	eng, st, fc := newTestEngine(t)
	seedBasicBusiness(st)
	first := mustEnqueue(t, eng, "h1")
	_ = mustEnqueue(t, eng, "h1")

	skipped, err := eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: first.ID, Action: models.ActionSkip, Principal: ownerPrincipal,
	})
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if skipped.CurrentPosition != 2 {
		t.Fatalf("expected skip to move entry to position 2, got %d", skipped.CurrentPosition)
	}

	undone, err := eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: first.ID, Action: models.ActionUndo, Principal: ownerPrincipal,
	})
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if undone.CurrentPosition != 1 {
		t.Fatalf("expected undo to restore position 1, got %d", undone.CurrentPosition)
	}

	fc.Advance(6 * time.Minute) // past the 5 minute undo window
	_, err = eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: first.ID, Action: models.ActionUndo, Principal: ownerPrincipal,
	})
	engErr, ok := err.(*engine.Error)
	if !ok || engErr.Kind != engine.KindFailedPrecondition {
		t.Fatalf("expected FailedPrecondition after the undo window elapses, got %v", err)
	}
}

func TestApplyActionAddTimeAccumulates(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedBasicBusiness(st)
	entry := mustEnqueue(t, eng, "h1")

	updated, err := eng.ApplyAction(context.Background(), engine.ApplyActionInput{
		EntryID: entry.ID, Action: models.ActionAddTime, AddedTime: 10, Principal: ownerPrincipal,
	})
	if err != nil {
		t.Fatalf("add_time: %v", err)
	}
	if updated.AddedTimeTotal != 10 {
		t.Fatalf("expected addedTimeTotal 10, got %d", updated.AddedTimeTotal)
	}
}
