package engine

import (
	"context"
	"time"

	"svcqueue/internal/identity"
	"svcqueue/internal/models"
	"svcqueue/internal/store"
)

type ApplyActionInput struct {
	EntryID   string
	Action    models.HistoryAction
	AddedTime int // only meaningful for add_time
	Principal identity.Principal
	RequestID string
}

var mutatingActions = map[models.HistoryAction]bool{
	models.ActionSkip:    true,
	models.ActionHold:    true,
	models.ActionUnhold:  true,
	models.ActionRemove:  true,
	models.ActionNext:    true,
	models.ActionAddTime: true,
}

// ApplyAction runs the single-entry action state machine described in the
// spec: authorization first, then the action's precondition and effect,
// inside a transaction scoped to the entry's business. A successful
// mutating action (or undo) triggers a restructure over the configured
// horizon once its own transaction has committed.
func (e *Engine) ApplyAction(ctx context.Context, in ApplyActionInput) (models.QueueEntry, error) {
	if in.EntryID == "" {
		return models.QueueEntry{}, invalid("entryId is required")
	}
	if in.Action != models.ActionUndo && !mutatingActions[in.Action] {
		return models.QueueEntry{}, invalid("unrecognized action %q", in.Action)
	}
	if in.Action == models.ActionAddTime && in.AddedTime <= 0 {
		return models.QueueEntry{}, invalid("addedTime must be > 0")
	}

	snap, err := e.store.GetEntrySnapshot(ctx, in.EntryID)
	if err != nil {
		return models.QueueEntry{}, classifyStoreErr(err)
	}

	var updated models.QueueEntry
	txErr := e.withBusinessTx(ctx, snap.BusinessID, func(tx store.Tx) error {
		if cached, found, cerr := tx.FindIdempotent(ctx, in.RequestID); cerr == nil && found {
			return decodeCached(cached, &updated)
		}

		entry, err := tx.GetEntryForUpdate(ctx, in.EntryID)
		if err != nil {
			return classifyStoreErr(err)
		}

		if err := e.authorizeAction(ctx, tx, entry, in); err != nil {
			return err
		}

		switch in.Action {
		case models.ActionUndo:
			updated, err = e.applyUndo(ctx, tx, entry, in)
		default:
			updated, err = e.applyMutation(ctx, tx, entry, in)
		}
		if err != nil {
			return err
		}

		if err := emitOutbox(ctx, tx, updated, "entry."+string(in.Action)); err != nil {
			return err
		}
		return saveIdempotentEntry(ctx, tx, in.RequestID, &updated)
	})
	if txErr != nil {
		return models.QueueEntry{}, txErr
	}

	if _, err := e.Restructure(ctx, snap.BusinessID, e.clock.Now(), e.clock.Now().Add(e.cfg.RestructureHorizon)); err != nil {
		// The action already committed; a failure to restructure is logged by
		// the caller via the returned error, but the entry mutation stands.
		return updated, err
	}
	return updated, nil
}

func (e *Engine) authorizeAction(ctx context.Context, tx store.Tx, entry models.QueueEntry, in ApplyActionInput) error {
	if in.Principal.Role == identity.RoleCustomer {
		if in.Action != models.ActionRemove {
			return forbidden("a customer principal may only apply the remove action")
		}
		if entry.UserRef.UserID != in.Principal.ID {
			return forbidden("a customer principal may only mutate their own entry")
		}
		return nil
	}
	if !isOwnerOrHelper(in.Principal) {
		return unauthorized("no recognized principal")
	}
	biz, err := tx.LockBusiness(ctx)
	if err != nil {
		return classifyStoreErr(err)
	}
	if biz.ID != entry.BusinessID {
		return forbidden("principal has no relationship to this business")
	}
	if in.Principal.ID == biz.OwnerID {
		return nil
	}
	h, err := tx.GetHelper(ctx, in.Principal.ID)
	if err != nil || !h.Participates() {
		return forbidden("helper is not an accepted and active helper of this business")
	}
	return nil
}

func (e *Engine) applyMutation(ctx context.Context, tx store.Tx, entry models.QueueEntry, in ApplyActionInput) (models.QueueEntry, error) {
	if !store.ValidTransition(in.Action, entry.Status) {
		return models.QueueEntry{}, failedPrecondition("action %q is not valid from status %q", in.Action, entry.Status)
	}

	now := e.clock.Now()
	event := models.HistoryEvent{EntryID: entry.ID, Action: in.Action, Source: models.SourceVendor, At: now}
	if in.Principal.Role == identity.RoleCustomer {
		event.Source = models.SourceUser
	}
	prevPos := entry.CurrentPosition
	event.PrevPosition = &prevPos

	var counterpart *models.QueueEntry

	switch in.Action {
	case models.ActionSkip:
		lane, err := tx.ListLiveEntriesInLane(ctx, entry.HelperID)
		if err != nil {
			return models.QueueEntry{}, classifyStoreErr(err)
		}
		var next *models.QueueEntry
		for i := range lane {
			cand := lane[i]
			if cand.Status == models.EntryInQueue && cand.CurrentPosition > entry.CurrentPosition {
				if next == nil || cand.CurrentPosition < next.CurrentPosition {
					c := cand
					next = &c
				}
			}
		}
		if next == nil {
			return models.QueueEntry{}, failedPrecondition("no successor entry in lane to skip with")
		}
		entry.CurrentPosition, next.CurrentPosition = next.CurrentPosition, entry.CurrentPosition
		counterpart = next
		newPos := entry.CurrentPosition
		event.NewPosition = &newPos
		event.CounterpartEntryID = &next.ID
		if err := e.recomputeWait(ctx, tx, &entry); err != nil {
			return models.QueueEntry{}, err
		}
		if err := e.recomputeWait(ctx, tx, counterpart); err != nil {
			return models.QueueEntry{}, err
		}

	case models.ActionHold:
		entry.Status = models.EntryHold

	case models.ActionUnhold:
		entry.Status = models.EntryInQueue

	case models.ActionRemove:
		entry.Status = models.EntryRemoved

	case models.ActionNext:
		if entry.CurrentPosition != 1 {
			return models.QueueEntry{}, failedPrecondition("next requires the entry to be at the head of its lane")
		}
		entry.Status = models.EntryComplete

	case models.ActionAddTime:
		added := in.AddedTime
		entry.AddedTimeTotal += added
		entry.EstWait += added
		entry.EstServiceStartTime = entry.EstServiceStartTime.Add(time.Duration(added) * time.Minute)
		event.AddedTime = &added
	}

	if counterpart != nil {
		if err := tx.UpdateEntry(ctx, *counterpart); err != nil {
			return models.QueueEntry{}, classifyStoreErr(err)
		}
	}

	estWait := entry.EstWait
	event.EstWait = &estWait
	newPos := entry.CurrentPosition
	if event.NewPosition == nil {
		event.NewPosition = &newPos
	}

	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return models.QueueEntry{}, classifyStoreErr(err)
	}
	if _, err := tx.AppendHistory(ctx, event); err != nil {
		return models.QueueEntry{}, classifyStoreErr(err)
	}
	return entry, nil
}

// recomputeWait applies P2: estWait = (currentPosition-1)*duration, plus
// the entry's own accumulated add_time overlays. Actions that change
// status but not position (hold, unhold, remove) leave the position term
// unchanged; position-changing actions (skip) recompute it here.
func (e *Engine) recomputeWait(ctx context.Context, tx store.Tx, entry *models.QueueEntry) error {
	svc, err := tx.GetService(ctx, entry.ServiceID)
	if err != nil {
		return classifyStoreErr(err)
	}
	entry.EstWait = (entry.CurrentPosition-1)*svc.Duration + entry.AddedTimeTotal
	entry.EstServiceStartTime = e.clock.Now().Add(time.Duration(entry.EstWait) * time.Minute)
	return nil
}

// applyUndo inverts the most recent vendor-sourced, undoable event on this
// entry if it falls within the configured undo window. Undo itself is
// vendor-sourced and not undoable.
func (e *Engine) applyUndo(ctx context.Context, tx store.Tx, entry models.QueueEntry, in ApplyActionInput) (models.QueueEntry, error) {
	if !isOwnerOrHelper(in.Principal) {
		return models.QueueEntry{}, forbidden("only a vendor-side principal may undo")
	}
	since := e.clock.Now().Add(-e.cfg.UndoWindow)
	last, ok, err := tx.LastVendorEvent(ctx, entry.ID, since)
	if err != nil {
		return models.QueueEntry{}, classifyStoreErr(err)
	}
	if !ok {
		return models.QueueEntry{}, failedPrecondition("no undoable event within the undo window")
	}

	now := e.clock.Now()
	undoEvent := models.HistoryEvent{EntryID: entry.ID, Action: models.ActionUndo, Source: models.SourceVendor, At: now}
	prevPos := entry.CurrentPosition
	undoEvent.PrevPosition = &prevPos

	switch last.Action {
	case models.ActionSkip:
		if last.CounterpartEntryID == nil || last.PrevPosition == nil || last.NewPosition == nil {
			return models.QueueEntry{}, failedPrecondition("recorded skip event is missing swap details")
		}
		counterpart, err := tx.GetEntryForUpdate(ctx, *last.CounterpartEntryID)
		if err != nil {
			return models.QueueEntry{}, classifyStoreErr(err)
		}
		if !counterpart.IsLive() || counterpart.CurrentPosition != *last.PrevPosition {
			return models.QueueEntry{}, failedPrecondition("cannot undo skip: counterpart entry no longer holds the swapped position")
		}
		entry.CurrentPosition = *last.PrevPosition
		counterpart.CurrentPosition = *last.NewPosition
		if err := e.recomputeWait(ctx, tx, &entry); err != nil {
			return models.QueueEntry{}, err
		}
		if err := e.recomputeWait(ctx, tx, &counterpart); err != nil {
			return models.QueueEntry{}, err
		}
		if err := tx.UpdateEntry(ctx, counterpart); err != nil {
			return models.QueueEntry{}, classifyStoreErr(err)
		}

	case models.ActionHold:
		entry.Status = models.EntryInQueue

	case models.ActionUnhold:
		entry.Status = models.EntryHold

	case models.ActionRemove:
		entry.Status = models.EntryInQueue
		if last.PrevPosition != nil {
			entry.CurrentPosition = *last.PrevPosition
		}

	case models.ActionNext:
		entry.Status = models.EntryInQueue
		if last.PrevPosition != nil {
			entry.CurrentPosition = *last.PrevPosition
		}

	case models.ActionAddTime:
		if last.AddedTime == nil {
			return models.QueueEntry{}, failedPrecondition("recorded add_time event is missing its amount")
		}
		entry.AddedTimeTotal -= *last.AddedTime
		entry.EstWait -= *last.AddedTime
		entry.EstServiceStartTime = entry.EstServiceStartTime.Add(-time.Duration(*last.AddedTime) * time.Minute)

	default:
		return models.QueueEntry{}, failedPrecondition("event %q is not undoable", last.Action)
	}

	newPos := entry.CurrentPosition
	undoEvent.NewPosition = &newPos
	estWait := entry.EstWait
	undoEvent.EstWait = &estWait

	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return models.QueueEntry{}, classifyStoreErr(err)
	}
	if _, err := tx.AppendHistory(ctx, undoEvent); err != nil {
		return models.QueueEntry{}, classifyStoreErr(err)
	}
	return entry, nil
}

func saveIdempotentEntry(ctx context.Context, tx store.Tx, requestID string, entry *models.QueueEntry) error {
	if requestID == "" {
		return nil
	}
	encoded, err := encodeCached(entry)
	if err != nil {
		return internal(err, "encode idempotent result")
	}
	return classifyIfErr(tx.SaveIdempotent(ctx, requestID, encoded))
}
