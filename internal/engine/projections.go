package engine

import (
	"context"
	"time"

	"svcqueue/internal/identity"
	"svcqueue/internal/models"
	"svcqueue/internal/store"
)

type HelperQueueResult struct {
	Entries []models.QueueEntry
	Counts  map[models.EntryStatus]int
}

// HelperQueue is a snapshot read; it may observe briefly-stale positions
// relative to an in-flight restructure, which the spec's concurrency model
// accepts for projection consumers.
func (e *Engine) HelperQueue(ctx context.Context, helperID string, t0, t1 time.Time) (HelperQueueResult, error) {
	entries, err := e.store.HelperQueueSnapshot(ctx, helperID, t0, t1)
	if err != nil {
		return HelperQueueResult{}, classifyStoreErr(err)
	}
	counts := make(map[models.EntryStatus]int)
	for _, en := range entries {
		counts[en.Status]++
	}
	return HelperQueueResult{Entries: entries, Counts: counts}, nil
}

func (e *Engine) HelperWaitTimes(ctx context.Context, businessID string) ([]store.HelperWait, error) {
	waits, err := e.store.HelperWaitTimesSnapshot(ctx, businessID)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return waits, nil
}

// RecentHelperActions returns vendor-sourced events within the undo window
// across the helper's live entries, excluding undo, newest first, capped
// at 10 regardless of the caller-requested limit.
func (e *Engine) RecentHelperActions(ctx context.Context, helperID string, limit int) ([]models.HistoryEvent, error) {
	if limit <= 0 || limit > 10 {
		limit = 10
	}
	since := e.clock.Now().Add(-e.cfg.UndoWindow)
	events, err := e.store.RecentHelperActionsSnapshot(ctx, helperID, since, limit)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return events, nil
}

func (e *Engine) UserQueueHistory(ctx context.Context, userID string, t0, t1 time.Time) ([]models.QueueEntry, error) {
	entries, err := e.store.UserQueueHistorySnapshot(ctx, userID, t0, t1)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return entries, nil
}

func (e *Engine) BusinessQueueHistory(ctx context.Context, businessID string, t0, t1 time.Time, helperID string) ([]models.QueueEntry, error) {
	entries, err := e.store.BusinessQueueHistorySnapshot(ctx, businessID, t0, t1, helperID)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return entries, nil
}

type UpdateRatingInput struct {
	EntryID   string
	Rating    int
	Notes     string
	Principal identity.Principal
}

// UpdateRating may only be applied once, to an entry that has already
// completed. It is not a scheduling mutation and does not trigger a
// restructure.
func (e *Engine) UpdateRating(ctx context.Context, in UpdateRatingInput) (models.QueueEntry, error) {
	if in.Rating < 0 || in.Rating > 5 {
		return models.QueueEntry{}, invalid("rating must be between 0 and 5")
	}
	snap, err := e.store.GetEntrySnapshot(ctx, in.EntryID)
	if err != nil {
		return models.QueueEntry{}, classifyStoreErr(err)
	}

	var updated models.QueueEntry
	txErr := e.withBusinessTx(ctx, snap.BusinessID, func(tx store.Tx) error {
		entry, err := tx.GetEntryForUpdate(ctx, in.EntryID)
		if err != nil {
			return classifyStoreErr(err)
		}
		if in.Principal.Role == identity.RoleCustomer && entry.UserRef.UserID != in.Principal.ID {
			return forbidden("a customer principal may only rate their own entry")
		}
		if entry.Status != models.EntryComplete {
			return failedPrecondition("rating may only be set once an entry has completed")
		}
		if entry.Rating != nil {
			return failedPrecondition("rating is already set")
		}
		rating := in.Rating
		entry.Rating = &rating
		entry.Notes = in.Notes
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return classifyStoreErr(err)
		}
		updated = entry
		return nil
	})
	if txErr != nil {
		return models.QueueEntry{}, txErr
	}
	return updated, nil
}

type AddManualCustomerInput struct {
	BusinessID string
	Name       string
	Phone      string
	Gender     models.Gender
	Principal  identity.Principal
}

func (e *Engine) AddManualCustomer(ctx context.Context, in AddManualCustomerInput) (models.ManualCustomer, error) {
	if in.BusinessID == "" || in.Name == "" {
		return models.ManualCustomer{}, invalid("businessId and name are required")
	}
	if !isOwnerOrHelper(in.Principal) {
		return models.ManualCustomer{}, forbidden("only an owner or helper may add a manual customer")
	}
	var created models.ManualCustomer
	err := e.withBusinessTx(ctx, in.BusinessID, func(tx store.Tx) error {
		m, err := tx.CreateManualCustomer(ctx, models.ManualCustomer{
			BusinessID: in.BusinessID, Name: in.Name, Phone: in.Phone, Gender: in.Gender,
		})
		if err != nil {
			return classifyStoreErr(err)
		}
		created = m
		return nil
	})
	if err != nil {
		return models.ManualCustomer{}, err
	}
	return created, nil
}

func (e *Engine) SearchManualCustomers(ctx context.Context, businessID, name, phone string) ([]models.ManualCustomer, error) {
	out, err := e.store.SearchManualCustomers(ctx, businessID, name, phone)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return out, nil
}
