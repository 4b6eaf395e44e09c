package engine

import (
	"context"

	"svcqueue/internal/identity"
	"svcqueue/internal/models"
	"svcqueue/internal/notify"
	"svcqueue/internal/store"
)

type SetBreakInput struct {
	BusinessID string
	HelperID   string // empty means business-wide
	Reason     string
	Principal  identity.Principal
	RequestID  string
}

// SetBreak pauses scheduling participation, business-wide or for one
// helper, notifies affected normal users, and restructures so that
// flexible entries in a paused helper's lane migrate.
func (e *Engine) SetBreak(ctx context.Context, in SetBreakInput) error {
	return e.applyBreakFlag(ctx, in, false)
}

// ResumeBreak is the inverse of SetBreak; it always restructures after
// flipping the participation flag back on.
func (e *Engine) ResumeBreak(ctx context.Context, in SetBreakInput) error {
	return e.applyBreakFlag(ctx, in, true)
}

func (e *Engine) applyBreakFlag(ctx context.Context, in SetBreakInput, resume bool) error {
	if in.BusinessID == "" {
		return invalid("businessId is required")
	}
	if !isOwnerOrHelper(in.Principal) {
		return forbidden("only an owner or helper may set or resume a break")
	}

	var intents []notify.Intent
	err := e.withBusinessTx(ctx, in.BusinessID, func(tx store.Tx) error {
		biz, err := tx.LockBusiness(ctx)
		if err != nil {
			return classifyStoreErr(err)
		}
		if biz.ID != in.BusinessID {
			return notFound("business not found")
		}
		if in.Principal.ID != biz.OwnerID {
			if in.HelperID == "" {
				return forbidden("only the owner may set or resume a business-wide break")
			}
			h, herr := tx.GetHelper(ctx, in.Principal.ID)
			if herr != nil {
				return forbidden("principal has no relationship to this business")
			}
			if in.HelperID != h.HelperID {
				return forbidden("a helper may only set their own break")
			}
		}

		var affected []models.QueueEntry
		if in.HelperID == "" {
			if err := tx.SetBusinessActive(ctx, resume); err != nil {
				return classifyStoreErr(err)
			}
			helpers, herr := tx.ListHelpers(ctx)
			if herr != nil {
				return classifyStoreErr(herr)
			}
			for _, h := range helpers {
				lane, lerr := tx.ListLiveEntriesInLane(ctx, h.HelperID)
				if lerr != nil {
					return classifyStoreErr(lerr)
				}
				affected = append(affected, lane...)
			}
		} else {
			if err := tx.SetHelperActive(ctx, in.HelperID, resume); err != nil {
				return classifyStoreErr(err)
			}
			lane, lerr := tx.ListLiveEntriesInLane(ctx, in.HelperID)
			if lerr != nil {
				return classifyStoreErr(lerr)
			}
			affected = lane
		}

		title := "Queue resumed"
		body := "The queue has resumed."
		if !resume {
			title = "Queue paused"
			body = "The queue is temporarily paused."
		}
		for _, entry := range affected {
			if entry.UserRef.IsManual() {
				continue
			}
			u, uerr := tx.GetRegisteredUser(ctx, entry.UserRef.UserID)
			if uerr != nil || u.PushToken == "" || !u.ReceiveNotifications {
				continue
			}
			intents = append(intents, notify.Intent{
				PushToken: u.PushToken,
				Title:     title,
				Body:      body,
				Data:      map[string]string{"type": "break", "businessId": in.BusinessID},
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(intents) > 0 {
		e.notifier.Enqueue(intents)
	}

	now := e.clock.Now()
	_, rerr := e.Restructure(ctx, in.BusinessID, now, now.Add(e.cfg.RestructureHorizon))
	return rerr
}
