package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"svcqueue/internal/identity"
	"svcqueue/internal/models"
	"svcqueue/internal/store"
)

type LineItem struct {
	ServiceID  string
	Gender     models.Gender
	Preference models.Preference
	HelperID   string // required when Preference == SPECIFIC
}

type EnqueueInput struct {
	BusinessID string
	Principal  identity.Principal
	UserType   string // "normal" or "manual"
	ManualID   string
	Items      []LineItem
	RequestID  string
}

type EnqueueResult struct {
	Entries []models.QueueEntry
}

// Enqueue creates one queue entry per line item in a single transaction
// that either creates every requested entry or none, per the spec's
// enqueue component.
func (e *Engine) Enqueue(ctx context.Context, in EnqueueInput) (EnqueueResult, error) {
	if in.BusinessID == "" {
		return EnqueueResult{}, invalid("businessId is required")
	}
	if len(in.Items) == 0 {
		return EnqueueResult{}, invalid("services must be a non-empty list")
	}
	switch in.UserType {
	case "normal":
		if in.ManualID != "" {
			return EnqueueResult{}, invalid("manualId must be absent for a normal enqueue")
		}
		if in.Principal.Role != identity.RoleCustomer {
			return EnqueueResult{}, forbidden("only a customer principal may enqueue as userType=normal")
		}
	case "manual":
		if in.ManualID == "" {
			return EnqueueResult{}, invalid("manualId is required for a manual enqueue")
		}
		if !isOwnerOrHelper(in.Principal) {
			return EnqueueResult{}, forbidden("only an owner or helper may enqueue a manual customer")
		}
	default:
		return EnqueueResult{}, invalid("userType must be \"normal\" or \"manual\"")
	}
	for i, item := range in.Items {
		if item.ServiceID == "" {
			return EnqueueResult{}, invalid("services[%d].serviceId is required", i)
		}
		switch item.Preference {
		case models.PreferenceAny:
		case models.PreferenceSpecific:
			if item.HelperID == "" {
				return EnqueueResult{}, invalid("services[%d].helperId is required when preference=SPECIFIC", i)
			}
		default:
			return EnqueueResult{}, invalid("services[%d].preference must be ANY or SPECIFIC", i)
		}
	}

	var result EnqueueResult
	err := e.withBusinessTx(ctx, in.BusinessID, func(tx store.Tx) error {
		if cached, found, cerr := tx.FindIdempotent(ctx, in.RequestID); cerr == nil && found {
			return replayEnqueue(cached, &result)
		}

		biz, err := tx.LockBusiness(ctx)
		if err != nil {
			return classifyStoreErr(err)
		}
		if biz.Deleted || biz.Suspended {
			return notFound("business not found")
		}
		if !biz.Active {
			return failedPrecondition("business is on break")
		}

		var userRef models.UserRef
		if in.UserType == "normal" {
			u, err := tx.GetRegisteredUser(ctx, in.Principal.ID)
			if err != nil {
				return classifyStoreErr(err)
			}
			if u.Deleted {
				return notFound("registered user not found")
			}
			if u.Suspended || !u.Active {
				return failedPrecondition("registered user is suspended or inactive")
			}
			userRef = models.UserRef{UserID: u.UserID}
		} else {
			m, err := tx.GetManualCustomer(ctx, in.ManualID)
			if err != nil {
				return classifyStoreErr(err)
			}
			userRef = models.UserRef{ManualID: m.ManualID}
		}

		helpers, err := tx.ListHelpers(ctx)
		if err != nil {
			return classifyStoreErr(err)
		}
		helperByID := make(map[string]models.Helper, len(helpers))
		for _, h := range helpers {
			helperByID[h.HelperID] = h
		}

		entries := make([]models.QueueEntry, 0, len(in.Items))
		for _, item := range in.Items {
			svc, err := tx.GetService(ctx, item.ServiceID)
			if err != nil {
				return classifyStoreErr(err)
			}
			if svc.Deleted || svc.BusinessID != in.BusinessID {
				return notFound("service not found")
			}
			if len(svc.AllowedGenders) > 0 && !svc.AllowedGenders[item.Gender] {
				return invalid("service does not allow the requested gender")
			}

			var helperID string
			switch item.Preference {
			case models.PreferenceSpecific:
				h, ok := helperByID[item.HelperID]
				if !ok {
					return notFound("helper not found")
				}
				if !h.Participates() {
					return failedPrecondition("helper is not accepted and active")
				}
				if !h.Capable(svc.ID) {
					return failedPrecondition("helper cannot perform the requested service")
				}
				helperID = h.HelperID
			case models.PreferenceAny:
				best := ""
				bestCount := -1
				for _, h := range helpers {
					if !h.Participates() || !h.Capable(svc.ID) {
						continue
					}
					n, err := tx.CountLiveEntriesInLane(ctx, h.HelperID)
					if err != nil {
						return classifyStoreErr(err)
					}
					if bestCount == -1 || n < bestCount || (n == bestCount && h.HelperID < best) {
						best, bestCount = h.HelperID, n
					}
				}
				if best == "" {
					return failedPrecondition("no capable helper is currently active")
				}
				helperID = best
			}

			k, err := tx.CountLiveEntriesInLane(ctx, helperID)
			if err != nil {
				return classifyStoreErr(err)
			}
			now := e.clock.Now()
			estWait := k * svc.Duration
			entry := models.QueueEntry{
				ID:                  uuid.NewString(),
				BusinessID:          in.BusinessID,
				HelperID:            helperID,
				UserRef:             userRef,
				ServiceID:           svc.ID,
				Gender:              item.Gender,
				Preference:          item.Preference,
				JoiningPosition:     k + 1,
				CurrentPosition:     k + 1,
				JoiningTime:         now,
				EstServiceStartTime: now.Add(time.Duration(estWait) * time.Minute),
				EstWait:             estWait,
				Status:              models.EntryInQueue,
				Total:               svc.Price,
			}
			inserted, err := tx.InsertEntry(ctx, entry)
			if err != nil {
				return classifyStoreErr(err)
			}
			if err := emitOutbox(ctx, tx, inserted, "entry.created"); err != nil {
				return err
			}
			entries = append(entries, inserted)
			// No separate in-loop count is kept: the next item's
			// CountLiveEntriesInLane reads through this same transaction and
			// already sees this insertion.
		}

		result.Entries = entries
		return saveIdempotent(ctx, tx, in.RequestID, &result)
	})
	if err != nil {
		return EnqueueResult{}, err
	}
	return result, nil
}

func emitOutbox(ctx context.Context, tx store.Tx, e models.QueueEntry, eventType string) error {
	payload := fmt.Sprintf(`{"entryId":%q,"businessId":%q,"helperId":%q,"status":%q,"position":%d,"estWait":%d}`,
		e.ID, e.BusinessID, e.HelperID, e.Status, e.CurrentPosition, e.EstWait)
	return classifyIfErr(tx.InsertOutboxEvent(ctx, models.OutboxEvent{
		BusinessID: e.BusinessID,
		EntryID:    e.ID,
		Type:       eventType,
		Payload:    []byte(payload),
	}))
}

func classifyIfErr(err error) error {
	if err == nil {
		return nil
	}
	return classifyStoreErr(err)
}

func replayEnqueue(cached []byte, out *EnqueueResult) error {
	return decodeCached(cached, out)
}

func saveIdempotent(ctx context.Context, tx store.Tx, requestID string, result *EnqueueResult) error {
	if requestID == "" {
		return nil
	}
	encoded, err := encodeCached(result)
	if err != nil {
		return internal(err, "encode idempotent result")
	}
	return classifyIfErr(tx.SaveIdempotent(ctx, requestID, encoded))
}
