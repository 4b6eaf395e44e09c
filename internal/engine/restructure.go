package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"svcqueue/internal/models"
	"svcqueue/internal/notify"
	"svcqueue/internal/store"
)

type RestructureResult struct {
	UpdatedCount      int
	NotificationsSent int
	ActiveHelpers     int
	TotalQueues       int
}

type laneClass int

const (
	classHead laneClass = iota
	classSpecific
	classHold
	classFlexible
)

type classified struct {
	entry            models.QueueEntry
	class            laneClass
	oldHelper        string
	oldPos           int
	oldEstWait       int
	helperCandidates []models.Helper // only set for classFlexible
}

// Restructure is the FCFS balancer: the algorithm that reassigns entries
// to helpers and repacks lane positions whenever the set of active helpers
// or the membership of a lane changes. It runs in a single transaction and
// is idempotent — running it twice back to back produces zero additional
// updates the second time, because the classification and bucket-ordering
// rules are pure functions of committed state.
func (e *Engine) Restructure(ctx context.Context, businessID string, t0, t1 time.Time) (RestructureResult, error) {
	var result RestructureResult
	var intents []notify.Intent

	err := e.withBusinessTx(ctx, businessID, func(tx store.Tx) error {
		biz, err := tx.LockBusiness(ctx)
		if err != nil {
			return classifyStoreErr(err)
		}
		if !biz.Active {
			return nil
		}

		helpers, err := tx.ListHelpers(ctx)
		if err != nil {
			return classifyStoreErr(err)
		}
		activeHelpers := make(map[string]models.Helper)
		for _, h := range helpers {
			if h.Participates() {
				activeHelpers[h.HelperID] = h
			}
		}
		result.ActiveHelpers = len(activeHelpers)

		entries, err := tx.ListEntriesInWindow(ctx, t0, t1)
		if err != nil {
			return classifyStoreErr(err)
		}
		if len(activeHelpers) == 0 {
			users, cerr := collectNormalUsers(ctx, tx, entries)
			if cerr != nil {
				return cerr
			}
			for _, u := range users {
				intents = append(intents, notify.Intent{
					PushToken: u.PushToken,
					Title:     "Queue paused",
					Body:      "The queue is temporarily paused. You will be notified when it resumes.",
					Data:      map[string]string{"type": "queue_paused", "businessId": businessID},
				})
			}
			return nil
		}

		byService := make(map[string][]models.QueueEntry)
		for _, entry := range entries {
			byService[entry.ServiceID] = append(byService[entry.ServiceID], entry)
		}
		services := make([]string, 0, len(byService))
		for svcID := range byService {
			services = append(services, svcID)
		}
		sort.Strings(services)

		buckets := make(map[string][]*classified)
		var flexibles []*classified

		for _, svcID := range services {
			group := byService[svcID]
			capable := make([]models.Helper, 0)
			for _, h := range activeHelpers {
				if h.Capable(svcID) {
					capable = append(capable, h)
				}
			}
			if len(capable) == 0 {
				continue
			}
			sort.Slice(capable, func(i, j int) bool { return capable[i].HelperID < capable[j].HelperID })
			capableSet := make(map[string]bool, len(capable))
			for _, h := range capable {
				capableSet[h.HelperID] = true
			}

			for _, entry := range group {
				c := &classified{entry: entry, oldHelper: entry.HelperID, oldPos: entry.CurrentPosition, oldEstWait: entry.EstWait}
				switch {
				case entry.CurrentPosition == 1 && entry.Status == models.EntryInQueue:
					c.class = classHead
					target := entry.HelperID
					if !capableSet[target] {
						target = capable[0].HelperID
					}
					c.entry.HelperID = target
					buckets[target] = append(buckets[target], c)
				case entry.Preference == models.PreferenceSpecific && capableSet[entry.HelperID]:
					c.class = classSpecific
					buckets[entry.HelperID] = append(buckets[entry.HelperID], c)
				case entry.Status == models.EntryHold:
					c.class = classHold
					target := entry.HelperID
					if !capableSet[target] {
						target = capable[0].HelperID
					}
					c.entry.HelperID = target
					buckets[target] = append(buckets[target], c)
				default:
					c.class = classFlexible
					c.helperCandidates = capable
					flexibles = append(flexibles, c)
				}
			}
		}

		sort.Slice(flexibles, func(i, j int) bool {
			return flexibles[i].entry.JoiningTime.Before(flexibles[j].entry.JoiningTime)
		})
		for _, c := range flexibles {
			best := ""
			bestSize := -1
			for _, h := range c.helperCandidates {
				size := len(buckets[h.HelperID])
				if bestSize == -1 || size < bestSize || (size == bestSize && h.HelperID < best) {
					best, bestSize = h.HelperID, size
				}
			}
			c.entry.HelperID = best
			buckets[best] = append(buckets[best], c)
		}

		var updated []models.QueueEntry
		var events []models.HistoryEvent
		lanesWithEntries := 0
		for _, bucket := range buckets {
			if len(bucket) == 0 {
				continue
			}
			lanesWithEntries++
			sort.SliceStable(bucket, func(i, j int) bool {
				if (bucket[i].class == classHead) != (bucket[j].class == classHead) {
					return bucket[i].class == classHead
				}
				return bucket[i].entry.JoiningTime.Before(bucket[j].entry.JoiningTime)
			})
			for i, c := range bucket {
				svc, err := tx.GetService(ctx, c.entry.ServiceID)
				if err != nil {
					return classifyStoreErr(err)
				}
				newPos := i + 1
				newEstWait := (newPos-1)*svc.Duration + c.entry.AddedTimeTotal
				c.entry.CurrentPosition = newPos
				c.entry.EstWait = newEstWait
				c.entry.EstServiceStartTime = e.clock.Now().Add(time.Duration(newEstWait) * time.Minute)

				if c.entry.HelperID == c.oldHelper && newPos == c.oldPos && newEstWait == c.oldEstWait {
					continue
				}
				updated = append(updated, c.entry)

				ev := models.HistoryEvent{
					EntryID: c.entry.ID, Action: models.ActionEdit, Source: models.SourceVendor, At: e.clock.Now(),
				}
				oldPos := c.oldPos
				ev.PrevPosition = &oldPos
				ev.NewPosition = &newPos
				ev.EstWait = &newEstWait
				if c.entry.HelperID != c.oldHelper {
					helper := c.entry.HelperID
					ev.NewlyAssignedHelper = &helper
				}
				events = append(events, ev)
			}
		}
		result.TotalQueues = lanesWithEntries

		for i := range updated {
			if err := tx.UpdateEntry(ctx, updated[i]); err != nil {
				return classifyStoreErr(err)
			}
			if _, err := tx.AppendHistory(ctx, events[i]); err != nil {
				return classifyStoreErr(err)
			}
			if err := emitOutbox(ctx, tx, updated[i], "entry.restructured"); err != nil {
				return err
			}
		}
		result.UpdatedCount = len(updated)

		for i, e2 := range updated {
			if e2.UserRef.IsManual() {
				continue
			}
			c := findClassified(buckets, e2.ID)
			if c == nil {
				continue
			}
			if !isMaterialChange(c, events[i], e.cfg.MaterialWaitDeltaMinutes) {
				continue
			}
			u, uerr := tx.GetRegisteredUser(ctx, e2.UserRef.UserID)
			if uerr != nil || u.PushToken == "" || !u.ReceiveNotifications {
				continue
			}
			intents = append(intents, notify.Intent{
				PushToken: u.PushToken,
				Title:     "Queue update",
				Body:      materialChangeBody(e2, c, events[i]),
				Data:      map[string]string{"type": "queue_update", "entryId": e2.ID},
			})
		}
		return nil
	})
	if err != nil {
		return RestructureResult{}, err
	}

	if len(intents) > 0 {
		e.notifier.Enqueue(intents)
		result.NotificationsSent = len(intents)
	}
	return result, nil
}

func findClassified(buckets map[string][]*classified, entryID string) *classified {
	for _, bucket := range buckets {
		for _, c := range bucket {
			if c.entry.ID == entryID {
				return c
			}
		}
	}
	return nil
}

func isMaterialChange(c *classified, ev models.HistoryEvent, deltaMinutes int) bool {
	if c.entry.HelperID != c.oldHelper {
		return true
	}
	if ev.PrevPosition != nil && ev.NewPosition != nil && *ev.PrevPosition != *ev.NewPosition {
		return true
	}
	delta := c.entry.EstWait - c.oldEstWait
	if delta < 0 {
		delta = -delta
	}
	return delta >= deltaMinutes
}

func materialChangeBody(e2 models.QueueEntry, c *classified, ev models.HistoryEvent) string {
	if e2.Status == models.EntryHold {
		return holdBody(e2.CurrentPosition, e2.EstWait)
	}
	body := positionBody(c.oldPos, e2.CurrentPosition, e2.EstWait)
	if e2.HelperID != c.oldHelper {
		body += " Helper reassigned."
	}
	return body
}

func holdBody(position, estWait int) string {
	return fmt.Sprintf("On HOLD at position %d. ETA: %d mins", position, estWait)
}

func positionBody(oldPos, newPos, estWait int) string {
	return fmt.Sprintf("Position: %d → %d. ETA: %d mins", oldPos, newPos, estWait)
}

func collectNormalUsers(ctx context.Context, tx store.Tx, entries []models.QueueEntry) ([]models.RegisteredUser, error) {
	seen := make(map[string]bool)
	var out []models.RegisteredUser
	for _, e := range entries {
		if e.UserRef.IsManual() || seen[e.UserRef.UserID] {
			continue
		}
		seen[e.UserRef.UserID] = true
		u, err := tx.GetRegisteredUser(ctx, e.UserRef.UserID)
		if err != nil {
			continue
		}
		if u.PushToken != "" && u.ReceiveNotifications {
			out = append(out, u)
		}
	}
	return out, nil
}
