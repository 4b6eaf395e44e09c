// Package models holds the entities the queue engine operates on.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type HelperStatus string

const (
	HelperPending  HelperStatus = "pending"
	HelperAccepted HelperStatus = "accepted"
	HelperRejected HelperStatus = "rejected"
	HelperRemoved  HelperStatus = "removed"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderChild  Gender = "child"
)

type Preference string

const (
	PreferenceAny      Preference = "ANY"
	PreferenceSpecific Preference = "SPECIFIC"
)

type EntryStatus string

const (
	EntryInQueue  EntryStatus = "in_queue"
	EntryHold     EntryStatus = "hold"
	EntrySkipped  EntryStatus = "skipped"
	EntryComplete EntryStatus = "completed"
	EntryRemoved  EntryStatus = "removed"
)

// LiveStatuses are the statuses that occupy a position in a lane.
var LiveStatuses = []EntryStatus{EntryInQueue, EntryHold, EntrySkipped}

func IsLive(s EntryStatus) bool {
	return s == EntryInQueue || s == EntryHold || s == EntrySkipped
}

// Business is the top-level tenant. Helpers are a child collection, not an
// embedded slice, so a helper's status can be locked independently of the
// business row.
type Business struct {
	ID        string
	OwnerID   string
	Active    bool
	Timezone  string
	Deleted   bool
	Suspended bool
}

type Helper struct {
	BusinessID string
	HelperID   string
	Status     HelperStatus
	Active     bool
	Services   map[string]bool
}

func (h Helper) Participates() bool {
	return h.Status == HelperAccepted && h.Active
}

func (h Helper) Capable(serviceID string) bool {
	return h.Services[serviceID]
}

type Service struct {
	ID             string
	BusinessID     string
	Name           string
	Duration       int // minutes, > 0
	Price          float64
	AllowedGenders map[Gender]bool
	Deleted        bool
}

// UserRef names the principal a queue entry belongs to: either a registered
// user or a manual (walk-in, no push channel) customer.
type UserRef struct {
	UserID   string
	ManualID string
}

func (r UserRef) IsManual() bool { return r.ManualID != "" }

type RegisteredUser struct {
	UserID               string
	PushToken            string
	ReceiveNotifications bool
	Gender               Gender
	Active               bool
	Deleted              bool
	Suspended            bool
}

type ManualCustomer struct {
	ManualID   string
	BusinessID string
	Name       string
	Phone      string
	Gender     Gender
}

type HistoryAction string

const (
	ActionSkip    HistoryAction = "skip"
	ActionHold    HistoryAction = "hold"
	ActionUnhold  HistoryAction = "unhold"
	ActionRemove  HistoryAction = "remove"
	ActionNext    HistoryAction = "next"
	ActionAddTime HistoryAction = "add_time"
	ActionEdit    HistoryAction = "edit"
	ActionUndo    HistoryAction = "undo"
)

type HistorySource string

const (
	SourceUser   HistorySource = "user"
	SourceVendor HistorySource = "vendor"
)

// HistoryEvent is one entry in a queue entry's append-only log. The
// position, added-time, wait and counterpart fields carry what is needed to
// invert the event for undo and to recompute a restructure diff without a
// second read.
type HistoryEvent struct {
	ID                  string
	EntryID             string
	Seq                 int
	Action              HistoryAction
	Source              HistorySource
	At                  time.Time
	PrevPosition        *int
	NewPosition         *int
	PrevHelperID        *string
	AddedTime           *int
	EstWait             *int
	NewlyAssignedHelper *string
	CounterpartEntryID  *string
	PrevHash            string
	Hash                string
}

// QueueEntry is the core scheduling record.
type QueueEntry struct {
	ID                  string
	BusinessID          string
	HelperID            string
	UserRef             UserRef
	ServiceID           string
	Gender              Gender
	Preference          Preference
	JoiningPosition     int
	CurrentPosition     int
	JoiningTime         time.Time
	EstServiceStartTime time.Time
	EstWait             int // minutes
	Status              EntryStatus
	Total               float64
	Rating              *int
	Notes               string
	AddedTimeTotal      int
}

func (e QueueEntry) IsLive() bool { return IsLive(e.Status) }
func (e QueueEntry) IsTerminal() bool {
	return e.Status == EntryComplete || e.Status == EntryRemoved
}

// ComputeHistoryHash derives the tamper-evident hash for ev from its
// predecessor's hash plus its own identity and ordering fields, so any
// store implementation can chain history the same way.
func ComputeHistoryHash(ev HistoryEvent) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d", ev.PrevHash, ev.EntryID, ev.Action, ev.At.UnixNano(), ev.Seq)))
	return hex.EncodeToString(sum[:])
}

// OutboxEvent is a committed fact waiting to be drained to the realtime
// hub. Push notifications are not sent from the outbox.
type OutboxEvent struct {
	ID         string
	BusinessID string
	EntryID    string
	Type       string
	Payload    []byte
	CreatedAt  time.Time
}
