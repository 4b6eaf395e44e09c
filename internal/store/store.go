// Package store defines the persistence contract the queue engine uses.
// Every write path runs inside a Tx scoped to one business; Tx methods take
// the locks (row-level and, in the Postgres implementation, an advisory
// lock) needed to keep lane positions consistent under concurrent writers.
// Plain Store methods are snapshot reads outside any transaction and may
// observe briefly-stale positions, as the engine's read projections accept.
package store

import (
	"context"
	"time"

	"svcqueue/internal/models"
)

// OutboxOffset is a durable cursor into the outbox event stream, used by
// the realtime outbox poller.
type OutboxOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

// HelperWait is one row of the helperWaitTimes projection.
type HelperWait struct {
	HelperID      string
	ServiceID     string
	QueueLength   int
	EstimatedWait int
}

// Store is the top-level persistence handle: a connection pool plus the
// snapshot-read and outbox-draining methods that don't need a per-business
// transaction.
type Store interface {
	// BeginBusinessTx opens a transaction scoped to businessID. Implementations
	// take whatever locks they need (Postgres:
	// pg_advisory_xact_lock(hashtext(businessID)); the business row itself is
	// locked FOR UPDATE later by Tx.LockBusiness) so that a second
	// transaction on the same business blocks until this one commits or
	// rolls back.
	BeginBusinessTx(ctx context.Context, businessID string) (Tx, error)

	GetBusinessSnapshot(ctx context.Context, businessID string) (models.Business, error)
	ListHelpersSnapshot(ctx context.Context, businessID string) ([]models.Helper, error)
	GetServiceSnapshot(ctx context.Context, businessID, serviceID string) (models.Service, error)
	ListServicesSnapshot(ctx context.Context, businessID string) ([]models.Service, error)

	GetEntrySnapshot(ctx context.Context, entryID string) (models.QueueEntry, error)
	HelperQueueSnapshot(ctx context.Context, helperID string, t0, t1 time.Time) ([]models.QueueEntry, error)
	HelperWaitTimesSnapshot(ctx context.Context, businessID string) ([]HelperWait, error)
	RecentHelperActionsSnapshot(ctx context.Context, helperID string, since time.Time, limit int) ([]models.HistoryEvent, error)
	UserQueueHistorySnapshot(ctx context.Context, userID string, t0, t1 time.Time) ([]models.QueueEntry, error)
	BusinessQueueHistorySnapshot(ctx context.Context, businessID string, t0, t1 time.Time, helperID string) ([]models.QueueEntry, error)

	SearchManualCustomers(ctx context.Context, businessID, name, phone string) ([]models.ManualCustomer, error)

	ListOutboxEvents(ctx context.Context, after OutboxOffset, limit int) ([]models.OutboxEvent, error)
	AdvanceOutboxOffset(ctx context.Context, offset OutboxOffset) error
	LoadOutboxOffset(ctx context.Context) (OutboxOffset, error)

	Close()
}

// Tx is a single business-scoped transaction. In the Postgres
// implementation LockBusiness, GetEntryForUpdate, ListLiveEntriesInLane and
// ListEntriesInWindow lock the rows they read FOR UPDATE; the other reads
// take no row lock and rely on the business-wide lock taken when the Tx
// was opened. Callers must either Commit or Rollback exactly once.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	LockBusiness(ctx context.Context) (models.Business, error)
	GetHelper(ctx context.Context, helperID string) (models.Helper, error)
	ListHelpers(ctx context.Context) ([]models.Helper, error)
	SetBusinessActive(ctx context.Context, active bool) error
	SetHelperActive(ctx context.Context, helperID string, active bool) error

	GetService(ctx context.Context, serviceID string) (models.Service, error)
	GetRegisteredUser(ctx context.Context, userID string) (models.RegisteredUser, error)
	GetManualCustomer(ctx context.Context, manualID string) (models.ManualCustomer, error)
	CreateManualCustomer(ctx context.Context, m models.ManualCustomer) (models.ManualCustomer, error)

	CountLiveEntriesInLane(ctx context.Context, helperID string) (int, error)
	InsertEntry(ctx context.Context, e models.QueueEntry) (models.QueueEntry, error)
	GetEntryForUpdate(ctx context.Context, entryID string) (models.QueueEntry, error)
	ListLiveEntriesInLane(ctx context.Context, helperID string) ([]models.QueueEntry, error)
	ListEntriesInWindow(ctx context.Context, t0, t1 time.Time) ([]models.QueueEntry, error)
	UpdateEntry(ctx context.Context, e models.QueueEntry) error

	AppendHistory(ctx context.Context, ev models.HistoryEvent) (models.HistoryEvent, error)
	LastVendorEvent(ctx context.Context, entryID string, since time.Time) (models.HistoryEvent, bool, error)

	InsertOutboxEvent(ctx context.Context, ev models.OutboxEvent) error

	// FindIdempotent returns a previously stored result for (requestID) if
	// this exact request was already processed under this business, so the
	// caller can replay it instead of reapplying the operation.
	FindIdempotent(ctx context.Context, requestID string) (payload []byte, found bool, err error)
	SaveIdempotent(ctx context.Context, requestID string, payload []byte) error
}
