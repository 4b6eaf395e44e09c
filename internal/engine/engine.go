// Package engine implements the queue scheduling and mutation engine: the
// one component this repository exists to build. Every exported method is
// either a transactional write (enqueue, action, restructure, break/resume)
// or a snapshot read projection.
package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"svcqueue/internal/clock"
	"svcqueue/internal/identity"
	"svcqueue/internal/notify"
	"svcqueue/internal/store"
	"svcqueue/internal/telemetry"
)

type Config struct {
	UndoWindow              time.Duration
	RestructureHorizon      time.Duration
	MaterialWaitDeltaMinutes int
}

func DefaultConfig() Config {
	return Config{
		UndoWindow:               5 * time.Minute,
		RestructureHorizon:       24 * time.Hour,
		MaterialWaitDeltaMinutes: 5,
	}
}

// Engine is parameterized on its three dependencies (Store, Clock,
// Notifier) rather than reaching for process globals, so that multiple
// engine values — one per test, one per worker pool — can coexist.
type Engine struct {
	store    store.Store
	clock    clock.Clock
	notifier notify.Notifier
	cfg      Config

	mu     sync.Mutex
	biz    map[string]*sync.Mutex
}

func New(st store.Store, c clock.Clock, n notify.Notifier, cfg Config) *Engine {
	return &Engine{
		store:    st,
		clock:    c,
		notifier: n,
		cfg:      cfg,
		biz:      make(map[string]*sync.Mutex),
	}
}

// lockBusiness returns the process-local mutex for businessID, creating it
// on first use. It is taken before BeginBusinessTx and released after the
// transaction commits or aborts, per the concurrency model: this prevents
// position collisions under concurrent mutations to the same business
// from goroutines in this process; the Store's own row/advisory locking
// covers a second process.
func (e *Engine) lockBusiness(businessID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.biz[businessID]
	if !ok {
		m = &sync.Mutex{}
		e.biz[businessID] = m
	}
	return m
}

// maxConflictAttempts bounds the commit-retry loop in withBusinessTx: a
// transaction that fails with a serialization failure or deadlock surfaced
// by the store as store.ErrConflict is attempted at most this many times in
// total before being returned to the caller as a Conflict error, per the
// error taxonomy's retry-before-409 rule.
const maxConflictAttempts = 3

// withBusinessTx runs fn inside a business-scoped transaction, holding the
// per-business mutex for the duration. fn's returned error determines
// commit vs rollback: nil commits, anything else rolls back. A commit that
// fails with a conflict (a second process's transaction on the same
// business, caught by the store's row/advisory locks) is retried from
// scratch, since fn is a pure function of committed state and safe to
// replay.
func (e *Engine) withBusinessTx(ctx context.Context, businessID string, fn func(tx store.Tx) error) error {
	mu := e.lockBusiness(businessID)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		err := e.runBusinessTx(ctx, businessID, fn)
		if err == nil {
			return nil
		}
		engErr, ok := err.(*Error)
		if !ok || engErr.Kind != KindConflict {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (e *Engine) runBusinessTx(ctx context.Context, businessID string, fn func(tx store.Tx) error) (retErr error) {
	ctx, span := telemetry.Tracer.Start(ctx, "businessTx")
	span.SetAttributes(attribute.String("business.id", businessID))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
		}
		span.End()
	}()

	tx, err := e.store.BeginBusinessTx(ctx, businessID)
	if err != nil {
		return internal(err, "begin transaction")
	}

	if err := ctx.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return internal(err, "context deadline exceeded before commit")
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := ctx.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return internal(err, "context deadline exceeded before commit")
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyStoreErr(err)
	}
	return nil
}

func isOwnerOrHelper(p identity.Principal) bool {
	return p.Role == identity.RoleOwnerOrHelper
}
