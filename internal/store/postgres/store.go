// Package postgres is the production store.Store, grounded on this stack's
// queue-service Postgres adapter: pgx/v5 pooled connections, one
// transaction per business-scoped write, row locks taken with SELECT ...
// FOR UPDATE and widened with a transaction-scoped advisory lock
// (pg_advisory_xact_lock) so a second process touching the same business
// blocks rather than races.
//
// Expected schema (created by a separate migration step, not by this
// package): businesses, helpers, services, registered_users,
// manual_customers, queue_entries, history_events, outbox_events,
// outbox_cursor, idempotency_keys.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"svcqueue/internal/models"
	"svcqueue/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) BeginBusinessTx(ctx context.Context, businessID string) (store.Tx, error) {
	pgxTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := pgxTx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, businessID); err != nil {
		_ = pgxTx.Rollback(ctx)
		return nil, err
	}
	return &tx{pgx: pgxTx, businessID: businessID}, nil
}

func (s *Store) GetBusinessSnapshot(ctx context.Context, businessID string) (models.Business, error) {
	return scanBusiness(s.pool.QueryRow(ctx, selectBusinessSQL, businessID))
}

func (s *Store) ListHelpersSnapshot(ctx context.Context, businessID string) ([]models.Helper, error) {
	rows, err := s.pool.Query(ctx, selectHelpersSQL, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHelpers(rows)
}

func (s *Store) GetServiceSnapshot(ctx context.Context, businessID, serviceID string) (models.Service, error) {
	return scanService(s.pool.QueryRow(ctx, selectServiceSQL, serviceID, businessID))
}

func (s *Store) ListServicesSnapshot(ctx context.Context, businessID string) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, selectServicesSQL, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Service
	for rows.Next() {
		sv, err := scanServiceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

func (s *Store) GetEntrySnapshot(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return scanEntry(s.pool.QueryRow(ctx, selectEntrySQL, entryID))
}

func (s *Store) HelperQueueSnapshot(ctx context.Context, helperID string, t0, t1 time.Time) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE helper_id = $1 AND status IN ('in_queue','hold','skipped')
		  AND joining_time BETWEEN $2 AND $3
		ORDER BY current_position ASC, joining_time ASC
	`, helperID, t0, t1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) HelperWaitTimesSnapshot(ctx context.Context, businessID string) ([]store.HelperWait, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h.helper_id, sv.id,
		       count(qe.id) FILTER (WHERE qe.status IN ('in_queue','hold','skipped')) AS queue_length,
		       coalesce(sum(sv.duration_minutes) FILTER (WHERE qe.status IN ('in_queue','hold','skipped')), 0) AS estimated_wait
		FROM helpers h
		JOIN services sv ON sv.business_id = h.business_id AND sv.deleted = false
		LEFT JOIN queue_entries qe ON qe.helper_id = h.helper_id
		WHERE h.business_id = $1 AND h.status = 'accepted' AND h.active = true
		GROUP BY h.helper_id, sv.id
		ORDER BY h.helper_id, sv.id
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.HelperWait
	for rows.Next() {
		var w store.HelperWait
		if err := rows.Scan(&w.HelperID, &w.ServiceID, &w.QueueLength, &w.EstimatedWait); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) RecentHelperActionsSnapshot(ctx context.Context, helperID string, since time.Time, limit int) ([]models.HistoryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+historyColumns+`
		FROM history_events he
		JOIN queue_entries qe ON qe.id = he.entry_id
		WHERE qe.helper_id = $1 AND he.source = 'vendor' AND he.action <> 'undo' AND he.at >= $2
		ORDER BY he.at DESC
		LIMIT $3
	`, helperID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHistoryEvents(rows)
}

func (s *Store) UserQueueHistorySnapshot(ctx context.Context, userID string, t0, t1 time.Time) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE user_id = $1 AND joining_time BETWEEN $2 AND $3
		ORDER BY joining_time ASC
	`, userID, t0, t1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) BusinessQueueHistorySnapshot(ctx context.Context, businessID string, t0, t1 time.Time, helperID string) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE business_id = $1 AND joining_time BETWEEN $2 AND $3
		  AND ($4 = '' OR helper_id = $4)
		ORDER BY joining_time ASC
	`, businessID, t0, t1, helperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) SearchManualCustomers(ctx context.Context, businessID, name, phone string) ([]models.ManualCustomer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT manual_id, business_id, name, phone, gender
		FROM manual_customers
		WHERE business_id = $1
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		  AND ($3 = '' OR phone = $3)
		ORDER BY name ASC
	`, businessID, name, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ManualCustomer
	for rows.Next() {
		var m models.ManualCustomer
		if err := rows.Scan(&m.ManualID, &m.BusinessID, &m.Name, &m.Phone, &m.Gender); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.OutboxOffset, limit int) ([]models.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, entry_id, type, payload, created_at
		FROM outbox_events
		WHERE (created_at, id) > ($1, $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, after.LastEventTime, after.LastEventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.OutboxEvent
	for rows.Next() {
		var ev models.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.BusinessID, &ev.EntryID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) AdvanceOutboxOffset(ctx context.Context, offset store.OutboxOffset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_cursor (id, last_event_time, last_event_id) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET last_event_time = excluded.last_event_time, last_event_id = excluded.last_event_id
	`, offset.LastEventTime, offset.LastEventID)
	return err
}

func (s *Store) LoadOutboxOffset(ctx context.Context) (store.OutboxOffset, error) {
	var off store.OutboxOffset
	err := s.pool.QueryRow(ctx, `SELECT last_event_time, last_event_id FROM outbox_cursor WHERE id = 1`).Scan(&off.LastEventTime, &off.LastEventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.OutboxOffset{}, nil
	}
	return off, err
}

// --- transaction ---

type tx struct {
	pgx        pgx.Tx
	businessID string
}

// serializationFailure and deadlockDetected are the Postgres SQLSTATE
// codes a concurrent writer collision surfaces as under the row locks and
// advisory lock this store takes; the engine retries a transaction that
// fails this way instead of immediately returning it to the caller.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

func (t *tx) Commit(ctx context.Context) error {
	err := t.pgx.Commit(ctx)
	return classifyConflict(err)
}

func (t *tx) Rollback(ctx context.Context) error { return t.pgx.Rollback(ctx) }

func classifyConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected) {
		return store.ErrConflict
	}
	return err
}

func (t *tx) LockBusiness(ctx context.Context) (models.Business, error) {
	return scanBusiness(t.pgx.QueryRow(ctx, selectBusinessForUpdateSQL, t.businessID))
}

func (t *tx) GetHelper(ctx context.Context, helperID string) (models.Helper, error) {
	return scanHelper(t.pgx.QueryRow(ctx, `
		SELECT business_id, helper_id, status, active, services
		FROM helpers WHERE business_id = $1 AND helper_id = $2
	`, t.businessID, helperID))
}

func (t *tx) ListHelpers(ctx context.Context) ([]models.Helper, error) {
	rows, err := t.pgx.Query(ctx, selectHelpersSQL, t.businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHelpers(rows)
}

func (t *tx) SetBusinessActive(ctx context.Context, active bool) error {
	tag, err := t.pgx.Exec(ctx, `UPDATE businesses SET active = $1 WHERE id = $2`, active, t.businessID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrBusinessNotFound
	}
	return nil
}

func (t *tx) SetHelperActive(ctx context.Context, helperID string, active bool) error {
	tag, err := t.pgx.Exec(ctx, `UPDATE helpers SET active = $1 WHERE business_id = $2 AND helper_id = $3`, active, t.businessID, helperID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrHelperNotFound
	}
	return nil
}

func (t *tx) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	return scanService(t.pgx.QueryRow(ctx, selectServiceSQL, serviceID, t.businessID))
}

func (t *tx) GetRegisteredUser(ctx context.Context, userID string) (models.RegisteredUser, error) {
	var u models.RegisteredUser
	var pushToken sql.NullString
	err := t.pgx.QueryRow(ctx, `
		SELECT user_id, push_token, receive_notifications, gender, active, deleted, suspended
		FROM registered_users WHERE user_id = $1
	`, userID).Scan(&u.UserID, &pushToken, &u.ReceiveNotifications, &u.Gender, &u.Active, &u.Deleted, &u.Suspended)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RegisteredUser{}, store.ErrUserNotFound
	}
	if err != nil {
		return models.RegisteredUser{}, err
	}
	u.PushToken = pushToken.String
	return u, nil
}

func (t *tx) GetManualCustomer(ctx context.Context, manualID string) (models.ManualCustomer, error) {
	var m models.ManualCustomer
	err := t.pgx.QueryRow(ctx, `
		SELECT manual_id, business_id, name, phone, gender
		FROM manual_customers WHERE manual_id = $1 AND business_id = $2
	`, manualID, t.businessID).Scan(&m.ManualID, &m.BusinessID, &m.Name, &m.Phone, &m.Gender)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ManualCustomer{}, store.ErrManualNotFound
	}
	return m, err
}

func (t *tx) CreateManualCustomer(ctx context.Context, m models.ManualCustomer) (models.ManualCustomer, error) {
	m.BusinessID = t.businessID
	err := t.pgx.QueryRow(ctx, `
		INSERT INTO manual_customers (manual_id, business_id, name, phone, gender)
		VALUES (coalesce(nullif($1, ''), gen_random_uuid()::text), $2, $3, $4, $5)
		RETURNING manual_id
	`, m.ManualID, m.BusinessID, m.Name, m.Phone, m.Gender).Scan(&m.ManualID)
	return m, err
}

func (t *tx) CountLiveEntriesInLane(ctx context.Context, helperID string) (int, error) {
	var n int
	err := t.pgx.QueryRow(ctx, `
		SELECT count(*) FROM queue_entries
		WHERE business_id = $1 AND helper_id = $2 AND status IN ('in_queue','hold','skipped')
	`, t.businessID, helperID).Scan(&n)
	return n, err
}

func (t *tx) InsertEntry(ctx context.Context, e models.QueueEntry) (models.QueueEntry, error) {
	e.BusinessID = t.businessID
	err := t.pgx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			id, business_id, helper_id, user_id, manual_id, service_id, gender, preference,
			joining_position, current_position, joining_time, est_service_start_time, est_wait,
			status, total, added_time_total
		) VALUES (
			coalesce(nullif($1, ''), gen_random_uuid()::text), $2, $3, nullif($4, ''), nullif($5, ''), $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15, $16
		) RETURNING id
	`, e.ID, e.BusinessID, e.HelperID, e.UserRef.UserID, e.UserRef.ManualID, e.ServiceID, e.Gender, e.Preference,
		e.JoiningPosition, e.CurrentPosition, e.JoiningTime, e.EstServiceStartTime, e.EstWait,
		e.Status, e.Total, e.AddedTimeTotal).Scan(&e.ID)
	return e, err
}

func (t *tx) GetEntryForUpdate(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return scanEntry(t.pgx.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM queue_entries WHERE id = $1 AND business_id = $2 FOR UPDATE
	`, entryID, t.businessID))
}

func (t *tx) ListLiveEntriesInLane(ctx context.Context, helperID string) ([]models.QueueEntry, error) {
	rows, err := t.pgx.Query(ctx, `
		SELECT `+entryColumns+` FROM queue_entries
		WHERE business_id = $1 AND helper_id = $2 AND status IN ('in_queue','hold','skipped')
		ORDER BY current_position ASC
		FOR UPDATE
	`, t.businessID, helperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (t *tx) ListEntriesInWindow(ctx context.Context, t0, t1 time.Time) ([]models.QueueEntry, error) {
	rows, err := t.pgx.Query(ctx, `
		SELECT `+entryColumns+` FROM queue_entries
		WHERE business_id = $1 AND status IN ('in_queue','hold','skipped') AND joining_time BETWEEN $2 AND $3
		ORDER BY joining_time ASC
		FOR UPDATE
	`, t.businessID, t0, t1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (t *tx) UpdateEntry(ctx context.Context, e models.QueueEntry) error {
	tag, err := t.pgx.Exec(ctx, `
		UPDATE queue_entries SET
			helper_id = $1, current_position = $2, est_service_start_time = $3, est_wait = $4,
			status = $5, rating = $6, notes = $7, added_time_total = $8
		WHERE id = $9 AND business_id = $10
	`, e.HelperID, e.CurrentPosition, e.EstServiceStartTime, e.EstWait, e.Status, e.Rating, e.Notes, e.AddedTimeTotal, e.ID, t.businessID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrEntryNotFound
	}
	return nil
}

func (t *tx) AppendHistory(ctx context.Context, ev models.HistoryEvent) (models.HistoryEvent, error) {
	var prevHash string
	err := t.pgx.QueryRow(ctx, `SELECT coalesce(max(seq), 0), coalesce((array_agg(hash ORDER BY seq DESC))[1], '') FROM history_events WHERE entry_id = $1`, ev.EntryID).Scan(&ev.Seq, &prevHash)
	if err != nil {
		return models.HistoryEvent{}, err
	}
	ev.Seq++
	ev.PrevHash = prevHash
	ev.Hash = models.ComputeHistoryHash(ev)
	err = t.pgx.QueryRow(ctx, `
		INSERT INTO history_events (
			id, entry_id, seq, action, source, at, prev_position, new_position, prev_helper_id,
			added_time, est_wait, newly_assigned_helper, counterpart_entry_id, prev_hash, hash
		) VALUES (
			coalesce(nullif($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		) RETURNING id
	`, ev.ID, ev.EntryID, ev.Seq, ev.Action, ev.Source, ev.At, ev.PrevPosition, ev.NewPosition, ev.PrevHelperID,
		ev.AddedTime, ev.EstWait, ev.NewlyAssignedHelper, ev.CounterpartEntryID, ev.PrevHash, ev.Hash).Scan(&ev.ID)
	return ev, err
}

func (t *tx) LastVendorEvent(ctx context.Context, entryID string, since time.Time) (models.HistoryEvent, bool, error) {
	rows, err := t.pgx.Query(ctx, `
		SELECT `+historyColumns+` FROM history_events
		WHERE entry_id = $1 ORDER BY seq DESC LIMIT 1
	`, entryID)
	if err != nil {
		return models.HistoryEvent{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return models.HistoryEvent{}, false, nil
	}
	ev, err := scanHistoryEventRow(rows)
	if err != nil {
		return models.HistoryEvent{}, false, err
	}
	if ev.Source != models.SourceVendor || ev.Action == models.ActionUndo || ev.At.Before(since) {
		return models.HistoryEvent{}, false, nil
	}
	return ev, true, nil
}

func (t *tx) InsertOutboxEvent(ctx context.Context, ev models.OutboxEvent) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO outbox_events (id, business_id, entry_id, type, payload, created_at)
		VALUES (coalesce(nullif($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, now())
	`, ev.ID, ev.BusinessID, ev.EntryID, ev.Type, ev.Payload)
	return err
}

func (t *tx) FindIdempotent(ctx context.Context, requestID string) ([]byte, bool, error) {
	if requestID == "" {
		return nil, false, nil
	}
	var payload []byte
	err := t.pgx.QueryRow(ctx, `
		SELECT payload FROM idempotency_keys WHERE business_id = $1 AND request_id = $2
	`, t.businessID, requestID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (t *tx) SaveIdempotent(ctx context.Context, requestID string, payload []byte) error {
	if requestID == "" {
		return nil
	}
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO idempotency_keys (business_id, request_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (business_id, request_id) DO NOTHING
	`, t.businessID, requestID, payload)
	return err
}

// --- row scanning helpers ---

const selectBusinessSQL = `SELECT id, owner_id, active, timezone, deleted, suspended FROM businesses WHERE id = $1`
const selectBusinessForUpdateSQL = selectBusinessSQL + ` FOR UPDATE`

func scanBusiness(row pgx.Row) (models.Business, error) {
	var b models.Business
	err := row.Scan(&b.ID, &b.OwnerID, &b.Active, &b.Timezone, &b.Deleted, &b.Suspended)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Business{}, store.ErrBusinessNotFound
	}
	return b, err
}

const selectHelpersSQL = `SELECT business_id, helper_id, status, active, services FROM helpers WHERE business_id = $1 ORDER BY helper_id`

func scanHelper(row pgx.Row) (models.Helper, error) {
	var h models.Helper
	var servicesJSON []byte
	err := row.Scan(&h.BusinessID, &h.HelperID, &h.Status, &h.Active, &servicesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Helper{}, store.ErrHelperNotFound
	}
	if err != nil {
		return models.Helper{}, err
	}
	if err := decodeServiceSet(servicesJSON, &h.Services); err != nil {
		return models.Helper{}, err
	}
	return h, nil
}

func scanHelpers(rows pgx.Rows) ([]models.Helper, error) {
	var out []models.Helper
	for rows.Next() {
		var h models.Helper
		var servicesJSON []byte
		if err := rows.Scan(&h.BusinessID, &h.HelperID, &h.Status, &h.Active, &servicesJSON); err != nil {
			return nil, err
		}
		if err := decodeServiceSet(servicesJSON, &h.Services); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func decodeServiceSet(raw []byte, dst *map[string]bool) error {
	if len(raw) == 0 {
		*dst = map[string]bool{}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	*dst = set
	return nil
}

const selectServiceSQL = `SELECT id, business_id, name, duration_minutes, price, allowed_genders, deleted FROM services WHERE id = $1 AND business_id = $2`
const selectServicesSQL = `SELECT id, business_id, name, duration_minutes, price, allowed_genders, deleted FROM services WHERE business_id = $1 ORDER BY id`

func scanService(row pgx.Row) (models.Service, error) {
	var sv models.Service
	var gendersJSON []byte
	err := row.Scan(&sv.ID, &sv.BusinessID, &sv.Name, &sv.Duration, &sv.Price, &gendersJSON, &sv.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Service{}, store.ErrServiceNotFound
	}
	if err != nil {
		return models.Service{}, err
	}
	if err := decodeGenderSet(gendersJSON, &sv.AllowedGenders); err != nil {
		return models.Service{}, err
	}
	return sv, nil
}

func scanServiceRow(rows pgx.Rows) (models.Service, error) {
	var sv models.Service
	var gendersJSON []byte
	if err := rows.Scan(&sv.ID, &sv.BusinessID, &sv.Name, &sv.Duration, &sv.Price, &gendersJSON, &sv.Deleted); err != nil {
		return models.Service{}, err
	}
	if err := decodeGenderSet(gendersJSON, &sv.AllowedGenders); err != nil {
		return models.Service{}, err
	}
	return sv, nil
}

func decodeGenderSet(raw []byte, dst *map[models.Gender]bool) error {
	if len(raw) == 0 {
		*dst = map[models.Gender]bool{}
		return nil
	}
	var genders []string
	if err := json.Unmarshal(raw, &genders); err != nil {
		return err
	}
	set := make(map[models.Gender]bool, len(genders))
	for _, g := range genders {
		set[models.Gender(g)] = true
	}
	*dst = set
	return nil
}

const entryColumns = `id, business_id, helper_id, user_id, manual_id, service_id, gender, preference,
	joining_position, current_position, joining_time, est_service_start_time, est_wait,
	status, total, rating, notes, added_time_total`

const selectEntrySQL = `SELECT ` + entryColumns + ` FROM queue_entries WHERE id = $1`

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var e models.QueueEntry
	var userID, manualID sql.NullString
	var rating sql.NullInt32
	err := row.Scan(&e.ID, &e.BusinessID, &e.HelperID, &userID, &manualID, &e.ServiceID, &e.Gender, &e.Preference,
		&e.JoiningPosition, &e.CurrentPosition, &e.JoiningTime, &e.EstServiceStartTime, &e.EstWait,
		&e.Status, &e.Total, &rating, &e.Notes, &e.AddedTimeTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if err != nil {
		return models.QueueEntry{}, err
	}
	e.UserRef = models.UserRef{UserID: userID.String, ManualID: manualID.String}
	if rating.Valid {
		r := int(rating.Int32)
		e.Rating = &r
	}
	return e, nil
}

func scanEntries(rows pgx.Rows) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		var userID, manualID sql.NullString
		var rating sql.NullInt32
		if err := rows.Scan(&e.ID, &e.BusinessID, &e.HelperID, &userID, &manualID, &e.ServiceID, &e.Gender, &e.Preference,
			&e.JoiningPosition, &e.CurrentPosition, &e.JoiningTime, &e.EstServiceStartTime, &e.EstWait,
			&e.Status, &e.Total, &rating, &e.Notes, &e.AddedTimeTotal); err != nil {
			return nil, err
		}
		e.UserRef = models.UserRef{UserID: userID.String, ManualID: manualID.String}
		if rating.Valid {
			r := int(rating.Int32)
			e.Rating = &r
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const historyColumns = `id, entry_id, seq, action, source, at, prev_position, new_position, prev_helper_id,
	added_time, est_wait, newly_assigned_helper, counterpart_entry_id, prev_hash, hash`

func scanHistoryEvents(rows pgx.Rows) ([]models.HistoryEvent, error) {
	var out []models.HistoryEvent
	for rows.Next() {
		ev, err := scanHistoryEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanHistoryEventRow(rows pgx.Rows) (models.HistoryEvent, error) {
	var ev models.HistoryEvent
	err := rows.Scan(&ev.ID, &ev.EntryID, &ev.Seq, &ev.Action, &ev.Source, &ev.At, &ev.PrevPosition, &ev.NewPosition,
		&ev.PrevHelperID, &ev.AddedTime, &ev.EstWait, &ev.NewlyAssignedHelper, &ev.CounterpartEntryID, &ev.PrevHash, &ev.Hash)
	return ev, err
}

