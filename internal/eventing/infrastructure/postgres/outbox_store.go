package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"equipment-maintops/internal/eventing"
)

const (
	defaultOutboxTable = "maintops_event_outbox"
	defaultMaxAttempts = 5
	defaultListLimit   = 50
	defaultClaimLease  = 5 * time.Minute
)

// Outbox record states. A claimed record is dispatching until it is marked
// sent or failed; a failed delivery goes back to pending until the attempt
// budget is spent, then it is parked as dead. A claim older than the lease
// is assumed abandoned and can be claimed again.
const (
	statePending     = "pending"
	stateDispatching = "dispatching"
	stateSent        = "sent"
	stateDead        = "dead"
)

var errNilDB = errors.New("outbox store: nil db")

// OutboxStore keeps correlation events in Postgres until the dispatcher
// has handed them to subscribers.
type OutboxStore struct {
	db          *sql.DB
	table       string
	maxAttempts int
	lease       time.Duration
	now         func() time.Time
}

type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// WithClaimLease sets how long a claim holds before another dispatcher may
// take the record over.
func WithClaimLease(lease time.Duration) OutboxOption {
	return func(store *OutboxStore) {
		if lease > 0 {
			store.lease = lease
		}
	}
}

// WithMaxAttempts bounds how often a failing record is retried.
func WithMaxAttempts(n int) OutboxOption {
	return func(store *OutboxStore) {
		if n > 0 {
			store.maxAttempts = n
		}
	}
}

func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{
		db:          db,
		table:       defaultOutboxTable,
		maxAttempts: defaultMaxAttempts,
		lease:       defaultClaimLease,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *OutboxStore) ready() error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	return nil
}

// EnsureTable creates the outbox table and its pending index.
func (s *OutboxStore) EnsureTable(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id             UUID PRIMARY KEY,
	event_id       TEXT NOT NULL UNIQUE,
	event_type     TEXT NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	envelope       JSONB NOT NULL,
	state          TEXT NOT NULL DEFAULT 'pending',
	attempts       INTEGER NOT NULL DEFAULT 0,
	last_error_at  TIMESTAMPTZ,
	claimed_at     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	sent_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS %[1]s_open_idx ON %[1]s (created_at) WHERE state IN ('pending', 'dispatching');`, s.table))
	return err
}

// Insert stores the envelope as pending. Re-inserting the same event id
// is a no-op that returns the existing record id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	var id string
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, event_id, event_type, correlation_id, envelope, state, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
RETURNING id`, s.table),
		uuid.NewString(), env.EventID, env.EventType, env.CorrelationID, raw, statePending, s.now()).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ClaimPending moves up to limit pending records, oldest first, to
// dispatching and returns them. Rows locked by a concurrent claim are
// skipped, so no record is handed to two dispatchers.
func (s *OutboxStore) ClaimPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	now := s.now()
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
WITH claimable AS (
	SELECT id
	FROM %[1]s
	WHERE state = $1 OR (state = $2 AND claimed_at < $3)
	ORDER BY created_at, id
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
UPDATE %[1]s o
SET state = $2, claimed_at = $5
FROM claimable
WHERE o.id = claimable.id
RETURNING o.id, o.envelope, o.created_at`, s.table),
		statePending, stateDispatching, now.Add(-s.lease), limit, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		record    eventing.OutboxRecord
		createdAt time.Time
	}
	var batch []claimed
	for rows.Next() {
		var (
			c   claimed
			raw []byte
		)
		if err := rows.Scan(&c.record.ID, &raw, &c.createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &c.record.Envelope); err != nil {
			return nil, fmt.Errorf("outbox store: decode %s: %w", c.record.ID, err)
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING carries no order.
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].createdAt.Equal(batch[j].createdAt) {
			return batch[i].createdAt.Before(batch[j].createdAt)
		}
		return batch[i].record.ID < batch[j].record.ID
	})
	records := make([]eventing.OutboxRecord, 0, len(batch))
	for _, c := range batch {
		records = append(records, c.record)
	}
	return records, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET state = $2, sent_at = $3 WHERE id = $1`, s.table), id, stateSent, s.now())
	return err
}

// MarkFailed counts an attempt and releases the claim. The record goes
// back to pending for the next drain until it has failed maxAttempts times.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET attempts = attempts + 1,
	last_error_at = $2,
	claimed_at = NULL,
	state = CASE WHEN attempts + 1 >= $3 THEN '%s' ELSE '%s' END
WHERE id = $1`, s.table, stateDead, statePending), id, s.now(), s.maxAttempts)
	return err
}

// CountByState reports how many records sit in each state.
func (s *OutboxStore) CountByState(ctx context.Context) (map[string]int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT state, count(*) FROM %s GROUP BY state`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
