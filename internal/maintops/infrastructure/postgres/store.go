package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	maintops "equipment-maintops/internal/maintops/domain"
)

//go:embed schema.sql
var schemaSQL string

var (
	errNilDB    = errors.New("maintops store: nil db")
	errReadOnly = errors.New("maintops store: entity writes require WithinInstance")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres entity store. Transactions on one equipment
// instance are serialised with a transaction-scoped advisory lock.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore constructs a store.
func NewStore(db *sql.DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errNilDB
	}
	store := &Store{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// EnsureSchema creates the tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("maintops store: ensure schema: %w", err)
	}
	return nil
}

// WithinInstance runs fn in one database transaction holding the
// instance's advisory lock.
func (s *Store) WithinInstance(ctx context.Context, equipmentInstanceID string, fn func(ctx context.Context, tx maintops.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if equipmentInstanceID == "" {
		return maintops.NewValidationError("equipment_instance", "id", "required")
	}
	if fn == nil {
		return errors.New("maintops store: nil func")
	}

	start := time.Now()
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed",
					zap.String("equipment_instance", equipmentInstanceID),
					zap.Error(rbErr))
			}
		}
	}()

	if _, err = sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, equipmentInstanceID); err != nil {
		return err
	}
	if err = fn(ctx, &pgTx{q: sqlTx, writable: true}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("instance transaction committed",
		zap.String("equipment_instance", equipmentInstanceID),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Reader returns non-transactional access. Entity writes through it fail;
// catalog writes autocommit.
func (s *Store) Reader() maintops.Tx {
	return &pgTx{q: s.db}
}

// DB exposes the handle for metrics and the outbox.
func (s *Store) DB() *sql.DB { return s.db }

type pgTx struct {
	q        querier
	writable bool
}

func (t *pgTx) AlarmPeriods() maintops.AlarmPeriodRepository         { return alarmRepo{t} }
func (t *pgTx) AlertPeriods() maintops.AlertPeriodRepository         { return alertRepo{t} }
func (t *pgTx) ProblemDiagnoses() maintops.ProblemDiagnosisRepository { return diagnosisRepo{t} }
func (t *pgTx) Associations() maintops.AssociationRepository         { return associationRepo{t} }
func (t *pgTx) Catalog() maintops.CatalogRepository                  { return catalogRepo{t.q} }

func (t *pgTx) writer() (querier, error) {
	if !t.writable {
		return nil, errReadOnly
	}
	return t.q, nil
}

// mapError turns constraint violations into domain errors.
func mapError(entity string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return maintops.NewValidationError(entity, pgErr.ConstraintName, "duplicate "+strings.TrimSpace(pgErr.Detail))
	case pgForeignKeyViolation:
		return maintops.NewNotFoundError(referencedEntity(pgErr.ConstraintName), pgErr.Detail)
	default:
		return err
	}
}

func referencedEntity(constraint string) string {
	switch {
	case strings.Contains(constraint, "equipment_instance"):
		return "equipment_instance"
	case strings.Contains(constraint, "alarm_type"), strings.Contains(constraint, "problem_type"):
		return "equipment_problem_type"
	case strings.Contains(constraint, "diagnosis_status"):
		return "diagnosis_status"
	default:
		return constraint
	}
}

// dateRangeArgs returns the lower and upper arguments of daterange(l, u, '[]').
// A nil upper makes the range unbounded.
func dateRangeArgs(r maintops.DateRange) (any, any) {
	if !r.Bounded() {
		return r.Lower, nil
	}
	return r.Lower, r.Upper
}

// scanDateRange rebuilds a range from lower(date_range) and the inclusive
// upper bound selected as upper(date_range) - 1.
func scanDateRange(lower time.Time, upper sql.NullTime) maintops.DateRange {
	r := maintops.DateRange{Lower: maintops.TruncateToDate(lower)}
	if upper.Valid {
		r.Upper = maintops.TruncateToDate(upper.Time)
	}
	return r
}

func decodeIDs(raw []byte) (maintops.AssociationSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return maintops.NewAssociationSet(ids...), nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func idArray(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
