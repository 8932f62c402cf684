package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hackgods/medical-appointment-saga/internal/country"
)

const StatusCompleted = "completed"

// Entry is one row of a country's ledger table.
type Entry struct {
	AppointmentID string
	InsuredID     string
	ScheduleSlot  json.RawMessage
	CountryCode   country.Code
	Status        string
	CreatedAt     time.Time
}

// Pools hands out the pool of a country's ledger database.
type Pools interface {
	Pool(ctx context.Context, code country.Code) (DB, error)
}

// Store writes to the per-country ledger tables. Inserts are plain, so a
// redelivered message adds another row for the same appointment id;
// MarkCompleted updates all of them.
type Store struct {
	pools Pools
	log   *zap.Logger
}

func NewStore(pools Pools, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pools: pools, log: log}
}

func (s *Store) Insert(ctx context.Context, e Entry) error {
	if !e.CountryCode.Supported() {
		return fmt.Errorf("ledger insert: %w: %q", country.ErrUnsupported, e.CountryCode)
	}
	table := pgx.Identifier{e.CountryCode.Route().Table}.Sanitize()

	pool, err := s.pools.Pool(ctx, e.CountryCode)
	if err != nil {
		return err
	}

	query := `INSERT INTO ` + table + ` (appointment_id, insured_id, schedule_id, country_code, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := pool.Exec(ctx, query,
		e.AppointmentID,
		e.InsuredID,
		e.ScheduleSlot,
		e.CountryCode.String(),
		e.Status,
		e.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}

	s.log.Debug("ledger row inserted",
		zap.String("table", e.CountryCode.Route().Table),
		zap.String("appointment_id", e.AppointmentID),
	)
	return nil
}

// MarkCompleted sets every row for id to completed and returns how many
// rows it touched. Zero rows is not an error.
func (s *Store) MarkCompleted(ctx context.Context, code country.Code, id string, at time.Time) (int64, error) {
	if !code.Supported() {
		return 0, fmt.Errorf("ledger update: %w: %q", country.ErrUnsupported, code)
	}
	table := pgx.Identifier{code.Route().Table}.Sanitize()

	pool, err := s.pools.Pool(ctx, code)
	if err != nil {
		return 0, err
	}

	query := `UPDATE ` + table + ` SET status = $1, updated_at = $2 WHERE appointment_id = $3`
	tag, err := pool.Exec(ctx, query, StatusCompleted, at, id)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}

	s.log.Debug("ledger rows completed",
		zap.String("table", code.Route().Table),
		zap.String("appointment_id", id),
		zap.Int64("rows", tag.RowsAffected()),
	)
	return tag.RowsAffected(), nil
}

// Ping checks the ledgers of codes, or of every country when none are given.
func (s *Store) Ping(ctx context.Context, codes ...country.Code) error {
	if len(codes) == 0 {
		codes = country.All()
	}
	for _, code := range codes {
		pool, err := s.pools.Pool(ctx, code)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping ledger %s: %w", code, err)
		}
	}
	return nil
}
