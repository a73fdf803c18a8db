package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "telemetry-ws/internal/telemetry/domain"
)

// TimeseriesRepository is a Postgres implementation for time series samples.
type TimeseriesRepository struct {
	db    *sql.DB
	table string
}

// NewTimeseriesRepository constructs a repository with default table name.
func NewTimeseriesRepository(db *sql.DB, opts ...RepositoryOption) *TimeseriesRepository {
	repo := &TimeseriesRepository{db: db, table: defaultTimeseriesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*TimeseriesRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *TimeseriesRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Save upserts samples in a single transaction.
func (r *TimeseriesRepository) Save(ctx context.Context, deviceID string, entries []telemetry.TsKvEntry) error {
	if r == nil || r.db == nil {
		return errors.New("timeseries repo: nil db")
	}
	if deviceID == "" {
		return errors.New("timeseries repo: empty device id")
	}
	if len(entries) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	entity_id,
	key,
	ts,
	bool_v,
	str_v,
	long_v,
	dbl_v
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (entity_id, key, ts)
DO UPDATE SET
	bool_v = EXCLUDED.bool_v,
	str_v = EXCLUDED.str_v,
	long_v = EXCLUDED.long_v,
	dbl_v = EXCLUDED.dbl_v`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		if err := entry.Validate(); err != nil || entry.TS <= 0 {
			_ = tx.Rollback()
			return errors.New("timeseries repo: invalid entry")
		}
		cols, err := columnsOf(entry.KvEntry)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(
			ctx,
			deviceID,
			entry.Key,
			entry.TS,
			cols.boolV,
			cols.strV,
			cols.longV,
			cols.dblV,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}
