package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	telemetry "telemetry-ws/internal/telemetry/domain"
)

// TimeseriesQuery is a Postgres query implementation.
type TimeseriesQuery struct {
	db    DBTX
	table string
}

// NewTimeseriesQuery constructs a query with default table name.
func NewTimeseriesQuery(db DBTX, opts ...QueryOption) *TimeseriesQuery {
	query := &TimeseriesQuery{db: db, table: defaultTimeseriesTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryOption configures the time series query.
type QueryOption func(*TimeseriesQuery)

// WithQueryTable overrides the default table name for queries.
func WithQueryTable(table string) QueryOption {
	return func(query *TimeseriesQuery) {
		if query != nil && table != "" {
			query.table = table
		}
	}
}

// LoadRange returns samples within [startTS, endTS] ordered by ts.
func (q *TimeseriesQuery) LoadRange(ctx context.Context, deviceID, key string, startTS, endTS int64) ([]telemetry.TsKvEntry, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("timeseries query: nil db")
	}
	if deviceID == "" || key == "" || endTS < startTS {
		return nil, errors.New("timeseries query: invalid arguments")
	}

	query := fmt.Sprintf(`
SELECT key, ts, bool_v, str_v, long_v, dbl_v
FROM %s
WHERE entity_id = $1
	AND key = $2
	AND ts >= $3
	AND ts <= $4
ORDER BY ts ASC`, q.table)

	return q.scan(ctx, query, deviceID, key, startTS, endTS)
}

// LoadLatest returns the newest sample per key.
func (q *TimeseriesQuery) LoadLatest(ctx context.Context, deviceID string, keys []string) ([]telemetry.TsKvEntry, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("timeseries query: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("timeseries query: invalid arguments")
	}
	if keys != nil && len(keys) == 0 {
		return []telemetry.TsKvEntry{}, nil
	}

	args := []any{deviceID}
	filter := ""
	if keys != nil {
		placeholders := make([]string, 0, len(keys))
		for _, key := range keys {
			args = append(args, key)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		filter = fmt.Sprintf("\n\tAND key IN (%s)", strings.Join(placeholders, ", "))
	}

	query := fmt.Sprintf(`
SELECT DISTINCT ON (key) key, ts, bool_v, str_v, long_v, dbl_v
FROM %s
WHERE entity_id = $1%s
ORDER BY key ASC, ts DESC`, q.table, filter)

	return q.scan(ctx, query, args...)
}

func (q *TimeseriesQuery) scan(ctx context.Context, query string, args ...any) ([]telemetry.TsKvEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]telemetry.TsKvEntry, 0)
	for rows.Next() {
		var (
			key  string
			ts   int64
			cols kvColumns
		)
		if err := rows.Scan(&key, &ts, &cols.boolV, &cols.strV, &cols.longV, &cols.dblV); err != nil {
			return nil, err
		}
		entry, err := cols.toEntry(key)
		if err != nil {
			continue
		}
		result = append(result, telemetry.TsKvEntry{KvEntry: entry, TS: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
