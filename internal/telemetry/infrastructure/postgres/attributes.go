package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	telemetry "telemetry-ws/internal/telemetry/domain"
)

// AttributeRepository is a Postgres implementation for device attributes.
type AttributeRepository struct {
	db    DBTX
	table string
}

// NewAttributeRepository constructs a repository.
func NewAttributeRepository(db DBTX, opts ...AttributeOption) *AttributeRepository {
	repo := &AttributeRepository{db: db, table: defaultAttributesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// AttributeOption configures the repository.
type AttributeOption func(*AttributeRepository)

// WithAttributeTable overrides the default table name.
func WithAttributeTable(table string) AttributeOption {
	return func(repo *AttributeRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Save upserts attribute values. An older LastUpdateTS never overwrites a newer one.
func (r *AttributeRepository) Save(ctx context.Context, deviceID, scope string, entries []telemetry.AttributeKvEntry) error {
	if r == nil || r.db == nil {
		return errors.New("attribute repo: nil db")
	}
	if deviceID == "" || scope == "" {
		return errors.New("attribute repo: invalid arguments")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	entity_id,
	attribute_type,
	attribute_key,
	bool_v,
	str_v,
	long_v,
	dbl_v,
	last_update_ts
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (entity_id, attribute_type, attribute_key)
DO UPDATE SET
	bool_v = EXCLUDED.bool_v,
	str_v = EXCLUDED.str_v,
	long_v = EXCLUDED.long_v,
	dbl_v = EXCLUDED.dbl_v,
	last_update_ts = EXCLUDED.last_update_ts
WHERE %s.last_update_ts <= EXCLUDED.last_update_ts`, r.table, r.table)

	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return err
		}
		cols, err := columnsOf(entry.KvEntry)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(
			ctx,
			query,
			deviceID,
			scope,
			entry.Key,
			cols.boolV,
			cols.strV,
			cols.longV,
			cols.dblV,
			entry.LastUpdateTS,
		); err != nil {
			return err
		}
	}
	return nil
}

// Load returns attributes of a scope, optionally restricted to keys.
func (r *AttributeRepository) Load(ctx context.Context, deviceID, scope string, keys []string) ([]telemetry.AttributeKvEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("attribute repo: nil db")
	}
	if deviceID == "" || scope == "" {
		return nil, errors.New("attribute repo: invalid arguments")
	}
	if keys != nil && len(keys) == 0 {
		return []telemetry.AttributeKvEntry{}, nil
	}

	args := []any{deviceID, scope}
	filter := ""
	if keys != nil {
		placeholders := make([]string, 0, len(keys))
		for _, key := range keys {
			args = append(args, key)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		filter = fmt.Sprintf("\n\tAND attribute_key IN (%s)", strings.Join(placeholders, ", "))
	}

	query := fmt.Sprintf(`
SELECT attribute_key, bool_v, str_v, long_v, dbl_v, last_update_ts
FROM %s
WHERE entity_id = $1
	AND attribute_type = $2%s
ORDER BY attribute_key ASC`, r.table, filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]telemetry.AttributeKvEntry, 0)
	for rows.Next() {
		var (
			key          string
			lastUpdateTS int64
			cols         kvColumns
		)
		if err := rows.Scan(&key, &cols.boolV, &cols.strV, &cols.longV, &cols.dblV, &lastUpdateTS); err != nil {
			return nil, err
		}
		entry, err := cols.toEntry(key)
		if err != nil {
			continue
		}
		result = append(result, telemetry.AttributeKvEntry{KvEntry: entry, LastUpdateTS: lastUpdateTS})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
