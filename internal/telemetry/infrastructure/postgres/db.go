package postgres

import (
	"context"
	"database/sql"
	"errors"

	telemetry "telemetry-ws/internal/telemetry/domain"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	defaultTimeseriesTable = "ts_kv"
	defaultAttributesTable = "attribute_kv"
)

// kvColumns holds the typed value columns shared by ts_kv and attribute_kv.
type kvColumns struct {
	boolV sql.NullBool
	strV  sql.NullString
	longV sql.NullInt64
	dblV  sql.NullFloat64
}

func columnsOf(entry telemetry.KvEntry) (kvColumns, error) {
	var c kvColumns
	switch entry.Type {
	case telemetry.DataTypeBoolean:
		if entry.BoolValue == nil {
			return c, telemetry.ErrInvalidValue
		}
		c.boolV = sql.NullBool{Bool: *entry.BoolValue, Valid: true}
	case telemetry.DataTypeString:
		if entry.StrValue == nil {
			return c, telemetry.ErrInvalidValue
		}
		c.strV = sql.NullString{String: *entry.StrValue, Valid: true}
	case telemetry.DataTypeLong:
		if entry.LongValue == nil {
			return c, telemetry.ErrInvalidValue
		}
		c.longV = sql.NullInt64{Int64: *entry.LongValue, Valid: true}
	case telemetry.DataTypeDouble:
		if entry.DoubleValue == nil {
			return c, telemetry.ErrInvalidValue
		}
		c.dblV = sql.NullFloat64{Float64: *entry.DoubleValue, Valid: true}
	default:
		return c, telemetry.ErrInvalidValue
	}
	return c, nil
}

func (c kvColumns) toEntry(key string) (telemetry.KvEntry, error) {
	switch {
	case c.boolV.Valid:
		return telemetry.BoolEntry(key, c.boolV.Bool), nil
	case c.longV.Valid:
		return telemetry.LongEntry(key, c.longV.Int64), nil
	case c.dblV.Valid:
		return telemetry.DoubleEntry(key, c.dblV.Float64), nil
	case c.strV.Valid:
		return telemetry.StringEntry(key, c.strV.String), nil
	}
	return telemetry.KvEntry{}, errors.New("telemetry postgres: row without value")
}
