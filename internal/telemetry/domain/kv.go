package telemetry

import (
	"encoding/json"
	"errors"
	"strconv"
)

// DataType identifies the stored type of a key/value entry.
type DataType string

const (
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeLong    DataType = "LONG"
	DataTypeDouble  DataType = "DOUBLE"
	DataTypeString  DataType = "STRING"
)

// Attribute scopes.
const (
	ClientScope = "CLIENT_SCOPE"
	ServerScope = "SERVER_SCOPE"
	SharedScope = "SHARED_SCOPE"
)

// ErrInvalidValue is returned when a value cannot be mapped to a DataType.
var ErrInvalidValue = errors.New("telemetry: invalid value")

// KvEntry is a typed key/value pair. Exactly one value field is set, matching Type.
type KvEntry struct {
	Key  string
	Type DataType

	BoolValue   *bool
	LongValue   *int64
	DoubleValue *float64
	StrValue    *string
}

// BoolEntry builds a boolean entry.
func BoolEntry(key string, value bool) KvEntry {
	return KvEntry{Key: key, Type: DataTypeBoolean, BoolValue: &value}
}

// LongEntry builds an integer entry.
func LongEntry(key string, value int64) KvEntry {
	return KvEntry{Key: key, Type: DataTypeLong, LongValue: &value}
}

// DoubleEntry builds a floating point entry.
func DoubleEntry(key string, value float64) KvEntry {
	return KvEntry{Key: key, Type: DataTypeDouble, DoubleValue: &value}
}

// StringEntry builds a string entry.
func StringEntry(key string, value string) KvEntry {
	return KvEntry{Key: key, Type: DataTypeString, StrValue: &value}
}

// EntryFromValue maps a decoded JSON value onto a typed entry. Numbers decoded as
// json.Number become LONG when integral and DOUBLE otherwise.
func EntryFromValue(key string, value any) (KvEntry, error) {
	switch v := value.(type) {
	case bool:
		return BoolEntry(key, v), nil
	case string:
		return StringEntry(key, v), nil
	case int64:
		return LongEntry(key, v), nil
	case int:
		return LongEntry(key, int64(v)), nil
	case float64:
		return DoubleEntry(key, v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return LongEntry(key, i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return KvEntry{}, ErrInvalidValue
		}
		return DoubleEntry(key, f), nil
	default:
		return KvEntry{}, ErrInvalidValue
	}
}

// Value returns the entry value as a plain Go value.
func (e KvEntry) Value() any {
	switch e.Type {
	case DataTypeBoolean:
		if e.BoolValue != nil {
			return *e.BoolValue
		}
	case DataTypeLong:
		if e.LongValue != nil {
			return *e.LongValue
		}
	case DataTypeDouble:
		if e.DoubleValue != nil {
			return *e.DoubleValue
		}
	case DataTypeString:
		if e.StrValue != nil {
			return *e.StrValue
		}
	}
	return nil
}

// ValueAsString renders the value the way clients receive it.
func (e KvEntry) ValueAsString() string {
	switch v := e.Value().(type) {
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return ""
	}
}

// Validate checks entry invariants.
func (e KvEntry) Validate() error {
	if e.Key == "" {
		return errors.New("telemetry: empty key")
	}
	if e.Value() == nil {
		return ErrInvalidValue
	}
	return nil
}

// TsKvEntry is a time series sample. TS is unix milliseconds.
type TsKvEntry struct {
	KvEntry
	TS int64
}

// AttributeKvEntry is the current value of an attribute.
type AttributeKvEntry struct {
	KvEntry
	LastUpdateTS int64
}

// ToTsKvEntry views the attribute as a sample stamped with its last update time.
func (a AttributeKvEntry) ToTsKvEntry() TsKvEntry {
	return TsKvEntry{KvEntry: a.KvEntry, TS: a.LastUpdateTS}
}
