package telemetry

import "context"

// TimeseriesRepository persists time series samples.
type TimeseriesRepository interface {
	Save(ctx context.Context, deviceID string, entries []TsKvEntry) error
}

// TimeseriesQuery reads time series samples.
type TimeseriesQuery interface {
	// LoadRange returns samples of key with startTS <= ts <= endTS ordered by ts.
	LoadRange(ctx context.Context, deviceID, key string, startTS, endTS int64) ([]TsKvEntry, error)
	// LoadLatest returns the newest sample per key. A nil keys slice means every key
	// the device has reported.
	LoadLatest(ctx context.Context, deviceID string, keys []string) ([]TsKvEntry, error)
}

// AttributeRepository persists and reads current attribute values.
type AttributeRepository interface {
	Save(ctx context.Context, deviceID, scope string, entries []AttributeKvEntry) error
	// Load returns attributes of the scope. A nil keys slice means all attributes.
	Load(ctx context.Context, deviceID, scope string, keys []string) ([]AttributeKvEntry, error)
}
