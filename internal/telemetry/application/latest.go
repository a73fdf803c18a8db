package application

import (
	"context"
	"errors"
	"time"

	"telemetry-ws/internal/observability/metrics"
	telemetry "telemetry-ws/internal/telemetry/domain"
)

// LatestResult is the completion of an asynchronous latest lookup.
type LatestResult struct {
	Data []telemetry.TsKvEntry
	Err  error
}

// AsyncLatestReader runs latest-value lookups off the caller's goroutine.
type AsyncLatestReader struct {
	query telemetry.TimeseriesQuery
}

// NewAsyncLatestReader constructs a reader.
func NewAsyncLatestReader(query telemetry.TimeseriesQuery) (*AsyncLatestReader, error) {
	if query == nil {
		return nil, errors.New("latest reader: nil query")
	}
	return &AsyncLatestReader{query: query}, nil
}

// LoadLatestAsync starts the lookup and returns a channel that receives exactly one
// result. A nil keys slice loads every key of the device.
func (r *AsyncLatestReader) LoadLatestAsync(ctx context.Context, deviceID string, keys []string) <-chan LatestResult {
	out := make(chan LatestResult, 1)
	go func() {
		start := time.Now()
		data, err := r.query.LoadLatest(ctx, deviceID, keys)
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		metrics.ObserveLatestLookup(result, time.Since(start))
		out <- LatestResult{Data: data, Err: err}
	}()
	return out
}
