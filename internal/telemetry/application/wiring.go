package application

import (
	"context"

	"telemetry-ws/internal/eventing"
	"telemetry-ws/internal/telemetry/application/events"
	telemetry "telemetry-ws/internal/telemetry/domain"
)

// LiveSink receives freshly written data for live subscription delivery.
type LiveSink interface {
	OnTimeseriesUpdate(deviceID string, entries []telemetry.TsKvEntry)
	OnAttributesUpdate(deviceID, scope string, entries []telemetry.AttributeKvEntry)
}

// WireSubscriptionFeed forwards ingest events on the bus to the live sink.
func WireSubscriptionFeed(bus eventing.EventBus, sink LiveSink) {
	if bus == nil || sink == nil {
		return
	}
	eventing.Subscribe(bus, func(ctx context.Context, evt events.TelemetryReceived) error {
		sink.OnTimeseriesUpdate(evt.DeviceID, evt.Entries)
		return nil
	})
	eventing.Subscribe(bus, func(ctx context.Context, evt events.AttributesUpdated) error {
		sink.OnAttributesUpdate(evt.DeviceID, evt.Scope, evt.Entries)
		return nil
	})
}
