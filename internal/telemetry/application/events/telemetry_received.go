package events

import (
	"time"

	telemetry "telemetry-ws/internal/telemetry/domain"
)

// TelemetryReceived is raised after time series ingestion.
type TelemetryReceived struct {
	EventID    string                `json:"event_id"`
	TenantID   string                `json:"tenant_id"`
	DeviceID   string                `json:"device_id"`
	Entries    []telemetry.TsKvEntry `json:"entries"`
	OccurredAt time.Time             `json:"occurred_at"`
}

// AttributesUpdated is raised after attributes of a device were written.
type AttributesUpdated struct {
	EventID    string                       `json:"event_id"`
	TenantID   string                       `json:"tenant_id"`
	DeviceID   string                       `json:"device_id"`
	Scope      string                       `json:"scope"`
	Entries    []telemetry.AttributeKvEntry `json:"entries"`
	OccurredAt time.Time                    `json:"occurred_at"`
}
