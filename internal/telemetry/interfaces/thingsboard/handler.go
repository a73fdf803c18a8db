package thingsboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"telemetry-ws/internal/eventing"
	masterdata "telemetry-ws/internal/masterdata/domain"
	"telemetry-ws/internal/observability/metrics"
	telemetryevents "telemetry-ws/internal/telemetry/application/events"
	telemetry "telemetry-ws/internal/telemetry/domain"
)

var errDeviceTenantMismatch = errors.New("thingsboard ingest: device belongs to another tenant")

// IngestHandler accepts ThingsBoard rule-chain webhooks carrying time series
// and client attributes for one device.
type IngestHandler struct {
	series     telemetry.TimeseriesRepository
	attributes telemetry.AttributeRepository
	devices    masterdata.DeviceRepository
	bus        eventing.EventBus
	logger     *log.Logger
}

// NewIngestHandler constructs an ingest handler. bus may be nil.
func NewIngestHandler(
	series telemetry.TimeseriesRepository,
	attributes telemetry.AttributeRepository,
	devices masterdata.DeviceRepository,
	bus eventing.EventBus,
	logger *log.Logger,
) (*IngestHandler, error) {
	if series == nil {
		return nil, errors.New("thingsboard ingest: nil timeseries repository")
	}
	if attributes == nil {
		return nil, errors.New("thingsboard ingest: nil attribute repository")
	}
	if devices == nil {
		return nil, errors.New("thingsboard ingest: nil device repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{series: series, attributes: attributes, devices: devices, bus: bus, logger: logger}, nil
}

// ServeHTTP stores the payload and publishes change events.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.IngestResultSuccess
	fail := func(status int, reason, msg string, err error) {
		h.logger.Printf("telemetry ingest: %s: %v", reason, err)
		result = metrics.IngestResultError
		metrics.IncIngestError(reason)
		http.Error(w, msg, status)
	}
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.IngestResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		fail(http.StatusBadRequest, "read_body", "read body error", err)
		return
	}

	var req ingestRequest
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		fail(http.StatusBadRequest, "invalid_json", "invalid json", err)
		return
	}
	batch, err := req.toBatch()
	if err != nil {
		fail(http.StatusBadRequest, "invalid_payload", "invalid payload", err)
		return
	}

	ctx := r.Context()
	if err := h.ensureDevice(ctx, req.TenantID, req.DeviceID, req.DeviceType); err != nil {
		if errors.Is(err, errDeviceTenantMismatch) {
			fail(http.StatusConflict, "tenant_mismatch", "device tenant mismatch", err)
			return
		}
		fail(http.StatusInternalServerError, "device_error", "device error", err)
		return
	}
	if len(batch.series) > 0 {
		if err := h.series.Save(ctx, req.DeviceID, batch.series); err != nil {
			fail(http.StatusInternalServerError, "insert_error", "insert error", err)
			return
		}
	}
	if len(batch.attributes) > 0 {
		if err := h.attributes.Save(ctx, req.DeviceID, telemetry.ClientScope, batch.attributes); err != nil {
			fail(http.StatusInternalServerError, "attribute_error", "attribute error", err)
			return
		}
	}

	h.publish(ctx, req, batch)

	resp := map[string]any{"saved": len(batch.series), "attributes": len(batch.attributes)}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ensureDevice registers unknown devices under the sender's tenant.
func (h *IngestHandler) ensureDevice(ctx context.Context, tenantID, deviceID, deviceType string) error {
	device, err := h.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if device != nil {
		if device.TenantID != tenantID {
			return errDeviceTenantMismatch
		}
		return nil
	}
	return h.devices.Save(ctx, &masterdata.Device{
		ID:         deviceID,
		TenantID:   tenantID,
		DeviceType: deviceType,
		Name:       deviceID,
	})
}

func (h *IngestHandler) publish(ctx context.Context, req ingestRequest, batch ingestBatch) {
	if h.bus == nil {
		return
	}
	ctx = eventing.WithTenantID(ctx, req.TenantID)
	if len(batch.series) > 0 {
		event := telemetryevents.TelemetryReceived{
			EventID:    eventing.NewEventID(),
			TenantID:   req.TenantID,
			DeviceID:   req.DeviceID,
			Entries:    batch.series,
			OccurredAt: time.UnixMilli(batch.newestTS).UTC(),
		}
		if err := h.bus.Publish(eventing.WithEventID(ctx, event.EventID), event); err != nil {
			h.logger.Printf("telemetry ingest: publish telemetry: %v", err)
		}
	}
	if len(batch.attributes) > 0 {
		event := telemetryevents.AttributesUpdated{
			EventID:    eventing.NewEventID(),
			TenantID:   req.TenantID,
			DeviceID:   req.DeviceID,
			Scope:      telemetry.ClientScope,
			Entries:    batch.attributes,
			OccurredAt: time.UnixMilli(batch.attributeTS).UTC(),
		}
		if err := h.bus.Publish(eventing.WithEventID(ctx, event.EventID), event); err != nil {
			h.logger.Printf("telemetry ingest: publish attributes: %v", err)
		}
	}
}

type ingestRequest struct {
	TenantID   string         `json:"tenantId"`
	DeviceID   string         `json:"deviceId"`
	DeviceType string         `json:"deviceType"`
	TS         int64          `json:"ts"`
	Values     map[string]any `json:"values"`
	Points     []ingestPoint  `json:"points"`
	Attributes map[string]any `json:"attributes"`
}

type ingestPoint struct {
	TS     int64          `json:"ts"`
	Values map[string]any `json:"values"`
}

type ingestBatch struct {
	series      []telemetry.TsKvEntry
	attributes  []telemetry.AttributeKvEntry
	newestTS    int64
	attributeTS int64
}

func (r ingestRequest) toBatch() (ingestBatch, error) {
	var batch ingestBatch
	if r.TenantID == "" || r.DeviceID == "" {
		return batch, errors.New("missing tenantId/deviceId")
	}

	points := r.Points
	if len(points) == 0 && len(r.Values) > 0 {
		points = []ingestPoint{{TS: r.TS, Values: r.Values}}
	}
	for _, point := range points {
		ts, err := normalizeTimestamp(point.TS)
		if err != nil {
			return batch, err
		}
		if len(point.Values) == 0 {
			return batch, errors.New("empty values")
		}
		for _, key := range sortedKeys(point.Values) {
			entry, err := telemetry.EntryFromValue(key, point.Values[key])
			if err != nil {
				return batch, fmt.Errorf("value %s: %w", key, err)
			}
			batch.series = append(batch.series, telemetry.TsKvEntry{KvEntry: entry, TS: ts})
		}
		if ts > batch.newestTS {
			batch.newestTS = ts
		}
	}

	if len(r.Attributes) > 0 {
		ts := time.Now().UnixMilli()
		if r.TS != 0 {
			normalized, err := normalizeTimestamp(r.TS)
			if err != nil {
				return batch, err
			}
			ts = normalized
		}
		for _, key := range sortedKeys(r.Attributes) {
			entry, err := telemetry.EntryFromValue(key, r.Attributes[key])
			if err != nil {
				return batch, fmt.Errorf("attribute %s: %w", key, err)
			}
			batch.attributes = append(batch.attributes, telemetry.AttributeKvEntry{KvEntry: entry, LastUpdateTS: ts})
		}
		batch.attributeTS = ts
	}

	if len(batch.series) == 0 && len(batch.attributes) == 0 {
		return batch, errors.New("no telemetry or attributes")
	}
	return batch, nil
}

// normalizeTimestamp accepts epoch seconds or milliseconds and returns milliseconds.
func normalizeTimestamp(value int64) (int64, error) {
	if value <= 0 {
		return 0, errors.New("invalid ts")
	}
	if value > 1_000_000_000_000 {
		return value, nil
	}
	return value * 1000, nil
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
