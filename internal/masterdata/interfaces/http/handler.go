package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"telemetry-ws/internal/auth"
	masterdata "telemetry-ws/internal/masterdata/domain"
)

// Handler serves the tenant's device directory.
type Handler struct {
	devices masterdata.DeviceRepository
	logger  *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(devices masterdata.DeviceRepository, logger *log.Logger) (*Handler, error) {
	if devices == nil {
		return nil, errors.New("devices handler: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{devices: devices, logger: logger}, nil
}

type deviceDTO struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	DeviceType string    `json:"device_type,omitempty"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ServeHTTP handles /api/v1/devices and /api/v1/devices/{id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "tenant required", http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/api/v1/devices":
		h.handleList(w, r, tenantID)
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.handleGet(w, r, tenantID, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, tenantID string) {
	list, err := h.devices.ListByTenant(r.Context(), tenantID)
	if err != nil {
		h.logger.Printf("devices handler: list %s: %v", tenantID, err)
		http.Error(w, "list devices failed", http.StatusInternalServerError)
		return
	}
	out := make([]deviceDTO, 0, len(list))
	for _, device := range list {
		out = append(out, toDTO(device))
	}
	writeJSON(w, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, tenantID, id string) {
	device, err := h.devices.Get(r.Context(), id)
	if err != nil {
		h.logger.Printf("devices handler: get %s: %v", id, err)
		http.Error(w, "get device failed", http.StatusInternalServerError)
		return
	}
	// foreign devices look missing
	if device == nil || device.TenantID != tenantID {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, toDTO(*device))
}

func toDTO(device masterdata.Device) deviceDTO {
	return deviceDTO{
		ID:         device.ID,
		TenantID:   device.TenantID,
		DeviceType: device.DeviceType,
		Name:       device.Name,
		CreatedAt:  device.CreatedAt,
		UpdatedAt:  device.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
