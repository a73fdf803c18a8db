package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	masterdata "telemetry-ws/internal/masterdata/domain"
)

// DeviceRepository keeps devices in memory.
type DeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]masterdata.Device
}

// NewDeviceRepository constructs an empty repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{devices: make(map[string]masterdata.Device)}
}

// Get returns nil when the device is unknown.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*masterdata.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	return &device, nil
}

// ListByTenant returns a tenant's devices ordered by id.
func (r *DeviceRepository) ListByTenant(ctx context.Context, tenantID string) ([]masterdata.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]masterdata.Device, 0)
	for _, device := range r.devices {
		if device.TenantID == tenantID {
			out = append(out, device)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save inserts or replaces a device.
func (r *DeviceRepository) Save(ctx context.Context, device *masterdata.Device) error {
	_ = ctx
	if device == nil {
		return errors.New("memory device repository: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *device
	now := time.Now().UTC()
	if existing, ok := r.devices[stored.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.devices[stored.ID] = stored
	return nil
}
