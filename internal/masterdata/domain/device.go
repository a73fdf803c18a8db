package masterdata

import (
	"context"
	"errors"
	"time"
)

// Device represents a telemetry source owned by a tenant.
type Device struct {
	ID         string
	TenantID   string
	DeviceType string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.TenantID == "" {
		return errors.New("device: empty tenant id")
	}
	return nil
}

// DeviceRepository manages device persistence.
type DeviceRepository interface {
	Get(ctx context.Context, id string) (*Device, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Device, error)
	Save(ctx context.Context, device *Device) error
}
