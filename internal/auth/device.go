package auth

import (
	"context"
	"errors"
	"log"

	masterdata "telemetry-ws/internal/masterdata/domain"
)

// DeviceChecker decides whether a tenant may read a device's data.
type DeviceChecker struct {
	devices masterdata.DeviceRepository
	logger  *log.Logger
}

// NewDeviceChecker constructs a device access checker.
func NewDeviceChecker(devices masterdata.DeviceRepository, logger *log.Logger) (*DeviceChecker, error) {
	if devices == nil {
		return nil, errors.New("device checker: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DeviceChecker{devices: devices, logger: logger}, nil
}

// Authorize returns nil when the device exists and belongs to tenantID.
func (c *DeviceChecker) Authorize(ctx context.Context, tenantID, deviceID string) error {
	if tenantID == "" {
		return ErrUnauthorized
	}
	device, err := c.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return ErrNotFound
	}
	if device.TenantID != tenantID {
		return ErrTenantMismatch
	}
	return nil
}

// CheckAccess reports whether tenantID may subscribe to deviceID.
func (c *DeviceChecker) CheckAccess(ctx context.Context, tenantID, deviceID string) bool {
	err := c.Authorize(ctx, tenantID, deviceID)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrTenantMismatch) && !errors.Is(err, ErrUnauthorized) {
		c.logger.Printf("device checker: lookup %s: %v", deviceID, err)
	}
	return false
}
