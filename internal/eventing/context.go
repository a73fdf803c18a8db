package eventing

import "context"

type contextKey string

const (
	contextKeyTenant  contextKey = "eventing.tenant_id"
	contextKeyEventID contextKey = "eventing.event_id"
)

// WithTenantID sets tenant id in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKeyTenant, tenantID)
}

// WithEventID sets event id in context.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, contextKeyEventID, eventID)
}

// TenantIDFromContext returns the tenant id set by WithTenantID.
func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if tenantID, ok := ctx.Value(contextKeyTenant).(string); ok {
		return tenantID
	}
	return ""
}

// EventIDFromContext returns the event id set by WithEventID.
func EventIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKeyEventID).(string); ok {
		return id
	}
	return ""
}
