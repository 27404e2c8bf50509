package ctxutil

import "context"

// tenantIDKeyType private type to avoid context key collisions
type tenantIDKeyType struct{}

var tenantIDKey = tenantIDKeyType{}

// WithTenantID injects a tenant id into the context.
// Called by the auth middleware after the JWT claims are validated:
//
//	ctx := ctxutil.WithTenantID(c.Request.Context(), claims.TenantID)
//	c.Request = c.Request.WithContext(ctx)
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// GetTenantID extracts the tenant id from the context
func GetTenantID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v := ctx.Value(tenantIDKey)
	tid, ok := v.(string)
	if !ok || tid == "" {
		return "", false
	}
	return tid, true
}
