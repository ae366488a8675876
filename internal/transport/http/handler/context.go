package handler

import (
	"github.com/gin-gonic/gin"

	"docqa-gateway/internal/model"
)

const (
	RequestIDKey = "requestID"
	TenantKey    = "tenant"
	APIKeyHeader = "X-API-Key"
)

// CurrentTenant returns the tenant the API-key middleware resolved.
func CurrentTenant(c *gin.Context) (*model.Tenant, bool) {
	v, ok := c.Get(TenantKey)
	if !ok {
		return nil, false
	}
	tenant, ok := v.(*model.Tenant)
	return tenant, ok && tenant != nil
}
