package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docqa-gateway/internal/model"
	"docqa-gateway/internal/transport/http/handler"
)

type TenantResolver interface {
	Resolve(ctx context.Context, apiKey string) (*model.Tenant, error)
}

// APIKey resolves the X-API-Key header to a tenant and stores it on the
// gin context for the handlers behind it.
func APIKey(resolver TenantResolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, err := resolver.Resolve(c.Request.Context(), c.GetHeader(handler.APIKeyHeader))
		if err != nil {
			handler.WriteError(c, logger, err)
			return
		}
		c.Set(handler.TenantKey, tenant)
		c.Next()
	}
}
