package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docqa-gateway/internal/transport/http/handler"
)

const RequestIDHeader = "X-Request-ID"

// RequestID propagates the caller's request ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(handler.RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
