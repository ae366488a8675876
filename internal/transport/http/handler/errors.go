package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docqa-gateway/internal/app"
	"docqa-gateway/internal/transport/http/response"
)

const (
	// retryAfterSeconds is advertised on 503 responses.
	retryAfterSeconds = "1"
	// statusClientClosed is logged when the caller went away mid-request.
	statusClientClosed = 499
)

// WriteError maps an app error onto the HTTP status and envelope code.
// Internal causes are logged and never sent to the client.
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, app.ErrMissingAPIKey):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "X-API-Key header missing")
	case errors.Is(err, app.ErrUnauthenticated):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "Invalid API Key")
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrTenantNotFound):
		response.Error(c, http.StatusNotFound, response.CodeTenantNotFound, "Client not found")
	case errors.Is(err, app.ErrNoDocuments):
		response.Error(c, http.StatusNotFound, response.CodeNoDocuments, "No documents found for this client")
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentMissing, "Document not found")
	case errors.Is(err, app.ErrTimeout):
		c.Header("Retry-After", retryAfterSeconds)
		response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, "request timed out, retry later")
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(statusClientClosed)
	default:
		if logger != nil {
			logger.Error("request failed",
				zap.String("path", c.FullPath()),
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.Error(err))
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "internal server error")
	}
}
