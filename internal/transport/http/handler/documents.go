package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docqa-gateway/internal/app"
	"docqa-gateway/internal/model"
	"docqa-gateway/internal/pkg/pdfextract"
	"docqa-gateway/internal/transport/http/response"
)

// DocumentManager mutates a tenant's corpus.
type DocumentManager interface {
	Ingest(ctx context.Context, input app.IngestInput) (*app.IngestResult, error)
	IngestPDF(ctx context.Context, tenantID uint, title string, r io.Reader) (*app.IngestResult, error)
	Delete(ctx context.Context, tenantID, documentID uint) (bool, error)
	Reindex(ctx context.Context, tenantID uint) (int, error)
}

// ReindexQueue hands reindex jobs to a background worker.
type ReindexQueue interface {
	Publish(ctx context.Context, job model.ReindexJob) error
}

type DocumentHandler struct {
	documents DocumentManager
	timeout   time.Duration
	logger    *zap.Logger

	// queue is nil when no broker is configured; reindexing then runs inline.
	queue ReindexQueue
}

func NewDocumentHandler(documents DocumentManager, queue ReindexQueue, timeout time.Duration, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{documents: documents, queue: queue, timeout: timeout, logger: logger}
}

type createDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content" binding:"required"`
}

type ingestResponse struct {
	DocumentID uint `json:"document_id"`
	Created    bool `json:"created"`
}

func (h *DocumentHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *DocumentHandler) tenant(c *gin.Context) (*model.Tenant, bool) {
	tenant, ok := CurrentTenant(c)
	if !ok {
		WriteError(c, h.logger, app.ErrMissingAPIKey)
	}
	return tenant, ok
}

func (h *DocumentHandler) Create(c *gin.Context) {
	tenant, ok := h.tenant(c)
	if !ok {
		return
	}

	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.documents.Ingest(ctx, app.IngestInput{
		TenantID: tenant.ID,
		Title:    req.Title,
		Content:  req.Content,
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	response.OK(c, ingestResponse{DocumentID: result.DocumentID, Created: result.Created})
}

// UploadPDF accepts a multipart form with "file" (PDF) and optional "title".
func (h *DocumentHandler) UploadPDF(c *gin.Context) {
	tenant, ok := h.tenant(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > pdfextract.MaxSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.documents.IngestPDF(ctx, tenant.ID, title, f)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	response.OK(c, ingestResponse{DocumentID: result.DocumentID, Created: result.Created})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	tenant, ok := h.tenant(c)
	if !ok {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	removed, err := h.documents.Delete(ctx, tenant.ID, uint(id))
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"document_id": uint(id), "removed": removed})
}

// Reindex re-embeds the caller's corpus. With a broker the job is queued and
// the call returns 202 immediately.
func (h *DocumentHandler) Reindex(c *gin.Context) {
	tenant, ok := h.tenant(c)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if h.queue != nil {
		job := model.ReindexJob{
			TenantID:    tenant.ID,
			RequestID:   c.GetString(RequestIDKey),
			RequestedAt: time.Now().UTC(),
		}
		if err := h.queue.Publish(ctx, job); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = app.ErrTimeout
			}
			WriteError(c, h.logger, err)
			return
		}
		response.Accepted(c, gin.H{"tenant_id": tenant.ID, "queued": true})
		return
	}

	n, err := h.documents.Reindex(ctx, tenant.ID)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	response.Accepted(c, gin.H{"tenant_id": tenant.ID, "queued": false, "reindexed": n})
}
