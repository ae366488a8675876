package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docqa-gateway/internal/app"
	"docqa-gateway/internal/model"
	"docqa-gateway/internal/transport/http/response"
)

// Retriever answers questions against a tenant's documents.
type Retriever interface {
	Ask(ctx context.Context, input app.AskInput) (*app.AskResult, error)
	ListDocuments(ctx context.Context, apiKey string) ([]model.Document, error)
}

// QAHandler serves the two endpoints the web client talks to. Their bodies
// are not wrapped in the response envelope.
type QAHandler struct {
	retriever Retriever
	timeout   time.Duration
	logger    *zap.Logger
}

func NewQAHandler(retriever Retriever, timeout time.Duration, logger *zap.Logger) *QAHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QAHandler{retriever: retriever, timeout: timeout, logger: logger}
}

type clientDoc struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type askResponse struct {
	Question     string                  `json:"question"`
	Results      []app.RetrievedDocument `json:"results"`
	TotalResults *int                    `json:"total_results,omitempty"`
	Message      string                  `json:"message,omitempty"`
}

func (h *QAHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// ClientDocs lists every document of the caller's tenant.
func (h *QAHandler) ClientDocs(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	docs, err := h.retriever.ListDocuments(ctx, c.GetHeader(APIKeyHeader))
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	out := make([]clientDoc, len(docs))
	for i, d := range docs {
		out[i] = clientDoc{Title: d.Title, Content: d.Content}
	}
	c.JSON(http.StatusOK, out)
}

// AskQuestion ranks the tenant's documents against the question.
func (h *QAHandler) AskQuestion(c *gin.Context) {
	apiKey := c.GetHeader(APIKeyHeader)
	if strings.TrimSpace(apiKey) == "" {
		WriteError(c, h.logger, app.ErrMissingAPIKey)
		return
	}

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}
	if req.TopK < 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "top_k must not be negative")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result, err := h.retriever.Ask(ctx, app.AskInput{
		APIKey:   apiKey,
		Question: req.Question,
		TopK:     req.TopK,
	})
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}

	resp := askResponse{Question: result.Question, Results: result.Results}
	if result.Kind == app.ResultHits {
		total := len(result.Results)
		resp.TotalResults = &total
	} else {
		resp.Message = result.Notice
	}
	c.JSON(http.StatusOK, resp)
}
