package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-gateway/internal/app"
	"docqa-gateway/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRetriever struct {
	ask   func(ctx context.Context, input app.AskInput) (*app.AskResult, error)
	list  func(ctx context.Context, apiKey string) ([]model.Document, error)
	calls int
}

func (f *fakeRetriever) Ask(ctx context.Context, input app.AskInput) (*app.AskResult, error) {
	f.calls++
	return f.ask(ctx, input)
}

func (f *fakeRetriever) ListDocuments(ctx context.Context, apiKey string) ([]model.Document, error) {
	f.calls++
	return f.list(ctx, apiKey)
}

type fakeDocuments struct {
	ingested  []app.IngestInput
	pdfTitles []string
	deleted   []uint
	reindexed []uint
	err       error
}

func (f *fakeDocuments) Ingest(_ context.Context, input app.IngestInput) (*app.IngestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ingested = append(f.ingested, input)
	return &app.IngestResult{DocumentID: uint(len(f.ingested)), Created: true}, nil
}

func (f *fakeDocuments) IngestPDF(_ context.Context, _ uint, title string, _ io.Reader) (*app.IngestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.pdfTitles = append(f.pdfTitles, title)
	return &app.IngestResult{DocumentID: 7, Created: true}, nil
}

func (f *fakeDocuments) Delete(_ context.Context, _ uint, documentID uint) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.deleted = append(f.deleted, documentID)
	return true, nil
}

func (f *fakeDocuments) Reindex(_ context.Context, tenantID uint) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.reindexed = append(f.reindexed, tenantID)
	return 2, nil
}

type fakeQueue struct {
	jobs []model.ReindexJob
	err  error
}

func (q *fakeQueue) Publish(_ context.Context, job model.ReindexJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func score(v float64) *float64 { return &v }

func newQARouter(r Retriever) *gin.Engine {
	h := NewQAHandler(r, time.Second, nil)
	router := gin.New()
	router.GET("/client-docs", h.ClientDocs)
	router.POST("/ask-question", h.AskQuestion)
	return router
}

func do(router http.Handler, method, path, apiKey string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAskQuestion_Hits(t *testing.T) {
	r := &fakeRetriever{ask: func(_ context.Context, input app.AskInput) (*app.AskResult, error) {
		assert.Equal(t, "tenantA_key", input.APIKey)
		assert.Equal(t, 3, input.TopK)
		return &app.AskResult{
			Kind:     app.ResultHits,
			Question: input.Question,
			Results: []app.RetrievedDocument{
				{Content: "a", Source: "docA1", RelevanceScore: score(0.142)},
				{Content: "b", Source: "docA2"},
			},
		}, nil
	}}

	w := do(newQARouter(r), http.MethodPost, "/ask-question", "tenantA_key",
		bytes.NewBufferString(`{"question":"Comment résilier un contrat ?","top_k":3}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "Comment résilier un contrat ?", body["question"])
	assert.EqualValues(t, 2, body["total_results"])
	assert.NotContains(t, body, "message")

	results := body["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "docA1", first["source"])
	assert.Equal(t, 0.142, first["relevance_score"])
	second := results[1].(map[string]any)
	assert.Contains(t, second, "relevance_score")
	assert.Nil(t, second["relevance_score"])
}

func TestAskQuestion_EmptyAndNoDocuments(t *testing.T) {
	for _, kind := range []app.ResultKind{app.ResultEmpty, app.ResultNoDocuments} {
		t.Run(kind.String(), func(t *testing.T) {
			r := &fakeRetriever{ask: func(_ context.Context, input app.AskInput) (*app.AskResult, error) {
				return &app.AskResult{Kind: kind, Question: input.Question, Results: []app.RetrievedDocument{}, Notice: "nothing"}, nil
			}}
			w := do(newQARouter(r), http.MethodPost, "/ask-question", "k", bytes.NewBufferString(`{"question":"q"}`), "application/json")
			require.Equal(t, http.StatusOK, w.Code)

			body := decode(t, w)
			assert.Equal(t, "nothing", body["message"])
			assert.Equal(t, []any{}, body["results"])
			assert.NotContains(t, body, "total_results")
		})
	}
}

func TestAskQuestion_MissingKeyWinsOverBadBody(t *testing.T) {
	r := &fakeRetriever{}
	w := do(newQARouter(r), http.MethodPost, "/ask-question", "", bytes.NewBufferString(`not json`), "application/json")
	require.Equal(t, http.StatusForbidden, w.Code)

	body := decode(t, w)
	assert.EqualValues(t, 40300, body["code"])
	assert.Equal(t, "X-API-Key header missing", body["detail"])
	assert.Zero(t, r.calls)
}

func TestAskQuestion_BadBody(t *testing.T) {
	r := &fakeRetriever{}
	w := do(newQARouter(r), http.MethodPost, "/ask-question", "k", bytes.NewBufferString(`{"question":`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(newQARouter(r), http.MethodPost, "/ask-question", "k", bytes.NewBufferString(`{"question":"q","top_k":-1}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, r.calls)
}

func TestAskQuestion_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   float64
		detail string
	}{
		{app.ErrInvalidAPIKey, http.StatusForbidden, 40300, "Invalid API Key"},
		{app.ErrInvalidInput, http.StatusBadRequest, 40000, "invalid input"},
		{app.ErrTenantNotFound, http.StatusNotFound, 40401, "Client not found"},
		{app.ErrNoDocuments, http.StatusNotFound, 40402, "No documents found for this client"},
		{app.ErrTimeout, http.StatusServiceUnavailable, 50300, "request timed out, retry later"},
		{fmt.Errorf("query index: %w: %w", app.ErrInternal, errors.New("dial tcp 10.0.0.3:3306: refused")), http.StatusInternalServerError, 50000, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.detail, func(t *testing.T) {
			r := &fakeRetriever{ask: func(context.Context, app.AskInput) (*app.AskResult, error) { return nil, tc.err }}
			w := do(newQARouter(r), http.MethodPost, "/ask-question", "k", bytes.NewBufferString(`{"question":"q"}`), "application/json")
			require.Equal(t, tc.status, w.Code)

			body := decode(t, w)
			assert.Equal(t, tc.code, body["code"])
			assert.Equal(t, tc.detail, body["detail"])
			assert.NotContains(t, w.Body.String(), "10.0.0.3")
			if tc.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestAskQuestion_AppliesTimeout(t *testing.T) {
	r := &fakeRetriever{ask: func(ctx context.Context, _ app.AskInput) (*app.AskResult, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return &app.AskResult{Kind: app.ResultEmpty, Results: []app.RetrievedDocument{}}, nil
	}}
	w := do(newQARouter(r), http.MethodPost, "/ask-question", "k", bytes.NewBufferString(`{"question":"q"}`), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientDocs(t *testing.T) {
	r := &fakeRetriever{list: func(_ context.Context, apiKey string) ([]model.Document, error) {
		if apiKey != "tenantB_key" {
			return nil, app.ErrInvalidAPIKey
		}
		return []model.Document{
			{ID: 3, TenantID: 2, Title: "docB1_garantie_vol", Content: "Procédure sinistre"},
			{ID: 4, TenantID: 2, Title: "docB2_produit_rc_pro_b", Content: "Produit RC Pro B"},
		}, nil
	}}
	router := newQARouter(r)

	w := do(router, http.MethodGet, "/client-docs", "tenantB_key", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var docs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, map[string]any{"title": "docB1_garantie_vol", "content": "Procédure sinistre"}, docs[0])

	w = do(router, http.MethodGet, "/client-docs", "other", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestClientDocs_NoDocuments(t *testing.T) {
	r := &fakeRetriever{list: func(context.Context, string) ([]model.Document, error) { return nil, app.ErrNoDocuments }}
	w := do(newQARouter(r), http.MethodGet, "/client-docs", "tenantC_key", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.EqualValues(t, 40402, decode(t, w)["code"])
}

func newDocumentRouter(docs DocumentManager, queue ReindexQueue, tenant *model.Tenant) *gin.Engine {
	h := NewDocumentHandler(docs, queue, time.Second, nil)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if tenant != nil {
			c.Set(TenantKey, tenant)
		}
		c.Set(RequestIDKey, "req-1")
	})
	router.POST("/documents", h.Create)
	router.POST("/documents/pdf", h.UploadPDF)
	router.DELETE("/documents/:id", h.Delete)
	router.POST("/reindex", h.Reindex)
	return router
}

func TestDocumentHandler_Create(t *testing.T) {
	docs := &fakeDocuments{}
	router := newDocumentRouter(docs, nil, &model.Tenant{ID: 1, Name: "Client A"})

	w := do(router, http.MethodPost, "/documents", "", bytes.NewBufferString(`{"title":"t","content":"c"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.EqualValues(t, 1, data["document_id"])
	assert.Equal(t, true, data["created"])
	require.Len(t, docs.ingested, 1)
	assert.Equal(t, app.IngestInput{TenantID: 1, Title: "t", Content: "c"}, docs.ingested[0])

	w = do(router, http.MethodPost, "/documents", "", bytes.NewBufferString(`{"title":"t"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_RequiresTenant(t *testing.T) {
	router := newDocumentRouter(&fakeDocuments{}, nil, nil)
	w := do(router, http.MethodPost, "/documents", "", bytes.NewBufferString(`{"content":"c"}`), "application/json")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func multipartBody(t *testing.T, filename, title string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	if title != "" {
		require.NoError(t, mw.WriteField("title", title))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestDocumentHandler_UploadPDF(t *testing.T) {
	docs := &fakeDocuments{}
	router := newDocumentRouter(docs, nil, &model.Tenant{ID: 1})

	body, ct := multipartBody(t, "notes.txt", "", []byte("hello"))
	w := do(router, http.MethodPost, "/documents/pdf", "", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = multipartBody(t, "Conditions Generales.PDF", "", []byte("%PDF-1.4"))
	w = do(router, http.MethodPost, "/documents/pdf", "", body, ct)
	require.Equal(t, http.StatusOK, w.Code)

	body, ct = multipartBody(t, "x.pdf", "cg_2024", []byte("%PDF-1.4"))
	w = do(router, http.MethodPost, "/documents/pdf", "", body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Conditions Generales", "cg_2024"}, docs.pdfTitles)

	w = do(router, http.MethodPost, "/documents/pdf", "", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_Delete(t *testing.T) {
	docs := &fakeDocuments{}
	router := newDocumentRouter(docs, nil, &model.Tenant{ID: 1})

	w := do(router, http.MethodDelete, "/documents/abc", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(router, http.MethodDelete, "/documents/0", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodDelete, "/documents/42", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uint{42}, docs.deleted)
}

func TestDocumentHandler_ReindexQueued(t *testing.T) {
	docs := &fakeDocuments{}
	queue := &fakeQueue{}
	router := newDocumentRouter(docs, queue, &model.Tenant{ID: 5})

	w := do(router, http.MethodPost, "/reindex", "", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, uint(5), queue.jobs[0].TenantID)
	assert.Equal(t, "req-1", queue.jobs[0].RequestID)
	assert.False(t, queue.jobs[0].RequestedAt.IsZero())
	assert.Empty(t, docs.reindexed)

	queue.err = errors.New("channel closed")
	w = do(router, http.MethodPost, "/reindex", "", nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestDocumentHandler_ReindexInline(t *testing.T) {
	docs := &fakeDocuments{}
	router := newDocumentRouter(docs, nil, &model.Tenant{ID: 5})

	w := do(router, http.MethodPost, "/reindex", "", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []uint{5}, docs.reindexed)
	data := decode(t, w)["data"].(map[string]any)
	assert.EqualValues(t, 2, data["reindexed"])
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler("docqa-gateway", "test", time.Now(), func() int { return 4 },
		DependencyCheck{Name: "mysql", Check: func(context.Context) error { return nil }},
	)
	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/healthz", h.Check)

	w := do(router, http.MethodGet, "/", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"status": "healthy", "message": "Server is running"}, decode(t, w))

	w = do(router, http.MethodGet, "/healthz", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 4, body["index_points"])
	assert.Equal(t, "docqa-gateway", body["app"])

	down := NewHealthHandler("docqa-gateway", "test", time.Now(), nil,
		DependencyCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)
	router = gin.New()
	router.GET("/healthz", down.Check)
	w = do(router, http.MethodGet, "/healthz", "", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	deps := decode(t, w)["dependencies"].(map[string]any)
	assert.Equal(t, map[string]any{"ok": false, "message": "connection refused"}, deps["redis"])
}
