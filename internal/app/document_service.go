package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"docqa-gateway/internal/ai"
	"docqa-gateway/internal/metrics"
	"docqa-gateway/internal/model"
	"docqa-gateway/internal/pkg/pdfextract"
	"docqa-gateway/internal/vectorindex"
)

const (
	defaultTitle       = "Untitled"
	embeddingBatchSize = 16
	reconcileBatchSize = 200

	// maxTitleLength matches the documents.title column width.
	maxTitleLength = 256
)

// DocumentStore is the relational side of the document store.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id uint) (*model.Document, error)
	GetByIDs(ctx context.Context, ids []uint) (map[uint]model.Document, error)
	GetByTenantAndTitle(ctx context.Context, tenantID uint, title string) (*model.Document, error)
	ListByTenant(ctx context.Context, tenantID uint) ([]model.Document, error)
	CountByTenant(ctx context.Context, tenantID uint) (int64, error)
	EachBatch(ctx context.Context, batchSize int, fn func([]model.Document) error) error
	UpdateEmbedding(ctx context.Context, id uint, embedding string) error
	DeleteByIDAndTenantID(ctx context.Context, id, tenantID uint) (bool, error)
}

// VectorIndex is the nearest-neighbor index documents are searched through.
type VectorIndex interface {
	Insert(ctx context.Context, documentID, tenantID uint, vector []float32) error
	Delete(ctx context.Context, documentID uint) error
	Query(ctx context.Context, tenantID uint, vector []float32, k int) ([]vectorindex.Hit, error)
	Contains(documentID uint) bool
	DocumentIDs() []uint
}

type DocumentService struct {
	docs     DocumentStore
	index    VectorIndex
	embedder ai.Embedder
	logger   *zap.Logger

	locksMu sync.Mutex
	locks   map[uint]*sync.Mutex
}

func NewDocumentService(docs DocumentStore, index VectorIndex, embedder ai.Embedder, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		docs:     docs,
		index:    index,
		embedder: embedder,
		logger:   logger,
		locks:    make(map[uint]*sync.Mutex),
	}
}

// tenantLock serializes writers of one tenant.
func (s *DocumentService) tenantLock(tenantID uint) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[tenantID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[tenantID] = mu
	}
	return mu
}

type IngestInput struct {
	TenantID uint
	Title    string
	Content  string
}

type IngestResult struct {
	DocumentID uint `json:"document_id"`
	Created    bool `json:"created"`
}

// Ingest stores a document and makes it searchable before returning.
// Ingesting a title the tenant already owns returns the existing document.
func (s *DocumentService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	result, err := s.ingest(ctx, input)
	switch {
	case err != nil:
		metrics.DocumentsIngested.WithLabelValues("error").Inc()
	case result.Created:
		metrics.DocumentsIngested.WithLabelValues("created").Inc()
	default:
		metrics.DocumentsIngested.WithLabelValues("existing").Inc()
	}
	return result, err
}

func (s *DocumentService) ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if input.TenantID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrInvalidInput
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = defaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title longer than %d characters", ErrInvalidInput, maxTitleLength)
	}

	mu := s.tenantLock(input.TenantID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := retryOnce(ctx, func() (*model.Document, error) {
		return s.docs.GetByTenantAndTitle(ctx, input.TenantID, title)
	})
	if err != nil {
		return nil, translate("lookup document", err)
	}
	if existing != nil {
		return &IngestResult{DocumentID: existing.ID}, nil
	}

	vec, err := retryOnce(ctx, func() ([]float32, error) {
		return s.embedder.Embed(ctx, content)
	})
	if errors.Is(err, ai.ErrEmptyInput) {
		return nil, ErrInvalidInput
	}
	if err != nil {
		return nil, translate("embed document", err)
	}

	doc := &model.Document{
		TenantID: input.TenantID,
		Title:    title,
		Content:  content,
	}
	doc.SetEmbedding(vec)
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, translate("store document", err)
	}

	if _, err := retryOnce(ctx, func() (struct{}, error) {
		return struct{}{}, s.index.Insert(ctx, doc.ID, doc.TenantID, vec)
	}); err != nil {
		s.rollback(ctx, doc)
		return nil, translate("index document", err)
	}

	s.logger.Info("document ingested",
		zap.Uint("tenant_id", doc.TenantID),
		zap.Uint("document_id", doc.ID),
		zap.String("title", doc.Title))
	return &IngestResult{DocumentID: doc.ID, Created: true}, nil
}

// rollback removes a document whose index insert failed, so no row is left
// without a searchable point.
func (s *DocumentService) rollback(ctx context.Context, doc *model.Document) {
	ctx = context.WithoutCancel(ctx)
	if err := s.index.Delete(ctx, doc.ID); err != nil {
		s.logger.Error("rollback index point failed", zap.Uint("document_id", doc.ID), zap.Error(err))
	}
	if _, err := s.docs.DeleteByIDAndTenantID(ctx, doc.ID, doc.TenantID); err != nil {
		s.logger.Error("rollback document row failed", zap.Uint("document_id", doc.ID), zap.Error(err))
	}
}

// IngestPDF extracts the text of a PDF and ingests it under title.
func (s *DocumentService) IngestPDF(ctx context.Context, tenantID uint, title string, r io.Reader) (*IngestResult, error) {
	text, err := pdfextract.ExtractText(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.Ingest(ctx, IngestInput{TenantID: tenantID, Title: title, Content: text})
}

func (s *DocumentService) Get(ctx context.Context, documentID uint) (*model.Document, error) {
	doc, err := retryOnce(ctx, func() (*model.Document, error) {
		return s.docs.GetByID(ctx, documentID)
	})
	if err != nil {
		return nil, translate("get document", err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// ListByTenant returns the tenant's documents in insertion order.
func (s *DocumentService) ListByTenant(ctx context.Context, tenantID uint) ([]model.Document, error) {
	docs, err := retryOnce(ctx, func() ([]model.Document, error) {
		return s.docs.ListByTenant(ctx, tenantID)
	})
	if err != nil {
		return nil, translate("list documents", err)
	}
	return docs, nil
}

// Delete removes a tenant's document and its index point. It reports false
// when the tenant owns no document with that ID.
func (s *DocumentService) Delete(ctx context.Context, tenantID, documentID uint) (bool, error) {
	if tenantID == 0 || documentID == 0 {
		return false, ErrInvalidInput
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	doc, err := retryOnce(ctx, func() (*model.Document, error) {
		return s.docs.GetByID(ctx, documentID)
	})
	if err != nil {
		return false, translate("get document", err)
	}
	if doc == nil || doc.TenantID != tenantID {
		return false, nil
	}

	if err := s.index.Delete(ctx, documentID); err != nil {
		return false, translate("unindex document", err)
	}
	removed, err := s.docs.DeleteByIDAndTenantID(ctx, documentID, tenantID)
	if err != nil {
		return false, translate("delete document", err)
	}
	s.logger.Info("document deleted", zap.Uint("tenant_id", tenantID), zap.Uint("document_id", documentID))
	return removed, nil
}

// Reindex re-embeds every document of the tenant and replaces its points.
func (s *DocumentService) Reindex(ctx context.Context, tenantID uint) (int, error) {
	if tenantID == 0 {
		return 0, ErrInvalidInput
	}

	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	docs, err := s.docs.ListByTenant(ctx, tenantID)
	if err != nil {
		return 0, translate("list documents", err)
	}

	done := 0
	for start := 0; start < len(docs); start += embeddingBatchSize {
		end := min(start+embeddingBatchSize, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Content
		}
		vecs, err := retryOnce(ctx, func() ([][]float32, error) {
			return s.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			return done, translate("embed documents", err)
		}

		for i := range batch {
			batch[i].SetEmbedding(vecs[i])
			if err := s.docs.UpdateEmbedding(ctx, batch[i].ID, batch[i].Embedding); err != nil {
				return done, translate("store embedding", err)
			}
			if err := s.index.Insert(ctx, batch[i].ID, tenantID, vecs[i]); err != nil {
				return done, translate("index document", err)
			}
			done++
		}
	}

	s.logger.Info("tenant reindexed", zap.Uint("tenant_id", tenantID), zap.Int("documents", done))
	return done, nil
}

// Reconcile makes the index agree with the documents table after a restart:
// rows without a point are indexed (re-embedding when the stored vector is
// unusable) and points without a row are dropped.
func (s *DocumentService) Reconcile(ctx context.Context) (added, removed int, err error) {
	seen := make(map[uint]struct{})
	dim := s.embedder.Dimension()

	err = s.docs.EachBatch(ctx, reconcileBatchSize, func(batch []model.Document) error {
		for i := range batch {
			doc := &batch[i]
			seen[doc.ID] = struct{}{}
			if s.index.Contains(doc.ID) {
				continue
			}

			vec := doc.EmbeddingVector()
			if len(vec) != dim {
				fresh, err := s.embedder.Embed(ctx, doc.Content)
				if err != nil {
					return fmt.Errorf("embed document %d failed: %w", doc.ID, err)
				}
				vec = fresh
				doc.SetEmbedding(vec)
				if err := s.docs.UpdateEmbedding(ctx, doc.ID, doc.Embedding); err != nil {
					return err
				}
			}
			if err := s.index.Insert(ctx, doc.ID, doc.TenantID, vec); err != nil {
				return fmt.Errorf("index document %d failed: %w", doc.ID, err)
			}
			added++
		}
		return nil
	})
	if err != nil {
		return added, removed, translate("reconcile index", err)
	}

	for _, id := range s.index.DocumentIDs() {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := s.index.Delete(ctx, id); err != nil {
			return added, removed, translate("drop orphan point", err)
		}
		removed++
	}
	return added, removed, nil
}
