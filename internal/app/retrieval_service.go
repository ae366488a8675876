package app

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"

	"docqa-gateway/internal/ai"
	"docqa-gateway/internal/metrics"
	"docqa-gateway/internal/model"
	"docqa-gateway/internal/vectorindex"
)

const (
	DefaultTopK = 10
	MaxTopK     = 50

	NoticeNoDocuments = "No documents found for this client"
	NoticeNoResults   = "No relevant documents found for this question"
)

// TenantResolver resolves API keys; TenantDirectory implements it.
type TenantResolver interface {
	Resolve(ctx context.Context, apiKey string) (*model.Tenant, error)
}

// ResultKind tells apart the three successful outcomes of Ask.
type ResultKind int

const (
	ResultHits ResultKind = iota
	ResultEmpty
	ResultNoDocuments
)

func (k ResultKind) String() string {
	switch k {
	case ResultHits:
		return "hits"
	case ResultEmpty:
		return "empty"
	case ResultNoDocuments:
		return "no_documents"
	default:
		return "unknown"
	}
}

// RetrievedDocument is one ranked answer. RelevanceScore is nil when the
// index could not score the hit.
type RetrievedDocument struct {
	Content        string   `json:"content"`
	Source         string   `json:"source"`
	RelevanceScore *float64 `json:"relevance_score"`
}

type AskInput struct {
	APIKey   string
	Question string
	TopK     int
}

type AskResult struct {
	Kind     ResultKind
	Question string
	Results  []RetrievedDocument
	Notice   string
}

type RetrievalService struct {
	directory TenantResolver
	docs      DocumentStore
	index     VectorIndex
	embedder  ai.Embedder
	topK      int
	minScore  float64
	logger    *zap.Logger
}

func NewRetrievalService(
	directory TenantResolver,
	docs DocumentStore,
	index VectorIndex,
	embedder ai.Embedder,
	topK int,
	minScore float64,
	logger *zap.Logger,
) *RetrievalService {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalService{
		directory: directory,
		docs:      docs,
		index:     index,
		embedder:  embedder,
		topK:      topK,
		minScore:  minScore,
		logger:    logger,
	}
}

// Ask returns the tenant's documents most relevant to the question.
func (s *RetrievalService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	result, err := s.ask(ctx, input)
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RetrievalRequests.WithLabelValues(result.Kind.String()).Inc()
	return result, nil
}

func (s *RetrievalService) ask(ctx context.Context, input AskInput) (*AskResult, error) {
	if strings.TrimSpace(input.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrInvalidInput
	}
	k := input.TopK
	if k <= 0 {
		k = s.topK
	}
	k = min(k, MaxTopK)

	tenant, err := s.directory.Resolve(ctx, input.APIKey)
	if err != nil {
		return nil, err
	}

	count, err := retryOnce(ctx, func() (int64, error) {
		return s.docs.CountByTenant(ctx, tenant.ID)
	})
	if err != nil {
		return nil, translate("count documents", err)
	}
	if count == 0 {
		return &AskResult{
			Kind:     ResultNoDocuments,
			Question: question,
			Results:  []RetrievedDocument{},
			Notice:   NoticeNoDocuments,
		}, nil
	}

	empty := &AskResult{
		Kind:     ResultEmpty,
		Question: question,
		Results:  []RetrievedDocument{},
		Notice:   NoticeNoResults,
	}

	vec, err := retryOnce(ctx, func() ([]float32, error) {
		return s.embedder.Embed(ctx, question)
	})
	if errors.Is(err, ai.ErrEmptyInput) {
		// Nothing searchable in the question, e.g. only punctuation.
		return empty, nil
	}
	if err != nil {
		return nil, translate("embed question", err)
	}

	hits, err := retryOnce(ctx, func() ([]vectorindex.Hit, error) {
		return s.index.Query(ctx, tenant.ID, vec, k)
	})
	if err != nil {
		return nil, translate("query index", err)
	}

	kept := hits[:0]
	for _, h := range hits {
		if score, ok := h.Similarity(); ok && score < s.minScore {
			continue
		}
		kept = append(kept, h)
	}
	if len(kept) == 0 {
		return empty, nil
	}

	ids := make([]uint, len(kept))
	for i, h := range kept {
		ids[i] = h.DocumentID
	}
	docs, err := retryOnce(ctx, func() (map[uint]model.Document, error) {
		return s.docs.GetByIDs(ctx, ids)
	})
	if err != nil {
		return nil, translate("load documents", err)
	}

	results := make([]RetrievedDocument, 0, len(kept))
	for _, h := range kept {
		doc, ok := docs[h.DocumentID]
		if !ok {
			s.logger.Warn("index hit without document row", zap.Uint("document_id", h.DocumentID))
			continue
		}
		if doc.TenantID != tenant.ID {
			s.logger.Error("index hit crosses tenants",
				zap.Uint("tenant_id", tenant.ID),
				zap.Uint("document_id", doc.ID),
				zap.Uint("owner_id", doc.TenantID))
			continue
		}
		results = append(results, RetrievedDocument{
			Content:        doc.Content,
			Source:         doc.Title,
			RelevanceScore: roundedScore(h),
		})
	}
	if len(results) == 0 {
		return empty, nil
	}

	return &AskResult{
		Kind:     ResultHits,
		Question: question,
		Results:  results,
	}, nil
}

// ListDocuments returns every document of the key's tenant.
func (s *RetrievalService) ListDocuments(ctx context.Context, apiKey string) ([]model.Document, error) {
	tenant, err := s.directory.Resolve(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	docs, err := retryOnce(ctx, func() ([]model.Document, error) {
		return s.docs.ListByTenant(ctx, tenant.ID)
	})
	if err != nil {
		return nil, translate("list documents", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs, nil
}

func roundedScore(h vectorindex.Hit) *float64 {
	score, ok := h.Similarity()
	if !ok {
		return nil
	}
	rounded := math.Round(score*1000) / 1000
	return &rounded
}
