package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docqa-gateway/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// GetByIDs returns the documents with the given IDs, keyed by ID. Missing IDs
// are simply absent from the map.
func (r *DocumentRepository) GetByIDs(ctx context.Context, ids []uint) (map[uint]model.Document, error) {
	if len(ids) == 0 {
		return map[uint]model.Document{}, nil
	}
	var list []model.Document
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents by ids failed: %w", err)
	}
	out := make(map[uint]model.Document, len(list))
	for _, d := range list {
		out[d.ID] = d
	}
	return out, nil
}

func (r *DocumentRepository) GetByTenantAndTitle(ctx context.Context, tenantID uint, title string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND title = ?", tenantID, title).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document by title failed: %w", err)
	}
	return &doc, nil
}

// ListByTenant returns the tenant's documents in insertion order.
func (r *DocumentRepository) ListByTenant(ctx context.Context, tenantID uint) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

func (r *DocumentRepository) CountByTenant(ctx context.Context, tenantID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("tenant_id = ?", tenantID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count documents failed: %w", err)
	}
	return n, nil
}

// EachBatch walks every document in ID order, batchSize rows at a time.
func (r *DocumentRepository) EachBatch(ctx context.Context, batchSize int, fn func([]model.Document) error) error {
	var batch []model.Document
	res := r.db.WithContext(ctx).Order("id ASC").FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	})
	if res.Error != nil {
		return fmt.Errorf("scan documents failed: %w", res.Error)
	}
	return nil
}

func (r *DocumentRepository) UpdateEmbedding(ctx context.Context, id uint, embedding string) error {
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Update("embedding", embedding).Error; err != nil {
		return fmt.Errorf("update document embedding failed: %w", err)
	}
	return nil
}

// DeleteByIDAndTenantID reports whether a row was removed.
func (r *DocumentRepository) DeleteByIDAndTenantID(ctx context.Context, id, tenantID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&model.Document{})
	if res.Error != nil {
		return false, fmt.Errorf("delete document failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
