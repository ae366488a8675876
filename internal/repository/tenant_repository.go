package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docqa-gateway/internal/model"
)

type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// CreateWithKey inserts tenant and its key in one transaction. key.TenantID
// is filled from the new tenant row.
func (r *TenantRepository) CreateWithKey(ctx context.Context, tenant *model.Tenant, key *model.APIKey) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tenant).Error; err != nil {
			return fmt.Errorf("create tenant failed: %w", err)
		}
		key.TenantID = tenant.ID
		if err := tx.Create(key).Error; err != nil {
			return fmt.Errorf("create tenant key failed: %w", err)
		}
		return nil
	})
	return err
}

func (r *TenantRepository) GetByID(ctx context.Context, id uint) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query tenant by id failed: %w", err)
	}
	return &tenant, nil
}

func (r *TenantRepository) GetByName(ctx context.Context, name string) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query tenant by name failed: %w", err)
	}
	return &tenant, nil
}

func (r *TenantRepository) GetKeyByDigest(ctx context.Context, digest string) (*model.APIKey, error) {
	var key model.APIKey
	if err := r.db.WithContext(ctx).Where("digest = ?", digest).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query tenant key by digest failed: %w", err)
	}
	return &key, nil
}
