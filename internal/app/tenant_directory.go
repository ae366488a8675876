package app

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"docqa-gateway/internal/metrics"
	"docqa-gateway/internal/model"
)

// lookupTimeout bounds a shared key lookup. The lookup runs detached from any
// single caller so one cancelled request cannot fail the others waiting on it.
const lookupTimeout = 5 * time.Second

// TenantStore is the persistent side of the directory.
type TenantStore interface {
	CreateWithKey(ctx context.Context, tenant *model.Tenant, key *model.APIKey) error
	GetByID(ctx context.Context, id uint) (*model.Tenant, error)
	GetByName(ctx context.Context, name string) (*model.Tenant, error)
	GetKeyByDigest(ctx context.Context, digest string) (*model.APIKey, error)
}

// TenantCache is an optional read-through cache in front of TenantStore.
type TenantCache interface {
	Get(ctx context.Context, digest string) (*model.Tenant, bool, error)
	Set(ctx context.Context, digest string, tenant *model.Tenant) error
}

// TenantDirectory maps API keys to tenants.
type TenantDirectory struct {
	tenants TenantStore
	cache   TenantCache
	logger  *zap.Logger
	group   singleflight.Group
}

// NewTenantDirectory builds a directory. cache may be nil.
func NewTenantDirectory(tenants TenantStore, cache TenantCache, logger *zap.Logger) *TenantDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantDirectory{
		tenants: tenants,
		cache:   cache,
		logger:  logger,
	}
}

// DigestAPIKey is the hex BLAKE2b-256 of a raw key. Only digests are stored.
func DigestAPIKey(apiKey string) string {
	sum := blake2b.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// Resolve returns the tenant owning apiKey.
func (d *TenantDirectory) Resolve(ctx context.Context, apiKey string) (*model.Tenant, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	digest := DigestAPIKey(apiKey)

	if d.cache != nil {
		tenant, ok, err := d.cache.Get(ctx, digest)
		switch {
		case err != nil:
			metrics.TenantCacheLookups.WithLabelValues("error").Inc()
			d.logger.Warn("tenant cache lookup failed", zap.Error(err))
		case ok:
			metrics.TenantCacheLookups.WithLabelValues("hit").Inc()
			return tenant, nil
		default:
			metrics.TenantCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	ch := d.group.DoChan(digest, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return d.lookup(lctx, digest)
	})
	select {
	case <-ctx.Done():
		return nil, translate("resolve api key", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*model.Tenant), nil
	}
}

func (d *TenantDirectory) lookup(ctx context.Context, digest string) (*model.Tenant, error) {
	key, err := retryOnce(ctx, func() (*model.APIKey, error) {
		return d.tenants.GetKeyByDigest(ctx, digest)
	})
	if err != nil {
		return nil, translate("resolve api key", err)
	}
	if key == nil {
		return nil, ErrInvalidAPIKey
	}

	tenant, err := retryOnce(ctx, func() (*model.Tenant, error) {
		return d.tenants.GetByID(ctx, key.TenantID)
	})
	if err != nil {
		return nil, translate("load tenant", err)
	}
	if tenant == nil {
		d.logger.Error("api key references a missing tenant",
			zap.Uint("tenant_id", key.TenantID),
			zap.Uint("key_id", key.ID))
		return nil, ErrTenantNotFound
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, digest, tenant); err != nil {
			d.logger.Warn("tenant cache store failed", zap.Error(err))
		}
	}
	return tenant, nil
}

// Register creates a tenant bound to apiKey. When a tenant with the same name
// already exists it is returned unchanged and apiKey is ignored.
func (d *TenantDirectory) Register(ctx context.Context, name, apiKey string) (*model.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(apiKey) == "" {
		return nil, ErrInvalidInput
	}

	existing, err := d.tenants.GetByName(ctx, name)
	if err != nil {
		return nil, translate("lookup tenant", err)
	}
	if existing != nil {
		return existing, nil
	}

	tenant := &model.Tenant{Name: name}
	key := &model.APIKey{Digest: DigestAPIKey(apiKey)}
	if err := d.tenants.CreateWithKey(ctx, tenant, key); err != nil {
		return nil, translate("register tenant", err)
	}
	d.logger.Info("tenant registered", zap.Uint("tenant_id", tenant.ID), zap.String("name", name))
	return tenant, nil
}
