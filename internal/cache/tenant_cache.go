package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"docqa-gateway/internal/model"
)

// TenantCache keeps resolved tenants in Redis, keyed by API key digest.
type TenantCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewTenantCache(client *redisv9.Client, ttl time.Duration) *TenantCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TenantCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *TenantCache) Get(ctx context.Context, digest string) (*model.Tenant, bool, error) {
	raw, err := c.client.Get(ctx, c.key(digest)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get tenant failed: %w", err)
	}

	var tenant model.Tenant
	if err := json.Unmarshal(raw, &tenant); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached tenant failed: %w", err)
	}
	return &tenant, true, nil
}

func (c *TenantCache) Set(ctx context.Context, digest string, tenant *model.Tenant) error {
	payload, err := json.Marshal(tenant)
	if err != nil {
		return fmt.Errorf("marshal tenant cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(digest), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set tenant failed: %w", err)
	}
	return nil
}

func (c *TenantCache) key(digest string) string {
	return "docqa:tenant:key:" + digest
}
