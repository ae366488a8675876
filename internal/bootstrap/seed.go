package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	appsvc "docqa-gateway/internal/app"
	"docqa-gateway/internal/model"
)

// Seed is the demo data loaded at startup.
type Seed struct {
	Clients []SeedClient `toml:"clients"`
}

type SeedClient struct {
	Name      string         `toml:"name"`
	APIKey    string         `toml:"api_key"`
	Documents []SeedDocument `toml:"documents"`
}

type SeedDocument struct {
	Title   string `toml:"title"`
	Content string `toml:"content"`
}

type tenantRegistrar interface {
	Register(ctx context.Context, name, apiKey string) (*model.Tenant, error)
}

type documentIngester interface {
	Ingest(ctx context.Context, input appsvc.IngestInput) (*appsvc.IngestResult, error)
}

func LoadSeed(path string) (*Seed, error) {
	var seed Seed
	if _, err := toml.DecodeFile(path, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file failed: %w", err)
	}
	for i, c := range seed.Clients {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.APIKey) == "" {
			return nil, fmt.Errorf("seed client #%d needs a name and an api_key", i+1)
		}
	}
	return &seed, nil
}

// ApplySeed registers each client and ingests its documents. Both steps are
// idempotent, so applying the same seed on every start is safe.
func ApplySeed(ctx context.Context, seed *Seed, tenants tenantRegistrar, documents documentIngester, logger *zap.Logger) error {
	for _, c := range seed.Clients {
		tenant, err := tenants.Register(ctx, c.Name, c.APIKey)
		if err != nil {
			return fmt.Errorf("seed client %q failed: %w", c.Name, err)
		}

		created := 0
		for _, d := range c.Documents {
			res, err := documents.Ingest(ctx, appsvc.IngestInput{
				TenantID: tenant.ID,
				Title:    d.Title,
				Content:  d.Content,
			})
			if err != nil {
				return fmt.Errorf("seed document %q for client %q failed: %w", d.Title, c.Name, err)
			}
			if res.Created {
				created++
			}
		}
		logger.Info("seed client applied",
			zap.String("client", c.Name),
			zap.Uint("tenant_id", tenant.ID),
			zap.Int("documents_created", created))
	}
	return nil
}
