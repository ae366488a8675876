package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appsvc "docqa-gateway/internal/app"
	"docqa-gateway/internal/model"
)

const seedTOML = `
[[clients]]
name = "Client A"
api_key = "tenantA_key"

  [[clients.documents]]
  title = "docA1_procedure_resiliation"
  content = """
Procédure résiliation
La résiliation doit être enregistrée dans le CRM.
"""

  [[clients.documents]]
  title = "docA2_produit_rc_pro_a"
  content = "Produit RC Pro A"

[[clients]]
name = "Client B"
api_key = "tenantB_key"
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeed(t *testing.T) {
	seed, err := LoadSeed(writeSeed(t, seedTOML))
	require.NoError(t, err)
	require.Len(t, seed.Clients, 2)

	a := seed.Clients[0]
	assert.Equal(t, "Client A", a.Name)
	assert.Equal(t, "tenantA_key", a.APIKey)
	require.Len(t, a.Documents, 2)
	assert.Equal(t, "docA1_procedure_resiliation", a.Documents[0].Title)
	assert.Contains(t, a.Documents[0].Content, "résiliation doit être enregistrée")
	assert.Empty(t, seed.Clients[1].Documents)
}

func TestLoadSeed_Invalid(t *testing.T) {
	_, err := LoadSeed(writeSeed(t, "[[clients]]\nname = \"Client A\"\n"))
	assert.Error(t, err)

	_, err = LoadSeed(writeSeed(t, "not = [toml"))
	assert.Error(t, err)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

type recordingRegistrar struct {
	names []string
}

func (r *recordingRegistrar) Register(_ context.Context, name, _ string) (*model.Tenant, error) {
	r.names = append(r.names, name)
	return &model.Tenant{ID: uint(len(r.names)), Name: name}, nil
}

type recordingIngester struct {
	inputs []appsvc.IngestInput
	err    error
}

func (r *recordingIngester) Ingest(_ context.Context, input appsvc.IngestInput) (*appsvc.IngestResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.inputs = append(r.inputs, input)
	return &appsvc.IngestResult{DocumentID: uint(len(r.inputs)), Created: true}, nil
}

func TestApplySeed(t *testing.T) {
	seed, err := LoadSeed(writeSeed(t, seedTOML))
	require.NoError(t, err)

	tenants := &recordingRegistrar{}
	docs := &recordingIngester{}
	require.NoError(t, ApplySeed(context.Background(), seed, tenants, docs, zap.NewNop()))

	assert.Equal(t, []string{"Client A", "Client B"}, tenants.names)
	require.Len(t, docs.inputs, 2)
	assert.Equal(t, uint(1), docs.inputs[0].TenantID)
	assert.Equal(t, "docA2_produit_rc_pro_a", docs.inputs[1].Title)
}

func TestApplySeed_PropagatesErrors(t *testing.T) {
	seed, err := LoadSeed(writeSeed(t, seedTOML))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = ApplySeed(context.Background(), seed, &recordingRegistrar{}, &recordingIngester{err: boom}, zap.NewNop())
	assert.ErrorIs(t, err, boom)
}

func TestSeedFileInRepo(t *testing.T) {
	seed, err := LoadSeed(filepath.Join("..", "..", "configs", "seed.toml"))
	require.NoError(t, err)
	require.Len(t, seed.Clients, 2)
	for _, c := range seed.Clients {
		assert.Len(t, c.Documents, 2)
	}
}
