package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"docqa-gateway/internal/ai"
	"docqa-gateway/internal/model"
	"docqa-gateway/internal/vectorindex"
)

var errFlaky = errors.New("connection reset by peer")

type memTenantStore struct {
	mu      sync.Mutex
	nextID  uint
	tenants map[uint]*model.Tenant
	keys    map[string]*model.APIKey

	digestCalls int
	failDigest  int
}

func newMemTenantStore() *memTenantStore {
	return &memTenantStore{
		tenants: make(map[uint]*model.Tenant),
		keys:    make(map[string]*model.APIKey),
	}
}

func (s *memTenantStore) CreateWithKey(_ context.Context, tenant *model.Tenant, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	tenant.ID = s.nextID
	key.ID = s.nextID
	key.TenantID = tenant.ID
	t := *tenant
	k := *key
	s.tenants[t.ID] = &t
	s.keys[k.Digest] = &k
	return nil
}

func (s *memTenantStore) GetByID(_ context.Context, id uint) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, nil
	}
	out := *t
	return &out, nil
}

func (s *memTenantStore) GetByName(_ context.Context, name string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Name == name {
			out := *t
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memTenantStore) GetKeyByDigest(_ context.Context, digest string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digestCalls++
	if s.failDigest > 0 {
		s.failDigest--
		return nil, errFlaky
	}
	k, ok := s.keys[digest]
	if !ok {
		return nil, nil
	}
	out := *k
	return &out, nil
}

type memTenantCache struct {
	mu      sync.Mutex
	entries map[string]model.Tenant
	err     error
	sets    int
}

func newMemTenantCache() *memTenantCache {
	return &memTenantCache{entries: make(map[string]model.Tenant)}
}

func (c *memTenantCache) Get(_ context.Context, digest string) (*model.Tenant, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	t, ok := c.entries[digest]
	if !ok {
		return nil, false, nil
	}
	return &t, true, nil
}

func (c *memTenantCache) Set(_ context.Context, digest string, tenant *model.Tenant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sets++
	c.entries[digest] = *tenant
	return nil
}

type memDocStore struct {
	mu     sync.Mutex
	nextID uint
	docs   map[uint]model.Document

	failCount int
}

func newMemDocStore() *memDocStore {
	return &memDocStore{docs: make(map[uint]model.Document)}
}

func (s *memDocStore) fail() error {
	if s.failCount > 0 {
		s.failCount--
		return errFlaky
	}
	return nil
}

func (s *memDocStore) Create(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	doc.ID = s.nextID
	s.docs[doc.ID] = *doc
	return nil
}

func (s *memDocStore) GetByID(_ context.Context, id uint) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *memDocStore) GetByIDs(_ context.Context, ids []uint) (map[uint]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	out := make(map[uint]model.Document)
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func (s *memDocStore) GetByTenantAndTitle(_ context.Context, tenantID uint, title string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.TenantID == tenantID && d.Title == title {
			return &d, nil
		}
	}
	return nil, nil
}

func (s *memDocStore) sorted() []model.Document {
	list := make([]model.Document, 0, len(s.docs))
	for _, d := range s.docs {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (s *memDocStore) ListByTenant(_ context.Context, tenantID uint) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Document
	for _, d := range s.sorted() {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memDocStore) CountByTenant(_ context.Context, tenantID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	var n int64
	for _, d := range s.docs {
		if d.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (s *memDocStore) EachBatch(_ context.Context, batchSize int, fn func([]model.Document) error) error {
	s.mu.Lock()
	all := s.sorted()
	s.mu.Unlock()
	for start := 0; start < len(all); start += batchSize {
		end := min(start+batchSize, len(all))
		if err := fn(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *memDocStore) UpdateEmbedding(_ context.Context, id uint, embedding string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if ok {
		d.Embedding = embedding
		s.docs[id] = d
	}
	return nil
}

func (s *memDocStore) DeleteByIDAndTenantID(_ context.Context, id, tenantID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok || d.TenantID != tenantID {
		return false, nil
	}
	delete(s.docs, id)
	return true, nil
}

// failingIndex wraps a real index and fails every Insert.
type failingIndex struct {
	*vectorindex.Index
}

func (f failingIndex) Insert(context.Context, uint, uint, []float32) error {
	return errors.New("snapshot store unavailable")
}

// scorelessIndex returns hits without a distance.
type scorelessIndex struct {
	*vectorindex.Index
}

func (s scorelessIndex) Query(ctx context.Context, tenantID uint, vector []float32, k int) ([]vectorindex.Hit, error) {
	hits, err := s.Index.Query(ctx, tenantID, vector, k)
	for i := range hits {
		hits[i].Distance = nil
	}
	return hits, err
}

// flakyEmbedder fails the first failures calls with a 503.
type flakyEmbedder struct {
	ai.Embedder
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, &ai.StatusError{StatusCode: 503, Body: "overloaded"}
	}
	return f.Embedder.Embed(ctx, text)
}

const testDim = 384

type fixture struct {
	tenants   *memTenantStore
	docs      *memDocStore
	index     *vectorindex.Index
	embedder  ai.Embedder
	directory *TenantDirectory
	documents *DocumentService
	retrieval *RetrievalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	embedder, err := ai.NewHashingEmbedder(testDim)
	require.NoError(t, err)
	index, err := vectorindex.New(testDim, nil, nil)
	require.NoError(t, err)

	f := &fixture{
		tenants:  newMemTenantStore(),
		docs:     newMemDocStore(),
		index:    index,
		embedder: embedder,
	}
	f.directory = NewTenantDirectory(f.tenants, nil, nil)
	f.documents = NewDocumentService(f.docs, f.index, f.embedder, nil)
	f.retrieval = NewRetrievalService(f.directory, f.docs, f.index, f.embedder, DefaultTopK, -1, nil)
	return f
}

func (f *fixture) register(t *testing.T, name, key string) *model.Tenant {
	t.Helper()
	tenant, err := f.directory.Register(context.Background(), name, key)
	require.NoError(t, err)
	return tenant
}

func (f *fixture) ingest(t *testing.T, tenantID uint, title, content string) uint {
	t.Helper()
	res, err := f.documents.Ingest(context.Background(), IngestInput{TenantID: tenantID, Title: title, Content: content})
	require.NoError(t, err)
	return res.DocumentID
}

const (
	contentResiliation = `Procédure résiliation
La résiliation doit être enregistrée dans le CRM.
Un accusé de réception est envoyé sous 48h.
Le responsable conformité valide les dossiers sensibles.`

	contentRCProA = `Produit RC Pro A
La RC Pro couvre les dommages causés aux tiers dans le cadre de l'activité déclarée.
Exclusion : travaux en hauteur au-delà de 3 mètres.
Déclaration de sinistre : service sinistres@assureur-a.fr.`

	contentSinistreB = `Procédure sinistre
Tout sinistre doit être déclaré dans les 5 jours ouvrés.
L'équipe gestion transmet le dossier au gestionnaire assureur.
Le suivi du sinistre est effectué de manière hebdomadaire.`

	contentRCProB = `Produit RC Pro B
La RC Pro couvre l'activité déclarée.
Exclusion : sous-traitance non déclarée.
Déclaration de sinistre : claims@assureur-b.com.`
)

// seedClients registers the two demo clients with their documents.
func (f *fixture) seedClients(t *testing.T) (a, b *model.Tenant) {
	t.Helper()
	a = f.register(t, "Client A", "tenantA_key")
	b = f.register(t, "Client B", "tenantB_key")
	f.ingest(t, a.ID, "docA1_procedure_resiliation", contentResiliation)
	f.ingest(t, a.ID, "docA2_produit_rc_pro_a", contentRCProA)
	f.ingest(t, b.ID, "docB1_garantie_vol", contentSinistreB)
	f.ingest(t, b.ID, "docB2_produit_rc_pro_b", contentRCProB)
	return a, b
}
