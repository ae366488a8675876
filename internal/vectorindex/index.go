// Package vectorindex is an in-process, tenant-partitioned nearest-neighbor
// index over document embeddings.
//
// Every tenant owns a separate partition, so a query never looks at another
// tenant's vectors and top-k selection runs over the tenant's points only.
// Search is an exact cosine scan. Partitions are persisted through a
// SnapshotStore after each write and rebuilt with Load at startup.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"docqa-gateway/internal/metrics"
)

// scanCheckInterval is how many points a query scores between deadline checks.
const scanCheckInterval = 256

var (
	ErrInvalidTenant   = errors.New("tenant id must be non-zero")
	ErrInvalidDocument = errors.New("document id must be non-zero")
	ErrZeroVector      = errors.New("vector has zero magnitude")
	ErrTenantMismatch  = errors.New("document already indexed for another tenant")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Hit is one query result. Distance is the cosine distance to the query and
// is nil when the backend could not supply one.
type Hit struct {
	DocumentID uint
	Distance   *float64
}

// Similarity returns 1 - distance, or false when no distance is known.
func (h Hit) Similarity() (float64, bool) {
	if h.Distance == nil {
		return 0, false
	}
	return 1 - *h.Distance, true
}

type entry struct {
	docID  uint
	seq    uint64
	vector []float32
}

type partition struct {
	tenantID uint

	mu      sync.RWMutex
	entries []entry // ascending seq
	version uint64

	saveMu       sync.Mutex
	savedVersion uint64
}

func (p *partition) position(docID uint) int {
	for i := range p.entries {
		if p.entries[i].docID == docID {
			return i
		}
	}
	return -1
}

// Index is safe for concurrent use. Readers of a tenant never block each
// other; writers are serialized per tenant and never across tenants.
type Index struct {
	dim    int
	store  SnapshotStore
	logger *zap.Logger

	partitionsMu sync.RWMutex
	partitions   map[uint]*partition

	// ownersMu is always acquired after a partition lock, never before.
	ownersMu sync.RWMutex
	owners   map[uint]uint

	seq atomic.Uint64
}

// New creates an empty index for vectors of the given dimension. store may be
// nil, in which case nothing is persisted.
func New(dim int, store SnapshotStore, logger *zap.Logger) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dim)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		dim:        dim,
		store:      store,
		logger:     logger,
		partitions: make(map[uint]*partition),
		owners:     make(map[uint]uint),
	}, nil
}

func (idx *Index) Dimension() int {
	return idx.dim
}

func (idx *Index) partition(tenantID uint, create bool) *partition {
	idx.partitionsMu.RLock()
	p, ok := idx.partitions[tenantID]
	idx.partitionsMu.RUnlock()
	if ok || !create {
		return p
	}

	idx.partitionsMu.Lock()
	defer idx.partitionsMu.Unlock()
	if p, ok = idx.partitions[tenantID]; ok {
		return p
	}
	p = &partition{tenantID: tenantID}
	idx.partitions[tenantID] = p
	return p
}

// Insert adds or replaces the vector of documentID in tenantID's partition.
// The point is visible to queries as soon as Insert returns. Replacing a point
// keeps its original insertion order.
func (idx *Index) Insert(ctx context.Context, documentID, tenantID uint, vector []float32) error {
	if tenantID == 0 {
		return ErrInvalidTenant
	}
	if documentID == 0 {
		return ErrInvalidDocument
	}
	normalized, err := idx.normalize(vector)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p := idx.partition(tenantID, true)
	p.mu.Lock()

	idx.ownersMu.Lock()
	if owner, ok := idx.owners[documentID]; ok && owner != tenantID {
		idx.ownersMu.Unlock()
		p.mu.Unlock()
		return fmt.Errorf("%w: document %d", ErrTenantMismatch, documentID)
	}
	idx.owners[documentID] = tenantID
	idx.ownersMu.Unlock()

	if pos := p.position(documentID); pos >= 0 {
		p.entries[pos].vector = normalized
	} else {
		p.entries = append(p.entries, entry{
			docID:  documentID,
			seq:    idx.seq.Add(1),
			vector: normalized,
		})
	}
	p.version++
	snap := p.snapshot(idx.dim)
	p.mu.Unlock()

	metrics.IndexPoints.Set(float64(idx.Len()))
	return idx.persist(ctx, p, snap)
}

// Delete removes documentID from the index. Unknown IDs are a no-op.
func (idx *Index) Delete(ctx context.Context, documentID uint) error {
	idx.ownersMu.RLock()
	tenantID, ok := idx.owners[documentID]
	idx.ownersMu.RUnlock()
	if !ok {
		return nil
	}

	p := idx.partition(tenantID, false)
	if p == nil {
		return nil
	}
	p.mu.Lock()

	idx.ownersMu.Lock()
	if owner, ok := idx.owners[documentID]; !ok || owner != tenantID {
		// Removed concurrently.
		idx.ownersMu.Unlock()
		p.mu.Unlock()
		return nil
	}
	delete(idx.owners, documentID)
	idx.ownersMu.Unlock()

	if pos := p.position(documentID); pos >= 0 {
		p.entries = slices.Delete(p.entries, pos, pos+1)
	}
	p.version++
	snap := p.snapshot(idx.dim)
	p.mu.Unlock()

	metrics.IndexPoints.Set(float64(idx.Len()))
	return idx.persist(ctx, p, snap)
}

// Query returns up to k hits from tenantID's partition, ordered by descending
// cosine similarity; equal scores keep insertion order. A nil or empty result
// is returned for k <= 0 and for tenants without points.
func (idx *Index) Query(ctx context.Context, tenantID uint, vector []float32, k int) ([]Hit, error) {
	if tenantID == 0 {
		return nil, ErrInvalidTenant
	}
	query, err := idx.normalize(vector)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	p := idx.partition(tenantID, false)
	if p == nil {
		return []Hit{}, nil
	}

	start := time.Now()
	defer func() {
		metrics.IndexQueryDuration.Observe(time.Since(start).Seconds())
	}()

	type scored struct {
		docID uint
		seq   uint64
		score float64
	}

	p.mu.RLock()
	candidates := make([]scored, 0, len(p.entries))
	for i := range p.entries {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				p.mu.RUnlock()
				return nil, err
			}
		}
		e := &p.entries[i]
		candidates = append(candidates, scored{
			docID: e.docID,
			seq:   e.seq,
			score: dot(query, e.vector),
		})
	}
	p.mu.RUnlock()

	slices.SortFunc(candidates, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		distance := 1 - candidates[i].score
		hits[i] = Hit{DocumentID: candidates[i].docID, Distance: &distance}
	}
	return hits, nil
}

// Contains reports whether documentID is indexed.
func (idx *Index) Contains(documentID uint) bool {
	idx.ownersMu.RLock()
	defer idx.ownersMu.RUnlock()
	_, ok := idx.owners[documentID]
	return ok
}

// DocumentIDs returns the IDs of every indexed point, in no particular order.
func (idx *Index) DocumentIDs() []uint {
	idx.ownersMu.RLock()
	defer idx.ownersMu.RUnlock()
	ids := make([]uint, 0, len(idx.owners))
	for id := range idx.owners {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of indexed points across all tenants.
func (idx *Index) Len() int {
	idx.ownersMu.RLock()
	defer idx.ownersMu.RUnlock()
	return len(idx.owners)
}

// TenantLen returns the number of points in tenantID's partition.
func (idx *Index) TenantLen(tenantID uint) int {
	p := idx.partition(tenantID, false)
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

func (idx *Index) normalize(vector []float32) ([]float32, error) {
	if len(vector) != idx.dim {
		return nil, &ErrDimensionMismatch{Expected: idx.dim, Actual: len(vector)}
	}
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(float64(v) * inv)
	}
	return out, nil
}

// dot of two unit vectors, clamped to the cosine range.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	if sum > 1 {
		return 1
	}
	if sum < -1 {
		return -1
	}
	return sum
}
