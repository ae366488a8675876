package vectorindex

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docqa-gateway/internal/metrics"
)

const (
	snapshotVersion = 1
	loadConcurrency = 4
)

// ErrSnapshotNotFound is returned by a SnapshotStore when a tenant has no
// stored snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists one opaque blob per tenant partition.
type SnapshotStore interface {
	Save(ctx context.Context, tenantID uint, data []byte) error
	Load(ctx context.Context, tenantID uint) ([]byte, error)
	List(ctx context.Context) ([]uint, error)
	// Delete removes a tenant's snapshot. A missing snapshot is not an error.
	Delete(ctx context.Context, tenantID uint) error
}

// SnapshotName is the blob name used for a tenant partition.
func SnapshotName(tenantID uint) string {
	return fmt.Sprintf("tenant-%d.snap.zst", tenantID)
}

// ParseSnapshotName is the inverse of SnapshotName.
func ParseSnapshotName(name string) (uint, bool) {
	var tenantID uint
	var rest string
	n, _ := fmt.Sscanf(name, "tenant-%d.%s", &tenantID, &rest)
	if n != 2 || rest != "snap.zst" || tenantID == 0 {
		return 0, false
	}
	return tenantID, true
}

type snapshot struct {
	Version   int             `json:"version"`
	TenantID  uint            `json:"tenant_id"`
	Dimension int             `json:"dimension"`
	Entries   []snapshotEntry `json:"entries"`
	version   uint64
}

type snapshotEntry struct {
	DocumentID uint      `json:"document_id"`
	Seq        uint64    `json:"seq"`
	Vector     []float32 `json:"vector"`
}

// snapshot copies the partition state. Caller holds p.mu.
func (p *partition) snapshot(dim int) snapshot {
	entries := make([]snapshotEntry, len(p.entries))
	for i, e := range p.entries {
		entries[i] = snapshotEntry{DocumentID: e.docID, Seq: e.seq, Vector: e.vector}
	}
	return snapshot{
		Version:   snapshotVersion,
		TenantID:  p.tenantID,
		Dimension: dim,
		Entries:   entries,
		version:   p.version,
	}
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil)
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

func encodeSnapshot(s snapshot) ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, fmt.Errorf("init zstd codec failed: %w", err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot failed: %w", err)
	}
	return enc.EncodeAll(raw, nil), nil
}

func decodeSnapshot(data []byte) (snapshot, error) {
	var s snapshot
	_, dec, err := codec()
	if err != nil {
		return s, fmt.Errorf("init zstd codec failed: %w", err)
	}
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return s, fmt.Errorf("decompress snapshot failed: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("unmarshal snapshot failed: %w", err)
	}
	if s.Version != snapshotVersion {
		return s, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	return s, nil
}

// persist writes snap unless a newer version of the partition was already
// saved by a concurrent writer.
func (idx *Index) persist(ctx context.Context, p *partition, snap snapshot) error {
	if idx.store == nil {
		return nil
	}

	p.saveMu.Lock()
	defer p.saveMu.Unlock()
	if snap.version <= p.savedVersion {
		return nil
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := idx.store.Save(ctx, p.tenantID, data); err != nil {
		return fmt.Errorf("save snapshot for tenant %d failed: %w", p.tenantID, err)
	}
	p.savedVersion = snap.version
	return nil
}

// Load replaces the index contents with the snapshots found in the store.
// It is meant to run once at startup before the index serves requests.
// Snapshots that cannot be decoded, or that were written for another
// dimension, are logged and deleted; their tenants come back empty and are
// expected to be rebuilt from the documents table.
func (idx *Index) Load(ctx context.Context) error {
	if idx.store == nil {
		return nil
	}

	tenantIDs, err := idx.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots failed: %w", err)
	}

	snaps := make([]snapshot, len(tenantIDs))
	usable := make([]bool, len(tenantIDs))
	discarded := make([]bool, len(tenantIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, tenantID := range tenantIDs {
		g.Go(func() error {
			data, err := idx.store.Load(gctx, tenantID)
			if errors.Is(err, ErrSnapshotNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load snapshot for tenant %d failed: %w", tenantID, err)
			}
			s, err := idx.checkSnapshot(tenantID, data)
			if err != nil {
				idx.logger.Warn("discarding vector snapshot",
					zap.Uint("tenant_id", tenantID),
					zap.Error(err))
				discarded[i] = true
				return nil
			}
			snaps[i] = s
			usable[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, tenantID := range tenantIDs {
		if !discarded[i] {
			continue
		}
		if err := idx.store.Delete(ctx, tenantID); err != nil {
			idx.logger.Warn("delete discarded snapshot failed",
				zap.Uint("tenant_id", tenantID),
				zap.Error(err))
		}
	}

	partitions := make(map[uint]*partition, len(snaps))
	owners := make(map[uint]uint)
	var maxSeq uint64
	for i, s := range snaps {
		if !usable[i] {
			continue
		}
		p := &partition{tenantID: s.TenantID, entries: make([]entry, 0, len(s.Entries))}
		for _, e := range s.Entries {
			if _, dup := owners[e.DocumentID]; dup || len(e.Vector) != idx.dim {
				idx.logger.Warn("skipping snapshot entry",
					zap.Uint("tenant_id", s.TenantID),
					zap.Uint("document_id", e.DocumentID))
				continue
			}
			owners[e.DocumentID] = s.TenantID
			p.entries = append(p.entries, entry{docID: e.DocumentID, seq: e.Seq, vector: e.Vector})
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}
		partitions[s.TenantID] = p
	}

	idx.partitionsMu.Lock()
	idx.partitions = partitions
	idx.partitionsMu.Unlock()
	idx.ownersMu.Lock()
	idx.owners = owners
	idx.ownersMu.Unlock()
	idx.seq.Store(maxSeq)
	metrics.IndexPoints.Set(float64(len(owners)))

	idx.logger.Info("vector index loaded",
		zap.Int("tenants", len(partitions)),
		zap.Int("points", len(owners)))
	return nil
}

// checkSnapshot decodes data and verifies it belongs to tenantID and to the
// index dimension. Entries come back in ascending seq order.
func (idx *Index) checkSnapshot(tenantID uint, data []byte) (snapshot, error) {
	s, err := decodeSnapshot(data)
	if err != nil {
		return s, err
	}
	if s.Dimension != idx.dim {
		return s, &ErrDimensionMismatch{Expected: idx.dim, Actual: s.Dimension}
	}
	if s.TenantID != tenantID {
		return s, fmt.Errorf("snapshot carries tenant %d", s.TenantID)
	}
	slices.SortFunc(s.Entries, func(a, b snapshotEntry) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return s, nil
}
