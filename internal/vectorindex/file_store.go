package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileSnapshotStore keeps one snapshot file per tenant in a local directory.
// Writes go through a temp file and a rename so a crash never leaves a
// truncated snapshot behind.
type FileSnapshotStore struct {
	dir string
}

func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir %s failed: %w", dir, err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (s *FileSnapshotStore) Save(ctx context.Context, tenantID uint, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, SnapshotName(tenantID)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot failed: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp snapshot failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot failed: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, SnapshotName(tenantID))); err != nil {
		return fmt.Errorf("rename snapshot failed: %w", err)
	}
	return nil
}

func (s *FileSnapshotStore) Load(ctx context.Context, tenantID uint) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, SnapshotName(tenantID)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read snapshot failed: %w", err)
	}
	return data, nil
}

func (s *FileSnapshotStore) Delete(ctx context.Context, tenantID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, SnapshotName(tenantID)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove snapshot failed: %w", err)
	}
	return nil
}

func (s *FileSnapshotStore) List(ctx context.Context) ([]uint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read index dir failed: %w", err)
	}
	var ids []uint
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := ParseSnapshotName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
