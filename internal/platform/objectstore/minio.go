// Package objectstore keeps vector index snapshots in MinIO or any
// S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docqa-gateway/internal/vectorindex"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Store implements vectorindex.SnapshotStore on top of a bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New connects to the endpoint and creates the bucket when missing.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	exists, err := client.BucketExists(checkCtx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check minio bucket failed: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create minio bucket failed: %w", err)
		}
	}

	return NewStore(client, opts.Bucket, opts.Prefix), nil
}

func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *Store) key(tenantID uint) string {
	return path.Join(s.prefix, vectorindex.SnapshotName(tenantID))
}

func (s *Store) Save(ctx context.Context, tenantID uint, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(tenantID), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/zstd"})
	if err != nil {
		return fmt.Errorf("put snapshot object failed: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, tenantID uint) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(tenantID), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return data, nil
}

// Delete removes the tenant's snapshot object. S3 semantics make removing a
// missing key a no-op.
func (s *Store) Delete(ctx context.Context, tenantID uint) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(tenantID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove snapshot object failed: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]uint, error) {
	var ids []uint
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list snapshot objects failed: %w", obj.Err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/")
		if id, ok := vectorindex.ParseSnapshotName(name); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Ping reports whether the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("minio bucket check failed: %w", err)
	}
	return nil
}

func (s *Store) mapErr(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return vectorindex.ErrSnapshotNotFound
	}
	return fmt.Errorf("get snapshot object failed: %w", err)
}
