// Package publish mirrors finished videos to object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ivlev/stopcast/internal/config"
)

// Publisher uploads the file at path under key.
type Publisher interface {
	Publish(ctx context.Context, path, key string) error
}

// Nop is used when publishing is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, string, string) error { return nil }

// New returns Nop unless publishing is enabled in cfg.
func New(cfg config.Publish) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewMinio(cfg)
}

type Minio struct {
	client *minio.Client
	bucket string

	once      sync.Once
	bucketErr error
}

func NewMinio(cfg config.Publish) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("publish: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}
	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

func (m *Minio) Publish(ctx context.Context, path, key string) error {
	m.once.Do(func() { m.bucketErr = m.ensureBucket(ctx) })
	if m.bucketErr != nil {
		return m.bucketErr
	}
	_, err := m.client.FPutObject(ctx, m.bucket, key, path, minio.PutObjectOptions{ContentType: "video/mp4"})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (m *Minio) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}
