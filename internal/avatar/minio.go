package avatar

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"parceltrack.org/internal/obs"
)

// MinIOConfig locates the bucket avatars are written to.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL prefixes returned references; defaults to the endpoint URL.
	PublicURL string
}

// MinIOStore writes avatars to an S3-compatible bucket.
type MinIOStore struct {
	mc        *minio.Client
	bucket    string
	publicURL string
	now       func() time.Time
}

// NewMinIOStore connects the client. Call EnsureBucket before first use.
func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access_key and secret_key are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "avatars"
	}
	public := strings.TrimRight(cfg.PublicURL, "/")
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint
	}
	return &MinIOStore{mc: mc, bucket: bucket, publicURL: public, now: time.Now}, nil
}

// EnsureBucket creates the bucket when missing.
func (m *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		obs.Logger().Info("avatar bucket created", zap.String("bucket", m.bucket))
	}
	return nil
}

// Save uploads the avatar and returns its public URL.
func (m *MinIOStore) Save(ctx context.Context, originalName, contentType string, r io.Reader, size int64) (string, error) {
	if size > MaxSize {
		return "", ErrTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := objectName(m.now(), originalName)
	if _, err := m.mc.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return m.objectURL(key), nil
}

// Delete removes the object behind a URL returned by Save.
func (m *MinIOStore) Delete(ctx context.Context, ref string) error {
	prefix := m.objectURL("")
	if !strings.HasPrefix(ref, prefix) {
		return nil
	}
	key := strings.TrimPrefix(ref, prefix)
	if err := m.mc.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (m *MinIOStore) objectURL(key string) string {
	return m.publicURL + "/" + m.bucket + "/" + key
}
