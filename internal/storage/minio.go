package storage

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/shpitdev/docfetch/internal/acquire"
)

// MinIOConfig addresses an S3-compatible bucket.
type MinIOConfig struct {
	// Endpoint is host:port or a URL; an https URL turns on TLS.
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinIO writes documents to an S3-compatible object store.
type MinIO struct {
	client *minio.Client
	bucket string
	region string
}

func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, eris.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, eris.New("minio bucket is required")
	}
	endpoint, secure := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		secure = secure || u.Scheme == "https"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "create minio client")
	}
	return &MinIO{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func (m *MinIO) Name() string { return "minio" }

// EnsureBucket creates the bucket when it does not exist.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return eris.Wrapf(err, "check bucket %s", m.bucket)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
			return nil
		}
		return eris.Wrapf(err, "create bucket %s", m.bucket)
	}
	return nil
}

func (m *MinIO) Put(ctx context.Context, key string, doc acquire.Document) (string, error) {
	meta := map[string]string{}
	if doc.SourceURL != "" {
		meta["source-url"] = doc.SourceURL
	}
	if doc.Lane != "" {
		meta["lane"] = string(doc.Lane)
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(doc.Content), int64(len(doc.Content)), minio.PutObjectOptions{
		ContentType:  "application/pdf",
		UserMetadata: meta,
	})
	if err != nil {
		return "", eris.Wrapf(err, "put s3://%s/%s", m.bucket, key)
	}
	return "s3://" + m.bucket + "/" + key, nil
}
