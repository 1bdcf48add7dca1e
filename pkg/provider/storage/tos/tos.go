// Package tos provides a storage.Uploader backed by Volcengine TOS through its
// S3-compatible API.
package tos

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/MrWong99/voxcanvas/pkg/provider/storage"
)

const (
	DefaultEndpoint = "tos-cn-beijing.volces.com"
	DefaultRegion   = "cn-beijing"
)

// Config holds the TOS connection settings.
type Config struct {
	AccessKey string
	SecretKey string

	// Endpoint is the public TOS host objects are served from, e.g.
	// tos-cn-beijing.volces.com.
	Endpoint string
	Region   string
	Bucket   string

	// S3Endpoint is the host of the S3-compatible API. Derived from Endpoint
	// (tos-<region>... becomes tos-s3-<region>...) when empty.
	S3Endpoint string

	// Insecure uses plain HTTP towards S3Endpoint.
	Insecure bool

	// PathStyle addresses the bucket in the path instead of the host name.
	PathStyle bool
}

// Uploader implements storage.Uploader for TOS.
type Uploader struct {
	client *minio.Client
	cfg    Config
}

// New creates an Uploader. It returns storage.ErrNotConfigured when keys or
// the bucket are missing, mirroring a deployment without object storage.
func New(cfg Config) (*Uploader, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("tos: %w: access key, secret key and bucket are required", storage.ErrNotConfigured)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.S3Endpoint == "" {
		cfg.S3Endpoint = s3Endpoint(cfg.Endpoint)
	}

	lookup := minio.BucketLookupDNS
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       !cfg.Insecure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("tos: create client: %w", err)
	}
	return &Uploader{client: client, cfg: cfg}, nil
}

// s3Endpoint maps a TOS endpoint to its S3-compatible counterpart.
func s3Endpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "tos-s3-") {
		return endpoint
	}
	if rest, ok := strings.CutPrefix(endpoint, "tos-"); ok {
		return "tos-s3-" + rest
	}
	return endpoint
}

// PublicURL returns the URL an object is served from.
func (u *Uploader) PublicURL(objectKey string) string {
	return fmt.Sprintf("https://%s.%s/%s", u.cfg.Bucket, u.cfg.Endpoint, objectKey)
}

// Upload implements storage.Uploader.
func (u *Uploader) Upload(ctx context.Context, localPath, objectKey string) (string, error) {
	opts := minio.PutObjectOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(objectKey)),
	}
	info, err := u.client.FPutObject(ctx, u.cfg.Bucket, objectKey, localPath, opts)
	if err != nil {
		slog.Error("tos: upload failed", "bucket", u.cfg.Bucket, "key", objectKey, "err", err)
		return "", fmt.Errorf("tos: upload %q: %w", objectKey, err)
	}
	slog.Info("tos: uploaded", "bucket", u.cfg.Bucket, "key", objectKey, "bytes", info.Size)
	return u.PublicURL(objectKey), nil
}

// Ensure Uploader implements storage.Uploader at compile time.
var _ storage.Uploader = (*Uploader)(nil)
