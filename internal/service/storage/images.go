// Package storage resolves chat image references against object storage.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/luli-tech/taskPadi-be/pkg/config"
	"github.com/luli-tech/taskPadi-be/pkg/resilience"
)

// ObjectStorage is the subset of the MinIO client used here
type ObjectStorage interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// ImageResolver turns object keys into presigned download URLs. Values that
// are already absolute URLs pass through unchanged.
type ImageResolver struct {
	client  ObjectStorage
	bucket  string
	expiry  time.Duration
	breaker *resilience.Breaker
}

// NewImageResolver wraps an object storage client
func NewImageResolver(client ObjectStorage, bucket string, expiry time.Duration) *ImageResolver {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &ImageResolver{
		client:  client,
		bucket:  bucket,
		expiry:  expiry,
		breaker: resilience.NewBreaker("minio", resilience.DefaultConfig()),
	}
}

// NewMinIOImageResolver connects to MinIO using cfg
func NewMinIOImageResolver(cfg config.MinIOConfig) (*ImageResolver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return NewImageResolver(client, cfg.Bucket, cfg.URLExpiry), nil
}

// Resolve returns a URL for ref
func (r *ImageResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if IsAbsoluteURL(ref) {
		return ref, nil
	}

	key := strings.TrimPrefix(ref, "/")
	var signed *url.URL
	err := r.breaker.Execute(ctx, "presign_get", func(ctx context.Context) error {
		var err error
		signed, err = r.client.PresignedGetObject(ctx, r.bucket, key, r.expiry, nil)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign image %q: %w", key, err)
	}
	return signed.String(), nil
}

// IsAbsoluteURL reports whether ref is an http(s) URL rather than an object key
func IsAbsoluteURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// OwnedBy reports whether owner may share ref. Absolute URLs are allowed;
// object keys must live under the owner's own "{user_id}/" prefix.
func OwnedBy(ref string, owner uuid.UUID) bool {
	if IsAbsoluteURL(ref) {
		return true
	}
	rest, ok := strings.CutPrefix(strings.TrimPrefix(ref, "/"), owner.String()+"/")
	if !ok || rest == "" {
		return false
	}
	for _, segment := range strings.Split(rest, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return false
		}
	}
	return true
}
