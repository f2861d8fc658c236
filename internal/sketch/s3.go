package sketch

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kozaktomas/facegate/internal/config"
)

// S3Store keeps sketches in an S3 compatible bucket.
type S3Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
	policy    RetentionPolicy
}

// NewS3Store connects to the endpoint and creates the bucket if it does not exist yet.
func NewS3Store(ctx context.Context, cfg config.S3Config, policy RetentionPolicy) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: objectBaseURL(cfg),
		policy:    policy,
	}, nil
}

// objectBaseURL returns the prefix object names are appended to.
func objectBaseURL(cfg config.S3Config) string {
	if cfg.PublicURL != "" {
		return strings.TrimSuffix(cfg.PublicURL, "/") + "/"
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/", scheme, cfg.Endpoint, cfg.Bucket)
}

// Put uploads the sketch as image/jpeg.
func (s *S3Store) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateArtifactName(name); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", name, err)
	}
	return s.publicURL + name, nil
}

// Prune removes objects outside the retention policy.
func (s *S3Store) Prune(ctx context.Context, now time.Time) (int, error) {
	var objects []storedObject
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: "sketch_"}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("listing sketches: %w", obj.Err)
		}
		if !isArtifactName(obj.Key) {
			continue
		}
		objects = append(objects, storedObject{name: obj.Key, modTime: obj.LastModified})
	}

	removed := 0
	for _, name := range s.policy.expired(objects, now) {
		if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("removing %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}
