// Package assets publishes rendered slide visuals to durable blob storage
// under deterministic session-scoped keys, so republishing after a retry
// overwrites rather than duplicates.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pptx-processor/internal/types"
)

// BlobStore stores published assets by key and resolves public URLs.
type BlobStore interface {
	// Put writes data under key, overwriting any existing object.
	Put(ctx context.Context, key string, contentType string, data []byte) error
	// Get reads the object at key.
	Get(ctx context.Context, key string) ([]byte, error)
	// URL returns the public URL for a stored key.
	URL(key string) string
}

// LocalStore keeps blobs on the local filesystem, served by the HTTP layer.
type LocalStore struct {
	rootDir string
	baseURL string
}

// NewLocalStore creates a filesystem-backed store rooted at rootDir.
func NewLocalStore(rootDir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to create blob directory", err)
	}
	return &LocalStore{rootDir: rootDir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Put writes the blob atomically via a temp file rename.
func (s *LocalStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(s.rootDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to create blob subdirectory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "failed to create temp blob", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewAppError(types.ErrTransientIO, "failed to write blob", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrTransientIO, "failed to close blob", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrTransientIO, "failed to finalize blob", err)
	}
	return nil
}

// Get reads a blob back.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.rootDir, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppError(types.ErrNotFound, "blob not found", err)
		}
		return nil, types.NewAppError(types.ErrTransientIO, "failed to read blob", err)
	}
	return data, nil
}

// URL returns the public URL for a key.
func (s *LocalStore) URL(key string) string {
	return s.baseURL + "/" + key
}

// S3Store publishes blobs to an S3 bucket.
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Store creates an S3-backed store. An explicit endpoint supports
// S3-compatible services.
func NewS3Store(ctx context.Context, bucket, region, endpoint, baseURL string) (*S3Store, error) {
	if bucket == "" {
		return nil, types.NewAppError(types.ErrConfig, "s3 bucket not configured", nil)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to load AWS configuration", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	if baseURL == "" {
		if endpoint != "" {
			baseURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(endpoint, "/"), bucket)
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
		}
	}
	return &S3Store{client: client, bucket: bucket, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Put uploads an object, classifying failures as transient for retry.
func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return types.NewAppError(types.ErrTransientIO, "s3 upload failed", err)
	}
	return nil
}

// Get downloads an object.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "s3 download failed", err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, types.NewAppError(types.ErrTransientIO, "s3 body read failed", err)
	}
	return buf.Bytes(), nil
}

// URL returns the public URL for a key.
func (s *S3Store) URL(key string) string {
	return s.baseURL + "/" + key
}
