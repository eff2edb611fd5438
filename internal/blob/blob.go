// Package blob stores submitted document bodies and appendices. Submission
// records carry only references; the bytes live here.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxDocumentBytes is the largest accepted document or appendix body.
const MaxDocumentBytes = 10 << 20

type Store interface {
	Put(ctx context.Context, ref string, contentType string, body []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
	// PresignedGetURL returns a time-limited download URL for a stored
	// object. Backends without URL support return ErrNoPresign.
	PresignedGetURL(ctx context.Context, ref string, expiry time.Duration) (string, error)
}

var (
	ErrNotFound  = fmt.Errorf("blob: not found")
	ErrNoPresign = fmt.Errorf("blob: backend does not support presigned URLs")
	ErrTooLarge  = fmt.Errorf("blob: body exceeds %d bytes", MaxDocumentBytes)
)

// MemoryStore holds blobs in process memory. Used by tests and the default
// single-node deployment.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, ref, _ string, body []byte) error {
	if len(body) > MaxDocumentBytes {
		return ErrTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	s.blobs[ref] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (s *MemoryStore) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrNoPresign
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func MinIOConfigFromEnv() MinIOConfig {
	return MinIOConfig{
		Endpoint:  strings.TrimSpace(os.Getenv("OVERLAY_MINIO_ENDPOINT")),
		AccessKey: os.Getenv("OVERLAY_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("OVERLAY_MINIO_SECRET_KEY"),
		Bucket:    strings.TrimSpace(os.Getenv("OVERLAY_MINIO_BUCKET")),
		UseSSL:    strings.EqualFold(strings.TrimSpace(os.Getenv("OVERLAY_MINIO_USE_SSL")), "true"),
	}
}

type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required when OVERLAY_BLOB_BACKEND=minio")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "overlay-documents"
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &MinIOStore{client: client, bucket: bucket}, nil
}

func (s *MinIOStore) Put(ctx context.Context, ref, contentType string, body []byte) error {
	if len(body) > MaxDocumentBytes {
		return ErrTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, ref, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (s *MinIOStore) Get(ctx context.Context, ref string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *MinIOStore) PresignedGetURL(ctx context.Context, ref string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ref, expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
