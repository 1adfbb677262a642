package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/querychat/querychat/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// object is what a bucket returns for one key.
type object struct {
	body         io.ReadCloser
	etag         string
	size         int64
	lastModified time.Time
}

type bucketClient interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) (etag string, err error)
	GetObject(ctx context.Context, bucket, key string) (object, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
}

// Store is a storage.DocumentStore on an S3-compatible bucket. Keys are
// joined under the configured prefix.
type Store struct {
	client  bucketClient
	bucket  string
	prefix  string
	maxSize int64
	now     func() time.Time
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	store, err := newStore(strings.TrimSpace(cfg.Bucket), cfg.Prefix, mc)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStore(bucket, prefix string, c bucketClient) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("bucket client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{
		client:  c,
		bucket:  strings.TrimSpace(bucket),
		prefix:  storage.CleanPrefix(prefix),
		maxSize: storage.MaxDocumentSize,
		now:     time.Now,
	}, nil
}

func (s *Store) Write(ctx context.Context, key string, body []byte, contentType string) (storage.Document, error) {
	normalized, err := storage.NormalizeKey(s.prefix, key)
	if err != nil {
		return storage.Document{}, err
	}
	if int64(len(body)) > s.maxSize {
		return storage.Document{}, fmt.Errorf("write %q: %w", normalized, storage.ErrDocumentTooLarge)
	}
	etag, err := s.client.PutObject(ctx, s.bucket, normalized, body, contentType)
	if err != nil {
		return storage.Document{}, fmt.Errorf("write %q: %w", normalized, err)
	}
	return storage.Document{
		Key:          normalized,
		Body:         body,
		ETag:         etag,
		LastModified: s.now().UTC(),
	}, nil
}

func (s *Store) Read(ctx context.Context, key string) (storage.Document, error) {
	normalized, err := storage.NormalizeKey(s.prefix, key)
	if err != nil {
		return storage.Document{}, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return storage.Document{}, storage.ErrDocumentNotFound
		}
		return storage.Document{}, fmt.Errorf("read %q: %w", normalized, err)
	}
	defer func() { _ = obj.body.Close() }()

	if obj.size > s.maxSize {
		return storage.Document{}, fmt.Errorf("read %q: %w", normalized, storage.ErrDocumentTooLarge)
	}
	body, err := io.ReadAll(io.LimitReader(obj.body, s.maxSize+1))
	if err != nil {
		return storage.Document{}, fmt.Errorf("read %q: %w", normalized, err)
	}
	if int64(len(body)) > s.maxSize {
		return storage.Document{}, fmt.Errorf("read %q: %w", normalized, storage.ErrDocumentTooLarge)
	}
	return storage.Document{
		Key:          normalized,
		Body:         body,
		ETag:         obj.etag,
		LastModified: obj.lastModified,
	}, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

func newMinioClient(cfg Config) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	clientImpl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioClient{client: clientImpl}, nil
}

// parseEndpoint accepts either host:port or a URL. An https URL forces TLS.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	switch {
	case parsed.Host == "":
		return "", false, fmt.Errorf("endpoint host is required")
	case parsed.Scheme == "https":
		return parsed.Host, true, nil
	case parsed.Scheme == "http":
		return parsed.Host, useSSL, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error) {
	info, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", mapMinioErr(err)
	}
	return info.ETag, nil
}

func (m *minioClient) GetObject(ctx context.Context, bucket, key string) (object, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return object{}, mapMinioErr(err)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return object{}, mapMinioErr(err)
	}
	return object{body: obj, etag: stat.ETag, size: stat.Size, lastModified: stat.LastModified}, nil
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, mapMinioErr(err)
	}
	return exists, nil
}

func (m *minioClient) MakeBucket(ctx context.Context, bucket, region string) error {
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return storage.ErrDocumentNotFound
		}
	}
	return err
}
