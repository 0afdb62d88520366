// Package objectstore mirrors export files to S3-compatible storage and
// reads import documents back from it.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/config"
)

// ErrNotFound is returned when an object key does not exist.
var ErrNotFound = errors.New("objectstore: object not found")

// ErrInvalidKey is returned for keys that would escape the prefix.
var ErrInvalidKey = errors.New("objectstore: invalid key")

// ErrTooLarge is returned when an object exceeds the size a caller
// accepts.
var ErrTooLarge = errors.New("objectstore: object too large")

const defaultPrefix = "hasnapshot/exports"

// Store saves and loads snapshot documents by name. Load fails with
// ErrTooLarge for objects over maxSize bytes; zero means no limit.
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string, maxSize int64) ([]byte, error)
}

// S3Store is a Store backed by a bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store builds a store from the object_store config section.
// Credentials are read from the configured key files.
func NewS3Store(cfg config.ObjectStoreConfig) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	accessKeyFile := strings.TrimSpace(cfg.AccessKeyFile)
	secretKeyFile := strings.TrimSpace(cfg.SecretKeyFile)

	if endpoint == "" || bucket == "" || accessKeyFile == "" || secretKeyFile == "" {
		return nil, errors.New("objectstore: endpoint, bucket and key files are required")
	}

	accessKey, err := readSecretFile(accessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading access key: %w", err)
	}
	secretKey, err := readSecretFile(secretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading secret key: %w", err)
	}

	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}

	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

// Save uploads data under name.
func (s *S3Store) Save(ctx context.Context, name string, data []byte) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	reader := bytes.NewReader(data)
	_, err = s.client.PutObject(ctx, s.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, wrapError(err))
	}
	return nil
}

// Load downloads name. Oversized objects are rejected on their stored
// size before any of the body is read.
func (s *S3Store) Load(ctx context.Context, name string, maxSize int64) ([]byte, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", key, wrapError(err))
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", key, wrapError(err))
	}
	data, err := readLimited(obj, info.Size, maxSize)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// readLimited reads r, whose advertised length is size, holding at most
// maxSize+1 bytes in memory.
func readLimited(r io.Reader, size, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		return io.ReadAll(r)
	}
	if size > maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrTooLarge, size, maxSize)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}
	return data, nil
}

// HealthCheck verifies the bucket exists.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("objectstore health check: %w", err)
	}
	if !ok {
		return fmt.Errorf("objectstore health check: bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *S3Store) key(name string) (string, error) {
	return objectKey(s.prefix, name)
}

// objectKey joins prefix and name, rejecting names that are empty or
// climb out of the prefix.
func objectKey(prefix, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}
	return path.Join(prefix, name), nil
}

func wrapError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

// parseEndpoint accepts "host:port" (TLS) or a full http(s) URL.
func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parsing endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
