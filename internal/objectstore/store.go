package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultRegion = "us-east-1"

// Config holds S3 connection parameters.
type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
}

// Getter is the narrow read contract the loader depends on.
type Getter interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Store reads objects from an S3-compatible service through minio-go.
type Store struct {
	client *minio.Client
}

// New constructs a Store. Without static credentials it falls back to the
// AWS environment, shared credentials file, and instance metadata.
func New(cfg Config) (*Store, error) {
	host, secure, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultRegion
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  newCredentials(cfg),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("create s3 client: %w", err))
	}
	return &Store{client: client}, nil
}

func newCredentials(cfg Config) *credentials.Credentials {
	if strings.TrimSpace(cfg.AccessKey) != "" && strings.TrimSpace(cfg.SecretKey) != "" {
		return credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
	}
	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
	})
}

// Get opens bucket/key for reading. The object is stat'ed first so a missing
// bucket or key surfaces here rather than on the first Read.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket is required"))
	}
	if key == "" {
		return nil, wrapError(CodeObjectNotFound, false, fmt.Errorf("object key is required"))
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, classify(err)
	}
	return &object{obj: obj}, nil
}

// object classifies read errors from the underlying minio object.
type object struct {
	obj *minio.Object
}

func (o *object) Read(p []byte) (int, error) {
	n, err := o.obj.Read(p)
	if err != nil && err != io.EOF {
		return n, classify(err)
	}
	return n, err
}

func (o *object) Close() error { return o.obj.Close() }
