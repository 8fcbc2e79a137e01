package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sdlcboard/api/internal/workflow"
)

// ObjectConfig locates the board object in an S3-compatible bucket.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Key       string
	UseSSL    bool
}

// ObjectStore keeps the board as one JSON object in a bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
	key    string
}

var (
	_ Store  = (*ObjectStore)(nil)
	_ Pinger = (*ObjectStore)(nil)
)

// NewObjectStore creates the client and makes sure the bucket exists.
func NewObjectStore(ctx context.Context, cfg ObjectConfig) (*ObjectStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("object store needs an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &ObjectStore{client: client, bucket: cfg.Bucket, key: objectKey(cfg.Key)}, nil
}

func objectKey(key string) string {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "sdlc-workflow.json"
	}
	if !strings.HasSuffix(key, ".json") {
		key += ".json"
	}
	return key
}

func (s *ObjectStore) Load(ctx context.Context) (*workflow.Document, error) {
	object, err := s.client.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.readError(err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.readError(err)
	}
	doc, err := workflow.Decode(data)
	if err != nil {
		return nil, persistenceError("s3", "decode", err)
	}
	return doc, nil
}

func (s *ObjectStore) readError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return persistenceError("s3", "get", err)
}

func (s *ObjectStore) Save(ctx context.Context, doc *workflow.Document) error {
	payload, err := workflow.Encode(doc)
	if err != nil {
		return persistenceError("s3", "encode", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"last-modified-by": AuthorOf(doc),
		},
	})
	if err != nil {
		return persistenceError("s3", "put", err)
	}
	return nil
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
