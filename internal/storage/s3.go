package storage

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds the connection settings for an S3-compatible bucket.
type S3Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	PublicRead bool
}

// S3 stores objects in a bucket through minio-go.
type S3 struct {
	client     *minio.Client
	bucket     string
	publicRead bool
}

// NewS3 builds the client. It does not contact the endpoint.
func NewS3(cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &S3{client: client, bucket: cfg.Bucket, publicRead: cfg.PublicRead}, nil
}

func (s *S3) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if key == "" {
		return ErrInvalidKey
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	if s.publicRead {
		opts.UserMetadata = map[string]string{"x-amz-acl": "public-read"}
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts)
	return err
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", mapS3Err(err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		return nil, "", mapS3Err(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", err
	}
	ct := info.ContentType
	if ct == "" || ct == "application/octet-stream" {
		ct = DetectMIME(key, data)
	}
	return data, ct, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// URL returns a presigned GET URL valid for expiry.
func (s *S3) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func mapS3Err(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}
