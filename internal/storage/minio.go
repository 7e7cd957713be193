package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options locate the bucket.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store keeps invoice source images and exported documents in MinIO.
type Store struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// New connects to MinIO and checks that the bucket exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	// Verify bucket exists
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", opts.Bucket)
	}

	return &Store{client: client, bucket: opts.Bucket, now: time.Now}, nil
}

// Bucket is the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// UploadInvoiceImage uploads a source image and returns "{bucket}/{object}",
// the reference carried in the invoice provenance.
// Path format: {channel}/YYYY/MM/{filename}
func (s *Store) UploadInvoiceImage(ctx context.Context, channel, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	objectName := ImageObjectName(channel, filename, s.now())

	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	return s.bucket + "/" + objectName, nil
}

// PutDocument stores an export document under exports/, replacing any
// previous version.
func (s *Store) PutDocument(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	objectName := "exports/" + name
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	return s.bucket + "/" + objectName, nil
}

// GetDocument reads an export document. A missing object returns (nil, nil).
func (s *Store) GetDocument(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, "exports/"+name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// GetPresignedURL generates a presigned URL for viewing an image
func (s *Store) GetPresignedURL(ctx context.Context, objectPath string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, TrimBucket(s.bucket, objectPath), 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// DeleteImage removes an image from storage
func (s *Store) DeleteImage(ctx context.Context, objectPath string) error {
	return s.client.RemoveObject(ctx, s.bucket, TrimBucket(s.bucket, objectPath), minio.RemoveObjectOptions{})
}

// ImageObjectName builds {channel}/YYYY/MM/{filename}. An empty channel is
// stored under "desconocido".
func ImageObjectName(channel, filename string, at time.Time) string {
	if channel == "" {
		channel = "desconocido"
	}
	return fmt.Sprintf("%s/%d/%02d/%s", channel, at.Year(), at.Month(), filename)
}

// TrimBucket removes a leading "{bucket}/" from objectPath.
func TrimBucket(bucket, objectPath string) string {
	return strings.TrimPrefix(objectPath, bucket+"/")
}

// GetFileExtension extracts file extension from content type
func GetFileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
