package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/celerix-dev/celerix-expenses/pkg/blob"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket          string
	Region          string
	Prefix          string // key prefix inside the bucket, e.g. "expenses/"
	Endpoint        string // custom endpoint (LocalStack, MinIO); enables path-style addressing
	PublicURL       string // URL base returned for blobs, e.g. a CDN in front of the bucket
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store stores blobs as objects in an S3 bucket.
type S3Store struct {
	client    S3API
	bucket    string
	prefix    string
	publicURL string
}

// NewS3Store loads AWS configuration and returns a store for opts.Bucket.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("blobstore: s3 bucket is required")
	}

	loaders := []func(*awsCfg.LoadOptions) error{awsCfg.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, awsCfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsCfg.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // localstack/minio friendliness
		}
	})

	return NewS3StoreWithClient(client, opts), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client S3API, opts S3Options) *S3Store {
	base := opts.PublicURL
	if base == "" {
		if opts.Endpoint != "" {
			base = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
		}
	}
	return &S3Store{
		client:    client,
		bucket:    opts.Bucket,
		prefix:    opts.Prefix,
		publicURL: strings.TrimRight(base, "/"),
	}
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (blob.Blob, error) {
	if err := validateKey(key); err != nil {
		return blob.Blob{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return blob.Blob{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	return s.describe(key, contentType, int64(len(body)), time.Now().UTC()), nil
}

// List pages through ListObjectsV2 until the listing is exhausted.
func (s *S3Store) List(ctx context.Context, prefix string) ([]blob.Blob, error) {
	var list []blob.Blob
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			var modified time.Time
			if obj.LastModified != nil {
				modified = obj.LastModified.UTC()
			}
			list = append(list, s.describe(key, "", aws.ToInt64(obj.Size), modified))
		}
	}
	return list, nil
}

func (s *S3Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

// KeyFromObject maps a bucket object key back to a store key.
// It reports false for objects outside the store's prefix.
func (s *S3Store) KeyFromObject(objectKey string) (string, bool) {
	if !strings.HasPrefix(objectKey, s.prefix) {
		return "", false
	}
	return strings.TrimPrefix(objectKey, s.prefix), true
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key
}

func (s *S3Store) describe(key, contentType string, size int64, uploaded time.Time) blob.Blob {
	u := s.publicURL + "/" + s.objectKey(key)
	return blob.Blob{
		Pathname:    key,
		URL:         u,
		DownloadURL: u,
		ContentType: contentType,
		Size:        size,
		UploadedAt:  uploaded,
	}
}
