// Package storage provides blob-based persistence with pluggable backends.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/productlens/barcodeflow/internal/common"
)

// S3BlobStore implements BlobStore against any S3-compatible object store.
// The pipeline's blob backend targets Azure
// Blob Storage (AZURE_STORAGE_ACCOUNT_URL / AZURE_STORAGE_CONNECTION_STRING
// / AZURE_STORAGE_CONTAINER); no Azure SDK exists anywhere in this project's
// dependency corpus, so those same configuration keys are read here and
// mapped onto an S3-compatible endpoint, bucket, and static credential pair
// instead — the same pattern the corpus already exercises for Cloudflare R2.
type S3BlobStore struct {
	client *s3.Client
	bucket string
	prefix string
	logger *common.Logger
}

// NewS3BlobStore creates an S3-compatible blob store.
func NewS3BlobStore(logger *common.Logger, config *S3BlobConfig) (*S3BlobStore, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 blob store bucket is required")
	}

	opts := s3.Options{
		Region:      config.Region,
		Credentials: credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
	}
	if opts.Region == "" {
		opts.Region = "auto"
	}
	if config.Endpoint != "" {
		opts.BaseEndpoint = aws.String(config.Endpoint)
		opts.UsePathStyle = true
	}

	client := s3.New(opts)

	sb := &S3BlobStore{
		client: client,
		bucket: config.Bucket,
		prefix: config.Prefix,
		logger: logger,
	}
	logger.Debug().Str("bucket", config.Bucket).Str("endpoint", config.Endpoint).Msg("S3BlobStore initialized")
	return sb, nil
}

func (sb *S3BlobStore) fullKey(key string) string {
	if sb.prefix == "" {
		return key
	}
	return strings.TrimSuffix(sb.prefix, "/") + "/" + key
}

func (sb *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := sb.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.fullKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body %s: %w", key, err)
	}
	return data, nil
}

func (sb *S3BlobStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := sb.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.fullKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob reader %s: %w", key, err)
	}
	return out.Body, nil
}

func (sb *S3BlobStore) Put(ctx context.Context, key string, data []byte) error {
	return sb.PutReader(ctx, key, bytes.NewReader(data), int64(len(data)))
}

func (sb *S3BlobStore) PutReader(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := sb.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(sb.bucket),
		Key:           aws.String(sb.fullKey(key)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to put blob %s: %w", key, err)
	}
	return nil
}

func (sb *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := sb.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.fullKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (sb *S3BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := sb.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.fullKey(key)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check blob %s: %w", key, err)
}

func (sb *S3BlobStore) Metadata(ctx context.Context, key string) (*BlobMetadata, error) {
	out, err := sb.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.fullKey(key)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to stat blob %s: %w", key, err)
	}

	meta := &BlobMetadata{Key: key}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	if out.ETag != nil {
		meta.ETag = strings.Trim(*out.ETag, `"`)
	}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	return meta, nil
}

func (sb *S3BlobStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	maxKeys := int32(opts.MaxKeys)
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(sb.bucket),
		Prefix:  aws.String(sb.fullKey(opts.Prefix)),
		MaxKeys: aws.Int32(maxKeys),
	}
	if opts.Delimiter != "" {
		in.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.Cursor != "" {
		in.ContinuationToken = aws.String(opts.Cursor)
	}

	out, err := sb.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	result := &ListResult{}
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		key := strings.TrimPrefix(*obj.Key, sb.prefix)
		key = strings.TrimPrefix(key, "/")
		m := BlobMetadata{Key: key}
		if obj.Size != nil {
			m.Size = *obj.Size
		}
		if obj.LastModified != nil {
			m.LastModified = *obj.LastModified
		}
		if obj.ETag != nil {
			m.ETag = strings.Trim(*obj.ETag, `"`)
		}
		result.Blobs = append(result.Blobs, m)
	}
	if out.IsTruncated != nil {
		result.Truncated = *out.IsTruncated
	}
	if out.NextContinuationToken != nil {
		result.NextCursor = *out.NextContinuationToken
	}
	return result, nil
}

// Close releases resources (no-op — the S3 SDK client owns no long-lived
// connection that needs explicit teardown).
func (sb *S3BlobStore) Close() error {
	return nil
}

// Copy duplicates src to dst server-side using CopyObject, avoiding a
// round trip of the bytes through the process. No stage handler in this
// module calls it at present.
func (sb *S3BlobStore) Copy(ctx context.Context, src, dst string) error {
	copySource := sb.bucket + "/" + sb.fullKey(src)
	_, err := sb.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(sb.bucket),
		Key:        aws.String(sb.fullKey(dst)),
		CopySource: aws.String(copySource),
	})
	if err != nil {
		return fmt.Errorf("failed to copy blob %s -> %s: %w", src, dst, err)
	}
	return nil
}

var _ BlobStore = (*S3BlobStore)(nil)
