// Package storage is the client for the content-addressable storage network:
// an S3-compatible gateway keyed by content hash, plus the credit balance and
// funding flow that pays for uploads.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// pieceKeyPrefix namespaces content objects inside the bucket.
const pieceKeyPrefix = "pieces/"

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectStore stores encrypted content blobs under their own hash, so a
// re-upload of identical bytes lands on the same key.
type ObjectStore struct {
	api    S3API
	bucket string
}

func NewObjectStore(api S3API, bucket string) *ObjectStore {
	return &ObjectStore{api: api, bucket: bucket}
}

// NewS3Client builds an S3 client for the storage gateway endpoint with
// static credentials.
func NewS3Client(ctx context.Context, endpoint, region, accessKeyID, secretKey string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}), nil
}

// PieceRef computes the content address of a blob: its hex sha256.
func PieceRef(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// Put uploads a blob under its content address and returns the piece
// reference. Uploading bytes that already exist is a no-op.
func (s *ObjectStore) Put(ctx context.Context, blob []byte, contentType string) (string, error) {
	ref := PieceRef(blob)
	key := pieceKeyPrefix + ref

	exists, err := s.exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("existence probe for %s: %w", ref, err)
	}
	if exists {
		return ref, nil
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload piece %s: %w", ref, err)
	}
	return ref, nil
}

// Has reports whether a piece is already stored.
func (s *ObjectStore) Has(ctx context.Context, pieceRef string) (bool, error) {
	return s.exists(ctx, pieceKeyPrefix+pieceRef)
}

// Get fetches a whole piece.
func (s *ObjectStore) Get(ctx context.Context, pieceRef string) ([]byte, error) {
	return s.get(ctx, pieceRef, "")
}

// GetRange fetches a byte range of a piece, inclusive on both ends.
func (s *ObjectStore) GetRange(ctx context.Context, pieceRef string, from, to int64) ([]byte, error) {
	if from < 0 || to < from {
		return nil, fmt.Errorf("invalid byte range %d-%d", from, to)
	}
	return s.get(ctx, pieceRef, fmt.Sprintf("bytes=%d-%d", from, to))
}

func (s *ObjectStore) get(ctx context.Context, pieceRef, byteRange string) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(pieceKeyPrefix + pieceRef),
	}
	if byteRange != "" {
		input.Range = aws.String(byteRange)
	}
	out, err := s.api.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("fetch piece %s: %w", pieceRef, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *ObjectStore) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return strings.Contains(err.Error(), "StatusCode: 404")
}
