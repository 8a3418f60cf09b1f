package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notFoundError struct{}

func (notFoundError) Error() string     { return "api error NotFound" }
func (notFoundError) ErrorCode() string { return "NotFound" }

// fakeS3 keeps objects in a map.
type fakeS3 struct {
	objects map[string][]byte
	puts    int
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, notFoundError{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, notFoundError{}
	}
	if in.Range != nil {
		var from, to int64
		if _, err := fmt.Sscanf(*in.Range, "bytes=%d-%d", &from, &to); err != nil {
			return nil, err
		}
		if to >= int64(len(body)) {
			to = int64(len(body)) - 1
		}
		body = body[from : to+1]
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(body)))}, nil
}

func TestObjectStore_PutIsContentAddressed(t *testing.T) {
	api := newFakeS3()
	store := NewObjectStore(api, "bucket")

	blob := []byte("encrypted bytes")
	ref, err := store.Put(context.Background(), blob, "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, PieceRef(blob), ref)
	assert.Len(t, ref, 64)

	has, err := store.Has(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestObjectStore_PutDeduplicates(t *testing.T) {
	api := newFakeS3()
	store := NewObjectStore(api, "bucket")

	blob := []byte("same bytes")
	ref1, err := store.Put(context.Background(), blob, "application/octet-stream")
	require.NoError(t, err)
	ref2, err := store.Put(context.Background(), blob, "application/octet-stream")
	require.NoError(t, err)

	assert.Equal(t, ref1, ref2)
	assert.Equal(t, 1, api.puts, "identical bytes are uploaded once")
}

func TestObjectStore_GetRoundTrip(t *testing.T) {
	store := NewObjectStore(newFakeS3(), "bucket")

	blob := []byte("0123456789")
	ref, err := store.Put(context.Background(), blob, "audio/mpeg")
	require.NoError(t, err)

	got, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	part, err := store.GetRange(context.Background(), ref, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), part)
}

func TestObjectStore_GetRange_Invalid(t *testing.T) {
	store := NewObjectStore(newFakeS3(), "bucket")
	_, err := store.GetRange(context.Background(), "ref", 5, 2)
	require.Error(t, err)
}

func TestObjectStore_HasMissing(t *testing.T) {
	store := NewObjectStore(newFakeS3(), "bucket")
	has, err := store.Has(context.Background(), strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.False(t, has)
}
