package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/layer-3/murmur/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	loc1, err := s.Put(ctx, []byte("blob"), "application/octet-stream")
	require.NoError(t, err)
	loc2, err := s.Put(ctx, []byte("blob"), "application/octet-stream")
	require.NoError(t, err)
	assert.NotEqual(t, loc1, loc2, "identical content must get independent locators")
	assert.True(t, strings.HasPrefix(loc1, "mem://"))

	got, err := s.Get(ctx, loc1)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	got[0] = 'X'
	again, err := s.Get(ctx, loc1)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), again, "returned slices must not alias stored content")

	_, err = s.Get(ctx, "mem://missing")
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = data
	f.types[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3StorePutGet(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, "gated")
	ctx := context.Background()

	loc, err := s.Put(ctx, []byte(`{"title":"t"}`), "application/json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc, "s3://gated/content/"))

	got, err := s.Get(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"t"}`, string(got))
	assert.Equal(t, "application/json", fake.types[strings.TrimPrefix(loc, "s3://")])

	_, err = s.Get(ctx, "s3://gated/content/missing")
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestParseS3Locator(t *testing.T) {
	tests := []struct {
		name    string
		locator string
		bucket  string
		key     string
		wantErr bool
	}{
		{name: "valid", locator: "s3://b/a/b/c", bucket: "b", key: "a/b/c"},
		{name: "wrong scheme", locator: "mem://x", wantErr: true},
		{name: "no key", locator: "s3://bucket", wantErr: true},
		{name: "empty bucket", locator: "s3:///key", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := parseS3Locator(tt.locator)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrRecordNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}
