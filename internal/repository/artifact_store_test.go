package repository

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ForeCrypt/internal/domain/models"
	domrepo "ForeCrypt/internal/domain/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket keyed by object key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestArtifactStores(t *testing.T) {
	fs, err := NewFSArtifactStore(filepath.Join(t.TempDir(), "models"))
	require.NoError(t, err)

	stores := map[string]domrepo.ArtifactStore{
		"fs":     fs,
		"memory": NewMemoryArtifactStore(),
		"s3":     NewS3ArtifactStore(&fakeS3{objects: map[string][]byte{}}, "bucket", "/models/"),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "BTC__naive.msgpack"

			_, err := store.Get(ctx, key)
			assert.ErrorIs(t, err, models.ErrArtifactNotFound)
			exists, err := store.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, store.Put(ctx, key, []byte("v1")))
			require.NoError(t, store.Put(ctx, key, []byte("v2")))
			b, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), b)
			exists, err = store.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, store.Delete(ctx, key))
			require.NoError(t, store.Delete(ctx, key), "deleting a missing key is not an error")
			_, err = store.Get(ctx, key)
			assert.ErrorIs(t, err, models.ErrArtifactNotFound)
		})
	}
}

func TestFSArtifactStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSArtifactStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "ETH__arima.msgpack", []byte("blob")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ETH__arima.msgpack", entries[0].Name())
}

func TestFSArtifactStoreRejectsPathKeys(t *testing.T) {
	store, err := NewFSArtifactStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "..", "../escape", `a\b`} {
		assert.Error(t, store.Put(context.Background(), key, []byte("x")), key)
	}

	_, err = NewFSArtifactStore("")
	assert.Error(t, err)
}

func TestS3ArtifactStorePrefixesKeys(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{}}
	store := NewS3ArtifactStore(api, "bucket", "/models/")
	require.NoError(t, store.Put(context.Background(), "BTC__ets.msgpack", []byte("x")))
	assert.Contains(t, api.objects, "models/BTC__ets.msgpack")
}
