package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSStoreRead(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "submissions", "5"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "submissions", "5", "page1.png"), []byte("png"), 0o644))

	store := NewFSStore(root)
	data, err := store.Read(context.Background(), "submissions/5/page1.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png"), data)

	data, err = store.Read(context.Background(), "/submissions/5/page1.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png"), data)

	_, err = store.Read(context.Background(), "submissions/5/page2.png")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Read(context.Background(), "  ")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFSStoreStaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "uploads")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))

	store := NewFSStore(root)
	_, err := store.Read(context.Background(), "../secret.txt")
	require.ErrorIs(t, err, ErrNotFound)

	path, err := store.resolve("../../etc/passwd")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "etc", "passwd"), path)
}

func TestFSStoreHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFSStore(t.TempDir()).Read(ctx, "a.png")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewMinioStoreRequiresBucket(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000"})
	require.Error(t, err)

	store, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000", Bucket: "submissions", AccessKey: "key", SecretKey: "secret"})
	require.NoError(t, err)
	require.Equal(t, "submissions", store.bucket)
}
