package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
}

func TestClientList(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 10)
	writeFile(t, filepath.Join(root, "sub", "b.csv"), 5)

	client, err := New(Config{Root: root})
	require.NoError(t, err)

	entries, err := client.List(context.Background(), "/")
	require.NoError(t, err)
	require.Equal(t, []crawler.Entry{
		{Name: "a.txt", Type: crawler.EntryFile, Size: 10},
		{Name: "sub", Type: crawler.EntryDir},
	}, entries)

	entries, err = client.List(context.Background(), "/sub")
	require.NoError(t, err)
	require.Equal(t, []crawler.Entry{{Name: "b.csv", Type: crawler.EntryFile, Size: 5}}, entries)
}

func TestClientMissingDirectoryIsRejected(t *testing.T) {
	t.Parallel()

	client, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)

	_, err = client.List(context.Background(), "/missing")
	require.Equal(t, crawler.KindRejected, crawler.KindOf(err))
}

func TestClientEscapeIsRejected(t *testing.T) {
	t.Parallel()

	client, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)

	_, err = client.List(context.Background(), "/../../etc")
	require.Equal(t, crawler.KindRejected, crawler.KindOf(err))
}

func TestClientTooLarge(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{"1", "2", "3"} {
		writeFile(t, filepath.Join(root, "big", name), 1)
	}
	client, err := New(Config{Root: root, MaxEntries: 2})
	require.NoError(t, err)

	_, err = client.List(context.Background(), "/big")
	require.ErrorIs(t, err, crawler.ErrDirectoryTooLarge)
	require.Equal(t, crawler.KindTooLarge, crawler.KindOf(err))
}

func TestNewRejectsFileRoot(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "f")
	writeFile(t, file, 1)
	_, err := New(Config{Root: file})
	require.Error(t, err)
}
