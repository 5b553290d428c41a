package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore builds a keyword-only store over a temp docs directory.
func setupTestStore(t *testing.T, docs map[string]string) *Store {
	t.Helper()

	docsDir := t.TempDir()
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(docsDir, name), []byte(content), 0o644))
	}

	store, err := New(Config{
		DocsDir: docsDir,
		DBPath:  filepath.Join(t.TempDir(), "knowledge.db"),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestStoreSync(t *testing.T) {
	t.Run("should index markdown and text documents", func(t *testing.T) {
		store := setupTestStore(t, map[string]string{
			"guide.md":    "Deployment guide for the billing service.",
			"runbook.txt": "Rotate the signing keys every quarter.",
			"image.png":   "binary noise",
		})

		require.NoError(t, store.Sync(context.Background()))

		status := store.Status()
		assert.Equal(t, 2, status.TotalFiles)
		assert.Equal(t, 2, status.TotalChunks)
		assert.False(t, status.IsDirty)
	})

	t.Run("should skip unchanged files on resync", func(t *testing.T) {
		store := setupTestStore(t, map[string]string{
			"guide.md": "Deployment guide for the billing service.",
		})

		require.NoError(t, store.Sync(context.Background()))
		first := store.Status()

		require.NoError(t, store.Sync(context.Background()))
		second := store.Status()

		assert.Equal(t, first.TotalChunks, second.TotalChunks)
	})

	t.Run("should prune documents deleted from disk", func(t *testing.T) {
		docsDir := t.TempDir()
		path := filepath.Join(docsDir, "gone.md")
		require.NoError(t, os.WriteFile(path, []byte("short-lived document"), 0o644))

		store, err := New(Config{
			DocsDir: docsDir,
			DBPath:  filepath.Join(t.TempDir(), "knowledge.db"),
			Logger:  zerolog.Nop(),
		})
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Sync(context.Background()))
		assert.Equal(t, 1, store.Status().TotalFiles)

		require.NoError(t, os.Remove(path))
		store.MarkDirty()
		require.NoError(t, store.Sync(context.Background()))

		status := store.Status()
		assert.Equal(t, 0, status.TotalFiles)
		assert.Equal(t, 0, status.TotalChunks)
	})

	t.Run("should reindex a file whose content changed", func(t *testing.T) {
		docsDir := t.TempDir()
		path := filepath.Join(docsDir, "notes.md")
		require.NoError(t, os.WriteFile(path, []byte("original content about kubernetes"), 0o644))

		store, err := New(Config{
			DocsDir: docsDir,
			DBPath:  filepath.Join(t.TempDir(), "knowledge.db"),
			Logger:  zerolog.Nop(),
		})
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Sync(context.Background()))

		require.NoError(t, os.WriteFile(path, []byte("rewritten content about terraform"), 0o644))
		store.MarkDirty()

		docs, err := store.Search(context.Background(), "terraform", 4)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Contains(t, docs[0].Content, "terraform")
	})
}

func TestStoreSearch(t *testing.T) {
	t.Run("should find documents by keyword", func(t *testing.T) {
		store := setupTestStore(t, map[string]string{
			"billing.md": "The billing service charges customers monthly.",
			"auth.md":    "The auth service issues access tokens.",
		})

		docs, err := store.Search(context.Background(), "billing", 4)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "billing", docs[0].Title)
		assert.Contains(t, docs[0].Content, "billing service")
	})

	t.Run("should cap results at topK", func(t *testing.T) {
		docs := map[string]string{}
		for _, name := range []string{"a.md", "b.md", "c.md", "d.md", "e.md", "f.md"} {
			docs[name] = "shared keyword appears in " + name
		}
		store := setupTestStore(t, docs)

		results, err := store.Search(context.Background(), "keyword", 4)
		require.NoError(t, err)
		assert.Len(t, results, 4)
	})

	t.Run("should return empty for an empty query", func(t *testing.T) {
		store := setupTestStore(t, map[string]string{"a.md": "content"})

		results, err := store.Search(context.Background(), "", 4)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("should return empty when nothing matches", func(t *testing.T) {
		store := setupTestStore(t, map[string]string{"a.md": "content about databases"})

		results, err := store.Search(context.Background(), "spacecraft", 4)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestStoreReady(t *testing.T) {
	t.Run("should report not ready before any sync", func(t *testing.T) {
		store := setupTestStore(t, map[string]string{"a.md": "content"})
		assert.False(t, store.Ready())
	})

	t.Run("should report ready once chunks exist", func(t *testing.T) {
		store := setupTestStore(t, map[string]string{"a.md": "content worth indexing"})
		require.NoError(t, store.Sync(context.Background()))
		assert.True(t, store.Ready())
	})

	t.Run("should report not ready on a nil store", func(t *testing.T) {
		var store *Store
		assert.False(t, store.Ready())
	})
}
