package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"airose/pkg/llm/llmtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexRanksByCosine(t *testing.T) {
	emb := &llmtest.StaticEmbedder{Dim: 2, Vectors: map[string][]float32{
		"Yoga\nstretching":   {1, 0},
		"Bandage\nfirst aid": {0, 1},
		"Travel\nvideos":     {0.7, 0.7},
		"hurt my hand":       {0.1, 0.9},
	}}
	idx := NewMemoryIndex(emb)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, CollectionClasses,
		Passage{ID: "y", Title: "Yoga", Text: "stretching"},
		Passage{ID: "b", Title: "Bandage", Text: "first aid"},
		Passage{ID: "t", Title: "Travel", Text: "videos"},
	))

	got, err := idx.Search(ctx, "hurt my hand", CollectionClasses, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "t", got[1].ID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

// shortEmbedder drops the last vector of every batch.
type shortEmbedder struct{}

func (shortEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts)-1)
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestMemoryIndexRejectsMissingVectors(t *testing.T) {
	idx := NewMemoryIndex(shortEmbedder{})
	err := idx.Add(context.Background(), CollectionClasses,
		Passage{ID: "a", Title: "Yoga"},
		Passage{ID: "b", Title: "Bingo"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 vectors for 2 texts")
	assert.Empty(t, idx.Collections())
}

func TestMemoryIndexLexicalFallback(t *testing.T) {
	idx := NewMemoryIndex(nil)
	ctx := context.Background()
	require.NoError(t, idx.Seed(ctx, DefaultCatalog()))

	got, err := idx.Search(ctx, "I want a hip therapy video", CollectionVideos, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "4", got[0].ID)
}

func TestMemoryIndexUnknownCollection(t *testing.T) {
	idx := NewMemoryIndex(nil)
	_, err := idx.Search(context.Background(), "anything", "nope", 3)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestMemoryIndexEmptyCollection(t *testing.T) {
	idx := NewMemoryIndex(nil)
	ctx := context.Background()
	require.NoError(t, idx.Seed(ctx, DefaultCatalog()))

	got, err := idx.Search(ctx, "diabetes", CollectionHealthDocuments, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, idx.Collections()[CollectionHealthDocuments])
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
collections:
  classes:
    - id: "10"
      title: Watercolor
      text: Thursday 14:00
  health_documents:
    - id: doc-1
      text: Take medication with food.
      source: meds.pdf
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.Collections[CollectionClasses], 1)
	assert.Equal(t, "Watercolor", c.Collections[CollectionClasses][0].Title)
	assert.Equal(t, "meds.pdf", c.Collections[CollectionHealthDocuments][0].Source)
}

func TestParseCatalogRequiresIDs(t *testing.T) {
	_, err := ParseCatalog([]byte("collections:\n  videos:\n    - title: untitled\n"))
	assert.Error(t, err)
}
