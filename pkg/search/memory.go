package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"airose/pkg/llm"
)

type entry struct {
	passage Passage
	vector  []float32
	terms   map[string]int
}

// MemoryIndex is an in-process passage index. With an embedder it ranks by
// cosine similarity; without one it falls back to term overlap.
type MemoryIndex struct {
	embedder llm.Embedder

	mu          sync.RWMutex
	collections map[string][]entry
}

// NewMemoryIndex creates an index. embedder may be nil.
func NewMemoryIndex(embedder llm.Embedder) *MemoryIndex {
	return &MemoryIndex{
		embedder:    embedder,
		collections: make(map[string][]entry),
	}
}

// Add embeds and stores passages under collection.
func (m *MemoryIndex) Add(ctx context.Context, collection string, passages ...Passage) error {
	entries := make([]entry, len(passages))
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = passageText(p)
		entries[i] = entry{passage: p, terms: termCounts(texts[i])}
	}

	if m.embedder != nil && len(texts) > 0 {
		vectors, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %s passages: %w", collection, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embed %s passages: got %d vectors for %d texts", collection, len(vectors), len(texts))
		}
		for i := range entries {
			entries[i].vector = vectors[i]
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = append(m.collections[collection], entries...)
	slog.DebugContext(ctx, "Passages indexed", "collection", collection, "count", len(entries))
	return nil
}

// Collections lists populated collection names with their sizes.
func (m *MemoryIndex) Collections() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.collections))
	for name, entries := range m.collections {
		out[name] = len(entries)
	}
	return out
}

// Search implements Searcher. Results are ordered by descending score;
// ties keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query, collection string, k int) ([]Passage, error) {
	m.mu.RLock()
	entries, ok := m.collections[collection]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	if k <= 0 {
		k = 3
	}

	var qvec []float32
	if m.embedder != nil {
		vectors, err := m.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vectors) == 1 {
			qvec = vectors[0]
		}
	}
	qterms := termCounts(query)

	scored := make([]Passage, 0, len(entries))
	for _, e := range entries {
		p := e.passage
		if qvec != nil && e.vector != nil {
			p.Score = cosine(qvec, e.vector)
		} else {
			p.Score = overlap(qterms, e.terms)
		}
		scored = append(scored, p)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func passageText(p Passage) string {
	if p.Title == "" {
		return p.Text
	}
	if p.Text == "" {
		return p.Title
	}
	return p.Title + "\n" + p.Text
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func termCounts(s string) map[string]int {
	terms := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 2 {
			terms[w]++
		}
	}
	return terms
}

// overlap is the fraction of query terms present in the passage.
func overlap(query, doc map[string]int) float32 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if doc[t] > 0 {
			hits++
		}
	}
	return float32(hits) / float32(len(query))
}
