// Package search holds the passage index behind recommendation and
// document-lookup tools.
package search

import (
	"context"
	"errors"
)

// Well-known collections.
const (
	CollectionClasses         = "classes"
	CollectionVideos          = "videos"
	CollectionHealthDocuments = "health_documents"
)

// ErrUnknownCollection is returned when searching a collection that was never populated.
var ErrUnknownCollection = errors.New("unknown collection")

// Passage is one searchable unit: a class, a video or a document chunk.
type Passage struct {
	ID     string  `yaml:"id" json:"id"`
	Title  string  `yaml:"title" json:"title"`
	Text   string  `yaml:"text" json:"text"`
	Source string  `yaml:"source,omitempty" json:"source,omitempty"`
	Score  float32 `yaml:"-" json:"score"`
}

// Searcher answers similarity queries against a named collection.
type Searcher interface {
	Search(ctx context.Context, query, collection string, k int) ([]Passage, error)
}
