package search

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk seed format:
//
//	collections:
//	  classes:
//	    - id: "1"
//	      title: Fixing bleeding
//	      text: Tuesday 10:00, first-aid basics
type Catalog struct {
	Collections map[string][]Passage `yaml:"collections"`
}

// LoadCatalog parses a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog parses YAML catalog bytes. Passages without an id are rejected.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for name, passages := range c.Collections {
		for i, p := range passages {
			if p.ID == "" {
				return nil, fmt.Errorf("catalog collection %q entry %d has no id", name, i)
			}
		}
	}
	return &c, nil
}

// Seed adds every collection of the catalog to the index.
func (m *MemoryIndex) Seed(ctx context.Context, c *Catalog) error {
	names := make([]string, 0, len(c.Collections))
	for name := range c.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.Add(ctx, name, c.Collections[name]...); err != nil {
			return err
		}
	}
	return nil
}

// DefaultCatalog is used when no seed file is configured.
func DefaultCatalog() *Catalog {
	return &Catalog{Collections: map[string][]Passage{
		CollectionClasses: {
			{ID: "1", Title: "Fixing bleeding", Text: "First-aid basics for small cuts and scrapes"},
			{ID: "2", Title: "Stopping blood", Text: "Applying pressure and elevating a wound"},
			{ID: "3", Title: "Using a bandage", Text: "Hands-on bandaging practice"},
			{ID: "4", Title: "Chair yoga", Text: "Gentle seated stretching, afternoons"},
		},
		CollectionVideos: {
			{ID: "1", Title: "Fixing bleeding", Text: "Short first-aid walkthrough"},
			{ID: "2", Title: "Stopping blood", Text: "How to apply pressure to a wound"},
			{ID: "3", Title: "Using a bandage", Text: "Step-by-step bandaging"},
			{ID: "4", Title: "Hip therapy exercises", Text: "Low-impact movements for hip recovery"},
			{ID: "5", Title: "Travel: Kyoto in autumn", Text: "Relaxing travel footage"},
		},
		CollectionHealthDocuments: {},
	}}
}
