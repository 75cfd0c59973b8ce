// Package checkpoint persists conversation state between turns.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"airose/pkg/config"
	"airose/pkg/state"

	backend "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Load when a conversation has no checkpoint yet.
var ErrNotFound = errors.New("checkpoint not found")

// Store keeps one State per conversation id. Implementations must be safe for
// concurrent use across different ids.
type Store interface {
	Load(ctx context.Context, id string) (*state.State, error)
	Save(ctx context.Context, id string, st *state.State) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// NewFromConfig builds the store and the matching turn locker described by cfg.
func NewFromConfig(cfg config.CheckpointConfig) (Store, Locker, error) {
	codec, err := NewCodec(cfg.Codec, cfg.Compress)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), NewLocalLocker(), nil
	case "", "file":
		store, err := NewFileStore(cfg.Dir, codec)
		if err != nil {
			return nil, nil, err
		}
		return store, NewLocalLocker(), nil
	case "redis":
		opts, err := backend.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := backend.NewClient(opts)
		store := NewRedisStore(client,
			WithPrefix(cfg.Prefix+":checkpoint:"),
			WithCodec(codec),
		)
		return store, NewRedisLocker(client, cfg.Prefix+":"), nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// LoadOrNew loads the checkpoint for id, or returns an empty state when none exists.
func LoadOrNew(ctx context.Context, s Store, id string) (*state.State, error) {
	st, err := s.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return state.New(), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}
