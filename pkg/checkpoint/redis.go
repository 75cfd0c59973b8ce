package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"airose/pkg/state"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore keeps checkpoints as redis strings without expiry, plus a
// sorted-set index of conversation ids scored by last save time.
type RedisStore struct {
	client *backend.Client
	prefix string
	codec  *Codec
}

type Option func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithCodec sets the payload codec.
func WithCodec(c *Codec) Option {
	return func(s *RedisStore) {
		if c != nil {
			s.codec = c
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *backend.Client, opts ...Option) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "airose:checkpoint:",
		codec:  DefaultCodec(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) Load(ctx context.Context, id string) (*state.State, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint from redis: %w", err)
	}
	return s.codec.Decode(data)
}

func (s *RedisStore) Save(ctx context.Context, id string, st *state.State) error {
	data, err := s.codec.Encode(st)
	if err != nil {
		return err
	}

	// checkpoint 不會自動過期，只有 Delete 會移除
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(id), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: float64(time.Now().UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns every stored id, least recently saved first.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return ids, nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
