package cache

import (
	"context"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// AddToSet and Members keep a set of keys so a group of entries can be
	// dropped together.
	AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error
	Members(ctx context.Context, key string) ([]string, error)
}

type NoopCache struct{}

func NewNoop() *NoopCache {
	return &NoopCache{}
}

func (n *NoopCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (n *NoopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (n *NoopCache) Delete(ctx context.Context, keys ...string) error {
	return nil
}

func (n *NoopCache) AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	return nil
}

func (n *NoopCache) Members(ctx context.Context, key string) ([]string, error) {
	return nil, nil
}
