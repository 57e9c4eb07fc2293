package cache

import (
	"context"
	"errors"
	"time"

	"github.com/spaceshq/spaces-server/internal/domain"
)

// ErrCacheMiss is returned when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// HistoryCache caches full space histories. Direct conversations are not
// cached: they are two-party and cheap to query.
type HistoryCache interface {
	Get(ctx context.Context, space string) ([]domain.Message, error)
	Set(ctx context.Context, space string, messages []domain.Message, ttl time.Duration) error
	// Invalidate drops the cached history after a new message is
	// persisted for the space.
	Invalidate(ctx context.Context, space string) error
	Close() error
}

// Noop is a HistoryCache that caches nothing. Used when the cache is
// disabled in config.
type Noop struct{}

func (Noop) Get(ctx context.Context, space string) ([]domain.Message, error) {
	return nil, ErrCacheMiss
}

func (Noop) Set(ctx context.Context, space string, messages []domain.Message, ttl time.Duration) error {
	return nil
}

func (Noop) Invalidate(ctx context.Context, space string) error { return nil }

func (Noop) Close() error { return nil }
