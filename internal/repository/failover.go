package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCache serves from the primary store and switches to the fallback when the
// primary errors, probing the primary again once a minute.
type FailoverCache struct {
	primary   domain.Cache
	fallback  domain.Cache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverCache(primary, fallback domain.Cache, logger *zerolog.Logger) *FailoverCache {
	return &FailoverCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should go to the primary store.
func (r *FailoverCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverCache) primaryResult(err error) bool {
	if err == nil {
		if r.isDown.Swap(false) {
			r.logger.Info().Msg("Primary cache recovered")
		}
		return true
	}
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary cache failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
	return false
}

func (r *FailoverCache) Get(ctx context.Context, key string) (string, bool, error) {
	if r.usePrimary() {
		val, ok, err := r.primary.Get(ctx, key)
		if r.primaryResult(err) {
			return val, ok, nil
		}
	}
	return r.fallback.Get(ctx, key)
}

func (r *FailoverCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if r.usePrimary() {
		if r.primaryResult(r.primary.Set(ctx, key, value, ttl)) {
			return nil
		}
	}
	return r.fallback.Set(ctx, key, value, ttl)
}

func (r *FailoverCache) Delete(ctx context.Context, key string) error {
	// Invalidate both so a recovered primary never serves what the fallback dropped.
	fbErr := r.fallback.Delete(ctx, key)
	if r.usePrimary() {
		if r.primaryResult(r.primary.Delete(ctx, key)) {
			return nil
		}
	}
	return fbErr
}

func (r *FailoverCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.SetNX(ctx, key, value, ttl)
		if r.primaryResult(err) {
			return ok, nil
		}
	}
	return r.fallback.SetNX(ctx, key, value, ttl)
}

func (r *FailoverCache) Take(ctx context.Context, key string) (string, bool, error) {
	if r.usePrimary() {
		val, ok, err := r.primary.Take(ctx, key)
		if r.primaryResult(err) {
			return val, ok, nil
		}
	}
	return r.fallback.Take(ctx, key)
}
