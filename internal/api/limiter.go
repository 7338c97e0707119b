package api

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type keyLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// rateLimiter hands out one token bucket per client key and forgets keys idle longer than
// limiterIdleTTL.
type rateLimiter struct {
	cfg config.APIRateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	limiters  map[string]*keyLimiter
	lastSweep time.Time
}

func newRateLimiter(cfg config.APIRateLimitConfig) *rateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &rateLimiter{cfg: cfg, now: time.Now, limiters: map[string]*keyLimiter{}}
}

func (l *rateLimiter) enabled() bool {
	return l.cfg.RPS > 0
}

// allow takes a token for key. When the bucket is empty it reports how long until the next
// token.
func (l *rateLimiter) allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyLimiter{lim: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.limiters[key] = kl
	}
	kl.lastSeen = now
	l.mu.Unlock()

	r := kl.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *rateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleTTL {
		return
	}
	l.lastSweep = now
	for key, kl := range l.limiters {
		if now.Sub(kl.lastSeen) > limiterIdleTTL {
			delete(l.limiters, key)
		}
	}
}

func (l *rateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
