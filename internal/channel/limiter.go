package channel

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/relaydesk/channelhub/internal/config"
)

// Limiter enforces per-account admission: a token bucket for sustained
// rate and a counter for concurrent in-flight messages. Buckets are keyed
// by "{channel}:{account_id}" and created lazily.
type Limiter struct {
	cfg config.RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter     *rate.Limiter
	concurrency int
	inFlight    int
}

// NewLimiter builds a limiter from the configured per-channel rules.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// Acquire admits one message for the given channel/account, returning a
// release func that must be called when processing finishes. A rule with
// both qps and concurrency at zero means unlimited: Acquire succeeds
// without touching any shared state. The call never blocks; when either
// gate rejects, it returns ErrRateLimited.
func (l *Limiter) Acquire(ch, accountID string) (func(), error) {
	rule := l.cfg.RuleFor(ch)
	if rule.QPS == 0 && rule.Concurrency == 0 {
		return func() {}, nil
	}

	key := ch + ":" + accountID

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		limit := rate.Inf
		burst := 1
		if rule.QPS > 0 {
			limit = rate.Limit(rule.QPS)
			burst = rule.QPS
		}
		b = &bucket{
			limiter:     rate.NewLimiter(limit, burst),
			concurrency: rule.Concurrency,
		}
		l.buckets[key] = b
	}

	if b.concurrency > 0 && b.inFlight >= b.concurrency {
		l.mu.Unlock()
		return nil, ErrRateLimited
	}
	if !b.limiter.Allow() {
		l.mu.Unlock()
		return nil, ErrRateLimited
	}
	b.inFlight++
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			b.inFlight--
			l.mu.Unlock()
		})
	}
	return release, nil
}
