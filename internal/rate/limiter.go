package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines token bucket parameters for one caller.
type Config struct {
	RequestsPerSecond int
	Burst             int
	// Cooldown holds a caller off for this long after it drains its bucket.
	Cooldown time.Duration
}

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	mu        sync.Mutex
	tokens    float64
	last      time.Time
	rate      float64
	burst     float64
	cooldown  time.Duration
	blockedAt time.Time
	now       func() time.Time
}

// New creates a new limiter with a full bucket.
func New(cfg Config) *Limiter {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *Limiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		tokens:   float64(burst),
		last:     now(),
		rate:     float64(cfg.RequestsPerSecond),
		burst:    float64(burst),
		cooldown: cfg.Cooldown,
		now:      now,
	}
}

// Allow takes one token if available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.cooldown > 0 && !l.blockedAt.IsZero() && now.Sub(l.blockedAt) < l.cooldown {
		return false
	}

	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens >= 1 {
		l.tokens--
		l.blockedAt = time.Time{}
		return true
	}

	if l.cooldown > 0 {
		l.blockedAt = now
	}
	return false
}

// Wait blocks until a token becomes available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Manager holds one limiter per caller key (an address or remote IP).
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
	now      func() time.Time
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
		now:      time.Now,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := newWithClock(m.defaults, m.now)
	m.limiters[key] = lim
	return lim
}

// Allow is the non-blocking check used by request middleware.
func (m *Manager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}

// Wait ensures rate limit compliance for a given key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Len reports how many callers currently hold a limiter.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.limiters)
}
