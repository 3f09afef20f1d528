package ratelimit

import (
	"sync"
	"time"

	"github.com/clawwork/livebench/internal/metrics"
)

// Config represents sliding-window rate limiter configuration
type Config struct {
	Enabled       bool
	Window        time.Duration
	ReadLimit     int
	WriteLimit    int
	SweepInterval time.Duration
}

// Limiter is a sliding-window rate limiter with one bucket per
// (action, client) pair. Buckets hold admission timestamps; entries
// older than the window are evicted before every check.
type Limiter struct {
	cfg     Config
	buckets map[string][]time.Time
	mu      sync.Mutex
	now     func() time.Time
	stop    chan struct{}
}

// NewLimiter creates a limiter. When enabled and a sweep interval is
// configured, a background goroutine drops fully expired buckets so
// unbounded client cardinality cannot grow memory forever.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if cfg.Enabled && cfg.SweepInterval > 0 {
		go l.sweepLoop()
	}

	return l
}

// Admit reports whether one more request for this bucket fits inside
// the trailing window, recording the attempt when it does. Disabled
// limiters always admit without recording.
func (l *Limiter) Admit(action, client string, isWrite bool) bool {
	if !l.cfg.Enabled {
		return true
	}

	limit := l.Limit(isWrite)
	key := action + "|" + client

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	kept := l.buckets[key][:0]
	for _, ts := range l.buckets[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		l.buckets[key] = kept
		metrics.RateLimitDecisionsTotal.WithLabelValues(class(isWrite), "denied").Inc()
		return false
	}

	l.buckets[key] = append(kept, now)
	metrics.RateLimitDecisionsTotal.WithLabelValues(class(isWrite), "allowed").Inc()
	return true
}

// Limit returns the configured per-window limit for the request class.
func (l *Limiter) Limit(isWrite bool) int {
	if isWrite {
		return l.cfg.WriteLimit
	}
	return l.cfg.ReadLimit
}

// Window returns the configured window duration.
func (l *Limiter) Window() time.Duration {
	return l.cfg.Window
}

// Enabled reports whether the limiter records and enforces anything.
func (l *Limiter) Enabled() bool {
	return l.cfg.Enabled
}

// Count returns the number of live entries in a bucket.
func (l *Limiter) Count(action, client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.Window)
	n := 0
	for _, ts := range l.buckets[action+"|"+client] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// Buckets returns the number of tracked buckets.
func (l *Limiter) Buckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Reset drops all recorded state.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string][]time.Time)
}

// Close stops the background sweep loop.
func (l *Limiter) Close() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep removes buckets whose every entry has aged out of the window.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.Window)
	for key, entries := range l.buckets {
		live := false
		for _, ts := range entries {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.buckets, key)
		}
	}
}

func class(isWrite bool) string {
	if isWrite {
		return "write"
	}
	return "read"
}
