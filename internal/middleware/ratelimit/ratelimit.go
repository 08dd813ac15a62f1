package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// Config tunes the limiter.
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration

	// Methods restricts limiting to the listed HTTP methods. Empty
	// means every request counts.
	Methods []string
}

// DefaultConfig limits write requests only; reads are cheap and mostly
// served from cache.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
		Methods:           []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	}
}

// Limiter counts requests per client IP in fixed one-minute windows. All
// state is in memory; a restart forgets every counter.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	rejected int64

	limit      int
	sweepEvery time.Duration
	limited    map[string]bool

	stop     chan struct{}
	stopOnce sync.Once
}

// window is one client's counter. It resets a full minute after it opened,
// not after the last request, so a slow trickle cannot hold a window open
// forever.
type window struct {
	opened time.Time
	seen   int
}

// NewLimiter starts the limiter and its background sweeper.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}

	var limited map[string]bool
	for _, m := range cfg.Methods {
		if limited == nil {
			limited = make(map[string]bool, len(cfg.Methods))
		}
		limited[m] = true
	}

	l := &Limiter{
		windows:    make(map[string]*window),
		limit:      cfg.RequestsPerMinute,
		sweepEvery: cfg.CleanupInterval,
		limited:    limited,
		stop:       make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Allow records one request from the client and reports whether it fits
// the current window.
func (l *Limiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w := l.windows[clientIP]
	if w == nil || now.Sub(w.opened) >= time.Minute {
		l.windows[clientIP] = &window{opened: now, seen: 1}
		return true
	}

	w.seen++
	if w.seen > l.limit {
		l.rejected++
		return false
	}
	return true
}

// Limits reports whether requests with the given method are subject to
// rate limiting.
func (l *Limiter) Limits(method string) bool {
	if l.limited == nil {
		return true
	}
	return l.limited[method]
}

// ActiveClients returns the number of currently tracked windows.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Metrics is a point-in-time counter snapshot.
type Metrics struct {
	TotalHits   int64
	ClientCount int64
}

// GetMetrics reports how many requests were rejected since startup and how
// many clients currently hold a window.
func (l *Limiter) GetMetrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Metrics{
		TotalHits:   l.rejected,
		ClientCount: int64(len(l.windows)),
	}
}

// Stop terminates the sweeper goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) janitor() {
	t := time.NewTicker(l.sweepEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops windows that expired long enough ago that the client is
// plainly gone.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, w := range l.windows {
		if w.opened.Before(cutoff) {
			delete(l.windows, ip)
		}
	}
}

// Middleware enforces the limit for the configured methods. onLimit, when
// given, writes the 429 response.
func (l *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Limits(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if !l.Allow(extractIP(r)) {
				if onLimit != nil {
					onLimit(w, r)
					return
				}
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
