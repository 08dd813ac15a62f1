// Package cache provides a small in-memory LRU cache with TTL expiry,
// used to keep hot exchange-rate lookups and report summaries off the
// database on every request.
package cache

import (
	"log/slog"
	"time"
)

// Cache is the read/write surface consumers depend on.
type Cache[T any] interface {
	// Get retrieves a value from the cache
	Get(key string) (T, bool)

	// Set stores a value in the cache
	Set(key string, data T)

	// Delete removes a key from the cache
	Delete(key string)

	// Size returns the current number of items in the cache
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries in bulk.
type Cleaner interface {
	CleanExpired() int
}

// Manager owns the shared cleanup goroutine for every registered cache,
// so each cache does not need a timer of its own.
type Manager struct {
	registered []Cleaner
	stop       chan struct{}
	done       chan struct{}
	started    bool
}

// NewManager creates a new cache manager.
func NewManager() *Manager {
	return &Manager{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Register adds a cache to the cleanup rotation. Not safe to call after
// StartCleanup.
func (m *Manager) Register(cache Cleaner) {
	m.registered = append(m.registered, cache)
}

// StartCleanup begins periodic cleanup of all registered caches.
func (m *Manager) StartCleanup(interval time.Duration) {
	m.started = true
	go m.run(interval)
}

func (m *Manager) run(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := m.sweepAll(); removed > 0 {
				slog.Debug("Cache cleanup pass", "removed", removed)
			}
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) sweepAll() int {
	total := 0
	for _, cache := range m.registered {
		total += cache.CleanExpired()
	}
	return total
}

// Stop ends the cleanup goroutine and waits for it to exit. Calling
// Stop on a manager that was never started is a no-op.
func (m *Manager) Stop() {
	if !m.started {
		return
	}
	close(m.stop)
	<-m.done
}
