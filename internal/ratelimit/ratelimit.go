// Package ratelimit implements fixed-window request limiting keyed by client.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the time until the current window resets.
	RetryAfter time.Duration
}

// Limiter counts requests per key within fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type window struct {
	start time.Time
	count int
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory allows limit requests per key in each period.
func NewMemory(limit int, period time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSweep = m.now()
	return m
}

// Allow counts one request for key. The first request opens a window;
// the count resets once the window has elapsed.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= m.period {
		w = &window{start: now}
		m.windows[key] = w
	}
	w.count++
	d := Decision{
		Allowed:    w.count <= m.limit,
		Limit:      m.limit,
		Remaining:  max(m.limit-w.count, 0),
		RetryAfter: w.start.Add(m.period).Sub(now),
	}
	return d, nil
}

// sweep drops expired windows at most once per period.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.period {
		return
	}
	for k, w := range m.windows {
		if now.Sub(w.start) >= m.period {
			delete(m.windows, k)
		}
	}
	m.lastSweep = now
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
