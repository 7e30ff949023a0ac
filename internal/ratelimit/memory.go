package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
	size  time.Duration
}

// MemoryLimiter keeps windows in a process-local map. The first hit for an
// identifier opens its window; the count resets once the window has elapsed.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMemoryLimiter uses time.Now when now is nil.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, id string, tier Tier) (Result, error) {
	now := m.now()
	if tier.Unlimited() {
		return unlimitedResult(now), nil
	}

	key := tier.Name + ":" + id

	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.start.Add(w.size)) {
		w = &window{start: now, size: tier.Window}
		m.windows[key] = w
	}
	w.count++
	count, reset := w.count, w.start.Add(w.size)
	m.mu.Unlock()

	return resultFor(tier, count, reset, now), nil
}

// Sweep drops elapsed windows and returns how many were removed.
func (m *MemoryLimiter) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, w := range m.windows {
		if !now.Before(w.start.Add(w.size)) {
			delete(m.windows, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked windows.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// StartJanitor sweeps every interval until Close.
func (m *MemoryLimiter) StartJanitor(interval time.Duration) {
	m.startOnce.Do(func() {
		go func() {
			defer close(m.done)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.Sweep()
				case <-m.stop:
					return
				}
			}
		}()
	})
}

func (m *MemoryLimiter) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	started := true
	m.startOnce.Do(func() {
		started = false
		close(m.done)
	})
	if started {
		<-m.done
	}
}
