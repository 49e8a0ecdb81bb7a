package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tbourn/go-feature-board/internal/domain"
	"github.com/tbourn/go-feature-board/internal/observability"
)

type memEntry struct {
	stats   domain.ProjectStats
	expires time.Time
}

// Memory is an in-process Stats cache.
type Memory struct {
	load Loader
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
	gens    map[string]uint64
}

// NewMemory returns an in-process cache. A ttl <= 0 selects DefaultTTL.
func NewMemory(load Loader, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		load:    load,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memEntry),
		gens:    make(map[string]uint64),
	}
}

// Get returns the cached stats for projectID, recomputing them when absent
// or expired. The returned map is a copy owned by the caller.
func (m *Memory) Get(ctx context.Context, projectID string) (domain.ProjectStats, error) {
	m.mu.Lock()
	if e, ok := m.entries[projectID]; ok && m.now().Before(e.expires) {
		m.mu.Unlock()
		observability.StatsCacheRequests.WithLabelValues("hit").Inc()
		return clone(e.stats), nil
	}
	gen := m.gens[projectID]
	m.mu.Unlock()

	stats, err := m.load(ctx, projectID)
	if err != nil {
		observability.StatsCacheRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.StatsCacheRequests.WithLabelValues("miss").Inc()

	m.mu.Lock()
	if m.gens[projectID] == gen {
		m.entries[projectID] = memEntry{stats: clone(stats), expires: m.now().Add(m.ttl)}
	}
	m.mu.Unlock()
	return stats, nil
}

// Invalidate drops the entry for projectID. It is safe to call when no
// entry exists.
func (m *Memory) Invalidate(_ context.Context, projectID string) error {
	m.mu.Lock()
	delete(m.entries, projectID)
	m.gens[projectID]++
	m.mu.Unlock()
	return nil
}
