package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/pkg/types"
)

// DefaultHistory is the number of reports retained when New is given 0.
const DefaultHistory = 10

// Entry is a report together with the time it was stored.
type Entry struct {
	Report   *types.Report
	StoredAt time.Time
}

// Store is a thread-safe report cache keyed by run ID.
type Store struct {
	mu          sync.Mutex
	lru         *simplelru.LRU
	latest      string
	invalidated bool
	ttl         time.Duration
	now         func() time.Time // injectable for deterministic tests
	log         *zap.Logger
}

// New creates a Store whose latest report goes stale after ttl and which
// keeps at most history reports.
func New(ttl time.Duration, history int, log *zap.Logger) (*Store, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("store: ttl must be positive")
	}
	if history <= 0 {
		history = DefaultHistory
	}
	if log == nil {
		log = zap.NewNop()
	}
	var onEvict simplelru.EvictCallback
	lru, err := simplelru.NewLRU(history, onEvict)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{lru: lru, ttl: ttl, now: time.Now, log: log}, nil
}

// TTL returns the staleness window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put stores r and makes it the latest report. Callers must not modify r
// afterwards.
func (s *Store) Put(r *types.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.lru.Add(r.RunID, &Entry{Report: r, StoredAt: s.now()})
	s.latest = r.RunID
	s.invalidated = false
}

// Latest returns the most recently stored report, stale or not.
func (s *Store) Latest() (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == "" {
		return nil, false
	}
	v, ok := s.lru.Peek(s.latest)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// Get returns the report with the given run ID.
func (s *Store) Get(runID string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lru.Get(runID)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// List returns every retained entry, newest first.
func (s *Store) List() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.lru.Keys() // oldest to newest
	out := make([]*Entry, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := s.lru.Peek(keys[i]); ok {
			out = append(out, v.(*Entry))
		}
	}
	return out
}

// Count returns the number of retained reports.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// IsStale reports whether a new collection is due: there is no report yet,
// the latest is at least ttl old, or it was invalidated.
func (s *Store) IsStale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == "" || s.invalidated {
		return true
	}
	v, ok := s.lru.Peek(s.latest)
	if !ok {
		return true
	}
	return !s.now().Before(v.(*Entry).StoredAt.Add(s.ttl))
}

// Invalidate marks the latest report stale without removing it.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = true
}

// Evict removes reports older than now minus ttl, except the latest, which
// is kept as the last known state. It returns the number removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for _, k := range s.lru.Keys() {
		if k == s.latest {
			continue
		}
		v, ok := s.lru.Peek(k)
		if !ok {
			continue
		}
		if !v.(*Entry).StoredAt.After(cutoff) {
			s.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// Run starts the background eviction loop. It ticks at half the TTL interval
// (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				s.log.Debug("store: evicted old reports", zap.Int("count", n))
			}
		}
	}
}
