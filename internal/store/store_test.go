package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patientwatch/patientwatch/pkg/types"
)

func report(id string) *types.Report {
	return &types.Report{RunID: id, Analysis: types.Analysis{AlertLists: types.NewAlertLists()}}
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, ttl time.Duration, history int) (*Store, *clock) {
	t.Helper()
	st, err := New(ttl, history, nil)
	require.NoError(t, err)
	clk := &clock{t: time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)}
	st.now = clk.now
	return st, clk
}

func TestNew_RejectsZeroTTL(t *testing.T) {
	_, err := New(0, 5, nil)
	assert.Error(t, err)
}

func TestPutAndLatest(t *testing.T) {
	st, _ := newTestStore(t, 5*time.Minute, 3)

	_, ok := st.Latest()
	assert.False(t, ok)

	st.Put(report("run-1"))
	st.Put(report("run-2"))

	e, ok := st.Latest()
	require.True(t, ok)
	assert.Equal(t, "run-2", e.Report.RunID)

	e, ok = st.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, "run-1", e.Report.RunID)

	_, ok = st.Get("unknown")
	assert.False(t, ok)
}

func TestHistoryBounded(t *testing.T) {
	st, _ := newTestStore(t, 5*time.Minute, 2)
	st.Put(report("a"))
	st.Put(report("b"))
	st.Put(report("c"))

	assert.Equal(t, 2, st.Count())
	_, ok := st.Get("a")
	assert.False(t, ok, "oldest report evicted by LRU")

	list := st.List()
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].Report.RunID)
	assert.Equal(t, "b", list[1].Report.RunID)
}

func TestIsStale(t *testing.T) {
	st, clk := newTestStore(t, 5*time.Minute, 3)
	assert.True(t, st.IsStale(), "empty store is stale")

	st.Put(report("run-1"))
	assert.False(t, st.IsStale())

	clk.advance(4*time.Minute + 59*time.Second)
	assert.False(t, st.IsStale())

	clk.advance(time.Second)
	assert.True(t, st.IsStale(), "exactly ttl old is stale")

	st.Put(report("run-2"))
	assert.False(t, st.IsStale())
}

func TestInvalidate(t *testing.T) {
	st, _ := newTestStore(t, 5*time.Minute, 3)
	st.Put(report("run-1"))

	st.Invalidate()
	assert.True(t, st.IsStale())
	_, ok := st.Latest()
	assert.True(t, ok, "invalidated report is still served")

	st.Put(report("run-2"))
	assert.False(t, st.IsStale())
}

func TestEvict_KeepsLatest(t *testing.T) {
	st, clk := newTestStore(t, time.Minute, 5)
	st.Put(report("old"))
	clk.advance(30 * time.Second)
	st.Put(report("mid"))
	clk.advance(30 * time.Second)
	st.Put(report("new"))

	removed := st.Evict(clk.now())
	assert.Equal(t, 1, removed)
	_, ok := st.Get("old")
	assert.False(t, ok)
	_, ok = st.Get("mid")
	assert.True(t, ok)

	clk.advance(time.Hour)
	assert.Equal(t, 1, st.Evict(clk.now()))
	e, ok := st.Latest()
	require.True(t, ok)
	assert.Equal(t, "new", e.Report.RunID)
}

func TestRun_StopsOnCancel(t *testing.T) {
	st, _ := newTestStore(t, time.Minute, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
