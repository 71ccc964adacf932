package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patientwatch/patientwatch/internal/collector"
	"github.com/patientwatch/patientwatch/internal/fetcher"
	"github.com/patientwatch/patientwatch/internal/risk"
	"github.com/patientwatch/patientwatch/internal/store"
	"github.com/patientwatch/patientwatch/pkg/types"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// pagedFetcher serves n patients; patient i is high risk when i%5 == 0.
func pagedFetcher(n int, fail func(page int) error) fetcher.Func {
	return func(ctx context.Context, page, limit int) (*types.Page, error) {
		if fail != nil {
			if err := fail(page); err != nil {
				return nil, err
			}
		}
		start, end := (page-1)*limit, page*limit
		if end > n {
			end = n
		}
		data := make([]types.Patient, 0, limit)
		for i := start; i < end; i++ {
			p := types.Patient{
				PatientID:     fmt.Sprintf("P%03d", i),
				Age:           30.0,
				BloodPressure: "110/70",
				Temperature:   98.6,
			}
			if i%5 == 0 {
				p.Age = 70.0
				p.BloodPressure = "150/95"
			}
			data = append(data, p)
		}
		return &types.Page{
			Data:       data,
			Pagination: types.Pagination{Page: page, Limit: limit, Total: n},
		}, nil
	}
}

func newMonitor(t *testing.T, f fetcher.PageFetcher) (*Monitor, *store.Store) {
	t.Helper()
	st, err := store.New(time.Minute, 5, nil)
	require.NoError(t, err)
	m := New(f, risk.Default, st, Options{
		Collector: collector.Options{PageSize: 10, Sleep: noSleep},
	}, nil)
	return m, st
}

type analysisSpy struct {
	mu   sync.Mutex
	seen []types.Analysis
}

func (s *analysisSpy) ObserveAnalysis(a types.Analysis) {
	s.mu.Lock()
	s.seen = append(s.seen, a)
	s.mu.Unlock()
}

func TestRefresh_StoresAnalyzedReport(t *testing.T) {
	m, st := newMonitor(t, pagedFetcher(25, nil))
	spy := &analysisSpy{}
	m.opts.Analysis = spy

	var got *types.Report
	m.AddListener(ListenerFunc(func(ctx context.Context, r *types.Report) { got = r }))

	rep, err := m.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, rep.Analysis.TotalPatients)
	assert.Equal(t, []string{"P000", "P005", "P010", "P015", "P020"}, rep.Analysis.HighRiskPatients)
	assert.Empty(t, rep.Analysis.FeverPatients)
	assert.Equal(t, "clinical", rep.Table)
	assert.True(t, rep.Progress.IsComplete)
	assert.Len(t, rep.Patients, 25)
	assert.Same(t, rep, got)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Same(t, rep, latest)
	assert.False(t, st.IsStale())
	require.Len(t, spy.seen, 1)

	h := m.Health()
	assert.Equal(t, types.StateComplete, h.State)
	assert.False(t, h.Stale)
	assert.False(t, h.Running)
	assert.Equal(t, rep.RunID, h.LastRunID)
	require.NotNil(t, h.LastCollectedAt)
}

func TestRefresh_FirstPageFailure(t *testing.T) {
	m, st := newMonitor(t, pagedFetcher(25, func(page int) error {
		return &fetcher.Error{StatusCode: 401}
	}))

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, collector.ErrFirstPage)

	_, ok := m.Latest()
	assert.False(t, ok)
	assert.True(t, st.IsStale())

	h := m.Health()
	assert.Equal(t, types.StateFailed, h.State)
	assert.NotEmpty(t, h.LastError)
	assert.False(t, m.dueForRefresh(), "automatic refresh pauses after a fatal failure")
}

func TestRefresh_Busy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	m, _ := newMonitor(t, pagedFetcher(5, func(page int) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background())
		done <- err
	}()
	<-entered

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, m.Trigger(), "trigger refused while running")
	assert.True(t, m.Health().Running)
	assert.Equal(t, types.StateFetchingFirstPage, m.Progress().State)

	close(release)
	require.NoError(t, <-done)
}

func TestProgress_IdleBeforeFirstRun(t *testing.T) {
	m, _ := newMonitor(t, pagedFetcher(5, nil))
	p := m.Progress()
	assert.Equal(t, types.StateIdle, p.State)
	assert.NotNil(t, p.FailedPages)
}

func TestSubscribeProgress(t *testing.T) {
	m, _ := newMonitor(t, pagedFetcher(25, nil))
	ch, cancel := m.SubscribeProgress()
	defer cancel()

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)

	var last types.Progress
	for {
		select {
		case p := <-ch:
			last = p
			continue
		default:
		}
		break
	}
	assert.Equal(t, types.StateComplete, last.State)
	assert.Equal(t, 25, last.ActualTotal)

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	cancel() // idempotent
}

func TestTrigger(t *testing.T) {
	m, st := newMonitor(t, pagedFetcher(5, nil))
	_, err := m.Refresh(context.Background())
	require.NoError(t, err)
	require.False(t, st.IsStale())

	assert.True(t, m.Trigger())
	assert.True(t, st.IsStale(), "trigger invalidates the cached report")
	assert.False(t, m.Trigger(), "second trigger while one is queued")
}

func TestRun_RefreshesOnStartupAndTrigger(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	m, _ := newMonitor(t, pagedFetcher(5, func(page int) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	}))
	reports := make(chan *types.Report, 4)
	m.AddListener(ListenerFunc(func(ctx context.Context, r *types.Report) { reports <- r }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	first := waitReport(t, reports)
	assert.Eventually(t, func() bool { return m.Trigger() }, time.Second, 5*time.Millisecond)
	second := waitReport(t, reports)
	assert.NotEqual(t, first.RunID, second.RunID)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	mu.Lock()
	assert.Equal(t, 2, runs)
	mu.Unlock()
}

func waitReport(t *testing.T, ch <-chan *types.Report) *types.Report {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
		return nil
	}
}
