// Package monitor runs collections on a staleness schedule, analyzes their
// results and hands the reports to the store and to registered listeners.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/collector"
	"github.com/patientwatch/patientwatch/internal/fetcher"
	"github.com/patientwatch/patientwatch/internal/risk"
	"github.com/patientwatch/patientwatch/internal/store"
	"github.com/patientwatch/patientwatch/pkg/types"
)

// ErrBusy is returned by Refresh while another collection is running.
var ErrBusy = errors.New("monitor: collection already running")

const progressBuffer = 16

// Listener is notified after every successful collection.
type Listener interface {
	OnReport(ctx context.Context, r *types.Report)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, r *types.Report)

func (f ListenerFunc) OnReport(ctx context.Context, r *types.Report) { f(ctx, r) }

// AnalysisObserver receives every new analysis. *metrics.Metrics implements it.
type AnalysisObserver interface {
	ObserveAnalysis(a types.Analysis)
}

// Options configures a Monitor.
type Options struct {
	Collector collector.Options
	Analysis  AnalysisObserver
}

// Health summarizes the monitor for the dashboard.
type Health struct {
	State           string     `json:"state"`
	Running         bool       `json:"running"`
	Stale           bool       `json:"stale"`
	LastRunID       string     `json:"last_run_id,omitempty"`
	LastCollectedAt *time.Time `json:"last_collected_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	StaleAfter      string     `json:"stale_after"`
}

// Monitor owns the collection schedule. At most one collection runs at a time.
type Monitor struct {
	fetcher    fetcher.PageFetcher
	classifier *risk.Classifier
	store      *store.Store
	opts       Options
	log        *zap.Logger
	now        func() time.Time

	trigger chan struct{}

	mu          sync.Mutex
	current     *collector.Collector
	running     bool
	lastError   string
	lastFailure time.Time
	listeners   []Listener
	subs        map[chan types.Progress]struct{}
}

// New returns a Monitor. A nil classifier uses risk.Default.
func New(f fetcher.PageFetcher, c *risk.Classifier, st *store.Store, opts Options, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if c == nil {
		c = risk.Default
	}
	return &Monitor{
		fetcher:    f,
		classifier: c,
		store:      st,
		opts:       opts,
		log:        log,
		now:        time.Now,
		trigger:    make(chan struct{}, 1),
		subs:       make(map[chan types.Progress]struct{}),
	}
}

// AddListener registers l for every future report.
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Classifier returns the classifier used for analysis.
func (m *Monitor) Classifier() *risk.Classifier { return m.classifier }

// Refresh runs one collection, analyzes it and stores the report.
func (m *Monitor) Refresh(ctx context.Context) (*types.Report, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	c := collector.New(m.fetcher, m.opts.Collector, m.log)
	m.current = c
	m.running = true
	m.mu.Unlock()

	forwarded := make(chan struct{})
	updates := c.Subscribe()
	go func() {
		defer close(forwarded)
		for p := range updates {
			m.publish(p)
		}
	}()

	res, err := c.Run(ctx)
	<-forwarded

	m.mu.Lock()
	m.running = false
	if err != nil {
		m.lastError = err.Error()
		m.lastFailure = m.now()
	} else {
		m.lastError = ""
		m.lastFailure = time.Time{}
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	report := &types.Report{
		RunID:       res.RunID,
		CollectedAt: res.FinishedAt.UTC(),
		Table:       m.classifier.Table().Name,
		Patients:    res.Patients,
		Analysis:    m.classifier.Analyze(res.Patients),
		Progress:    res.Progress,
	}
	m.store.Put(report)
	if m.opts.Analysis != nil {
		m.opts.Analysis.ObserveAnalysis(report.Analysis)
	}

	m.log.Info("monitor: report stored",
		zap.String("run_id", report.RunID),
		zap.Int("patients", report.Analysis.TotalPatients),
		zap.Int("high_risk", len(report.Analysis.HighRiskPatients)),
		zap.Int("fever", len(report.Analysis.FeverPatients)),
		zap.Int("data_quality", len(report.Analysis.DataQualityIssues)),
	)

	for _, l := range listeners {
		l.OnReport(ctx, report)
	}
	return report, nil
}

// Progress returns the live progress of the current or last collection.
func (m *Monitor) Progress() types.Progress {
	m.mu.Lock()
	c := m.current
	m.mu.Unlock()
	if c == nil {
		return types.Progress{State: types.StateIdle, FailedPages: []int{}}
	}
	return c.Progress()
}

// Latest returns the cached report, stale or not.
func (m *Monitor) Latest() (*types.Report, bool) {
	e, ok := m.store.Latest()
	if !ok {
		return nil, false
	}
	return e.Report, true
}

// Health reports the monitor state.
func (m *Monitor) Health() Health {
	p := m.Progress()
	m.mu.Lock()
	h := Health{
		State:      p.State,
		Running:    m.running,
		LastError:  m.lastError,
		StaleAfter: m.store.TTL().String(),
	}
	m.mu.Unlock()

	h.Stale = m.store.IsStale()
	if e, ok := m.store.Latest(); ok {
		at := e.Report.CollectedAt
		h.LastCollectedAt = &at
		h.LastRunID = e.Report.RunID
	}
	return h
}

// Trigger requests an asynchronous refresh from Run. It returns false when
// a collection is already running or a request is already queued.
func (m *Monitor) Trigger() bool {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		return false
	}
	select {
	case m.trigger <- struct{}{}:
		m.store.Invalidate()
		return true
	default:
		return false
	}
}

// SubscribeProgress returns a channel receiving every progress change of
// every future collection and a function that cancels the subscription.
func (m *Monitor) SubscribeProgress() (<-chan types.Progress, func()) {
	ch := make(chan types.Progress, progressBuffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// publish fans p out to progress subscribers, evicting the oldest buffered
// update for slow readers.
func (m *Monitor) publish(p types.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// Run refreshes once, then every half staleness window (minimum 1 second)
// whenever the cached report is stale, and immediately on Trigger. After a
// fatal first-page failure automatic refreshes pause for one staleness
// window; Trigger overrides the pause. Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.store.TTL() / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	m.refresh(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.trigger:
			m.refresh(ctx, "manual")
		case <-t.C:
			if m.dueForRefresh() {
				m.refresh(ctx, "stale")
			}
		}
	}
}

func (m *Monitor) dueForRefresh() bool {
	if !m.store.IsStale() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFailure.IsZero() || m.now().Sub(m.lastFailure) >= m.store.TTL()
}

func (m *Monitor) refresh(ctx context.Context, reason string) {
	m.log.Debug("monitor: starting collection", zap.String("reason", reason))
	_, err := m.Refresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrBusy), ctx.Err() != nil:
	case errors.Is(err, collector.ErrFirstPage):
		m.log.Error("monitor: first page failed, pausing automatic refresh",
			zap.String("reason", reason), zap.Error(err))
	default:
		m.log.Error("monitor: collection failed", zap.String("reason", reason), zap.Error(err))
	}
}
