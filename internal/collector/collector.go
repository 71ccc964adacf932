package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patientwatch/patientwatch/internal/fetcher"
	"github.com/patientwatch/patientwatch/internal/retry"
	"github.com/patientwatch/patientwatch/pkg/types"
)

var (
	// ErrFirstPage wraps the final error of page 1 when its retries ran out.
	ErrFirstPage = errors.New("collector: first page failed")

	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("collector: run already started")
)

const defaultSubscriberBuffer = 16

// Observer receives collection events. *metrics.Metrics implements it.
type Observer interface {
	PageFetched(page, records int, elapsed time.Duration)
	PageSkipped(page int, err error)
	RetryScheduled(page int, err error, delay time.Duration)
	RunFinished(p types.Progress, elapsed time.Duration)
}

// Options tunes a Collector. Zero values fall back to defaults.
type Options struct {
	// PageSize is the limit requested for page 1. Later pages use the
	// limit the server echoed back.
	PageSize int

	// StaggerInterval separates successive dispatches of pages 2..N.
	StaggerInterval time.Duration

	// MaxConcurrent caps in-flight page fetches. 0 means unbounded.
	MaxConcurrent int

	// Policy decides retries. Defaults to retry.Default().
	Policy retry.Decider

	// Sleep is used for stagger and retry waits; injectable for tests.
	Sleep retry.SleepFunc

	Observer Observer

	// SubscriberBuffer is the channel capacity handed out by Subscribe.
	SubscriberBuffer int
}

// Result is the outcome of a finished run.
type Result struct {
	RunID      string
	Patients   []types.Patient
	Progress   types.Progress
	Metadata   map[string]any
	StartedAt  time.Time
	FinishedAt time.Time
}

// Collector runs one collection. It is single-use.
type Collector struct {
	fetcher fetcher.PageFetcher
	opts    Options
	log     *zap.Logger

	started atomic.Bool

	mu       sync.Mutex
	progress types.Progress
	pages    map[int][]types.Patient
	pending  mapset.Set[int]
	failed   mapset.Set[int]
	subs     []chan types.Progress
	closed   bool
}

// New returns a Collector that reads pages from f.
func New(f fetcher.PageFetcher, opts Options, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.StaggerInterval < 0 {
		opts.StaggerInterval = 0
	}
	if opts.Policy == nil {
		opts.Policy = retry.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	return &Collector{
		fetcher:  f,
		opts:     opts,
		log:      log,
		progress: types.Progress{State: types.StateIdle, FailedPages: []int{}},
		pages:    make(map[int][]types.Patient),
		pending:  mapset.NewThreadUnsafeSet[int](),
		failed:   mapset.NewThreadUnsafeSet[int](),
	}
}

// Collect is shorthand for New(f, opts, log).Run(ctx).
func Collect(ctx context.Context, f fetcher.PageFetcher, opts Options, log *zap.Logger) (*Result, error) {
	return New(f, opts, log).Run(ctx)
}

// Progress returns a copy of the current progress.
func (c *Collector) Progress() types.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel that receives a progress snapshot after every
// change. The channel is closed when the run ends. A slow reader loses the
// oldest snapshots, never the newest.
func (c *Collector) Subscribe() <-chan types.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan types.Progress, c.opts.SubscriberBuffer)
	ch <- c.snapshotLocked()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

// Run executes the collection. It returns ErrFirstPage (wrapping the cause)
// when page 1 cannot be retrieved and ctx.Err() when ctx ends first; in
// both cases no partial result is returned.
func (c *Collector) Run(ctx context.Context) (*Result, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	started := time.Now()
	runID := uuid.NewString()
	log := c.log.With(zap.String("run_id", runID))

	c.update(func(p *types.Progress) {
		p.RunID = runID
		p.State = types.StateFetchingFirstPage
	})

	first, err := c.fetchWithRetry(ctx, log, 1, c.opts.PageSize)
	if err != nil {
		return nil, c.finishFirstPageError(ctx, log, err, started)
	}

	total := first.Pagination.Total
	totalPages := first.Pagination.PageCount()
	if totalPages < 1 {
		totalPages = 1
	}
	limit := first.Pagination.Limit
	if limit <= 0 {
		limit = c.opts.PageSize
	}

	c.mu.Lock()
	c.pages[1] = first.Data
	c.progress.ExpectedTotal = total
	c.progress.TotalPages = totalPages
	c.progress.ActualTotal = len(first.Data)
	c.progress.SuccessfulPages = 1
	if totalPages > 1 {
		c.progress.State = types.StateFetchingRemainingPages
		for k := 2; k <= totalPages; k++ {
			c.pending.Add(k)
		}
	}
	c.publishLocked()
	c.mu.Unlock()

	log.Info("collector: first page received",
		zap.Int("expected_total", total),
		zap.Int("total_pages", totalPages),
		zap.Int("limit", limit),
	)

	if totalPages > 1 {
		c.fetchRemaining(ctx, log, totalPages, limit)
		if err := ctx.Err(); err != nil {
			c.finish(log, types.StateCanceled, err.Error(), started)
			return nil, err
		}
	}

	c.mu.Lock()
	if !c.pending.IsEmpty() {
		log.Error("collector: pages left unsettled", zap.Ints("pages", c.pending.ToSlice()))
	}
	c.mu.Unlock()

	final := c.finish(log, types.StateComplete, "", started)

	c.mu.Lock()
	patients := c.mergedLocked()
	c.mu.Unlock()

	return &Result{
		RunID:      runID,
		Patients:   patients,
		Progress:   final,
		Metadata:   first.Metadata,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}, nil
}

// fetchRemaining dispatches pages 2..totalPages, the k-th no earlier than
// (k-1)*stagger after it starts, and waits for all of them to settle.
func (c *Collector) fetchRemaining(ctx context.Context, log *zap.Logger, totalPages, limit int) {
	var g errgroup.Group
	if c.opts.MaxConcurrent > 0 {
		g.SetLimit(c.opts.MaxConcurrent)
	}

	for k := 2; k <= totalPages; k++ {
		if err := c.opts.Sleep(ctx, c.opts.StaggerInterval); err != nil {
			break
		}
		page := k
		log.Debug("collector: dispatching page", zap.Int("page", page))
		g.Go(func() error {
			c.fetchPage(ctx, log, page, limit)
			return nil
		})
	}
	_ = g.Wait()
}

// fetchPage retrieves one remaining page and merges or skips it.
func (c *Collector) fetchPage(ctx context.Context, log *zap.Logger, page, limit int) {
	res, err := c.fetchWithRetry(ctx, log, page, limit)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Remove(page)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.failed.Add(page)
		log.Warn("collector: skipping page after retries",
			zap.Int("page", page),
			zap.Int("status", fetcher.StatusCode(err)),
			zap.Error(err),
		)
		c.opts.Observer.PageSkipped(page, err)
		c.publishLocked()
		return
	}

	c.pages[page] = res.Data
	c.progress.ActualTotal += len(res.Data)
	c.progress.SuccessfulPages++
	c.publishLocked()
}

func (c *Collector) fetchWithRetry(ctx context.Context, log *zap.Logger, page, limit int) (*types.Page, error) {
	start := time.Now()
	res, err := retry.Do(ctx, c.opts.Policy,
		func(ctx context.Context) (*types.Page, error) {
			return c.fetcher.FetchPage(ctx, page, limit)
		},
		retry.WithSleep(c.opts.Sleep),
		retry.WithNotify(func(err error, attempt int, delay time.Duration) {
			log.Warn("collector: retrying page",
				zap.Int("page", page),
				zap.Int("status", fetcher.StatusCode(err)),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			c.opts.Observer.RetryScheduled(page, err, delay)
		}),
	)
	if err != nil {
		return nil, err
	}
	if res.Data == nil {
		res.Data = []types.Patient{}
	}
	c.opts.Observer.PageFetched(page, len(res.Data), time.Since(start))
	return res, nil
}

func (c *Collector) finishFirstPageError(ctx context.Context, log *zap.Logger, err error, started time.Time) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.finish(log, types.StateCanceled, ctxErr.Error(), started)
		return ctxErr
	}
	log.Error("collector: first page failed",
		zap.Int("status", fetcher.StatusCode(err)),
		zap.Error(err),
	)
	c.finish(log, types.StateFailed, err.Error(), started)
	return fmt.Errorf("%w: %w", ErrFirstPage, err)
}

// finish moves to a terminal state, notifies subscribers for the last time
// and closes their channels.
func (c *Collector) finish(log *zap.Logger, state, msg string, started time.Time) types.Progress {
	c.mu.Lock()
	c.progress.State = state
	c.progress.Error = msg
	c.pending.Clear()
	c.publishLocked()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.closed = true
	final := c.snapshotLocked()
	c.mu.Unlock()

	elapsed := time.Since(started)
	c.opts.Observer.RunFinished(final, elapsed)
	if state == types.StateComplete {
		log.Info("collector: collection complete",
			zap.Int("expected_total", final.ExpectedTotal),
			zap.Int("actual_total", final.ActualTotal),
			zap.Int("successful_pages", final.SuccessfulPages),
			zap.Ints("failed_pages", final.FailedPages),
			zap.Bool("is_complete", final.IsComplete),
			zap.Duration("elapsed", elapsed),
		)
	}
	return final
}

func (c *Collector) update(fn func(p *types.Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.progress)
	c.publishLocked()
}

// publishLocked sends the current snapshot to every subscriber, evicting the
// oldest buffered snapshot when a channel is full.
func (c *Collector) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// snapshotLocked derives the computed fields. c.mu must be held.
func (c *Collector) snapshotLocked() types.Progress {
	p := c.progress
	failed := c.failed.ToSlice()
	slices.Sort(failed)
	if failed == nil {
		failed = []int{}
	}
	p.FailedPages = failed
	p.PendingPages = c.pending.Cardinality()
	p.IsComplete = p.ExpectedTotal > 0 && p.ActualTotal >= p.ExpectedTotal
	p.IsLoadingAdditionalPages = p.State == types.StateFetchingRemainingPages
	p.CompletionPercentage = completionPercentage(p.ActualTotal, p.ExpectedTotal)
	return p
}

// mergedLocked concatenates page data in page order. c.mu must be held.
func (c *Collector) mergedLocked() []types.Patient {
	out := make([]types.Patient, 0, c.progress.ActualTotal)
	keys := make([]int, 0, len(c.pages))
	for k := range c.pages {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, c.pages[k]...)
	}
	return out
}

func completionPercentage(actual, expected int) int {
	if expected <= 0 {
		return 0
	}
	pct := int(math.Round(float64(actual) / float64(expected) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}

type nopObserver struct{}

func (nopObserver) PageFetched(int, int, time.Duration) {}
func (nopObserver) PageSkipped(int, error) {}
func (nopObserver) RetryScheduled(int, error, time.Duration) {}
func (nopObserver) RunFinished(types.Progress, time.Duration) {}
