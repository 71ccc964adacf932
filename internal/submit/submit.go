package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/config"
	"github.com/patientwatch/patientwatch/internal/fetcher"
	"github.com/patientwatch/patientwatch/internal/retry"
	"github.com/patientwatch/patientwatch/pkg/types"
)

// Submitter sends alert lists to the scoring endpoint.
type Submitter struct {
	http   *resty.Client
	path   string
	policy retry.Decider
	sleep  retry.SleepFunc
	log    *zap.Logger

	mu       sync.Mutex
	last     *Response
	lastSent *types.AlertLists
}

// Option customizes a Submitter.
type Option func(*Submitter)

// WithPolicy replaces the default submission retry policy.
func WithPolicy(d retry.Decider) Option {
	return func(s *Submitter) { s.policy = d }
}

// WithSleep replaces the real-time retry wait.
func WithSleep(fn retry.SleepFunc) Option {
	return func(s *Submitter) { s.sleep = fn }
}

// New returns a Submitter posting to api.BaseURL + sub.Path.
func New(api config.APIConfig, sub config.SubmitConfig, log *zap.Logger, opts ...Option) *Submitter {
	if log == nil {
		log = zap.NewNop()
	}
	path := sub.Path
	if path == "" {
		path = config.DefaultSubmitPath
	}
	s := &Submitter{
		http:   fetcher.NewHTTPClient(api, log),
		path:   path,
		policy: retry.DefaultSubmit(),
		sleep:  retry.Sleep,
		log:    log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit posts lists and returns the decoded grade.
func (s *Submitter) Submit(ctx context.Context, lists types.AlertLists) (*Response, error) {
	lists = normalizeLists(lists)
	op := func(ctx context.Context) (*Response, error) { return s.post(ctx, lists) }
	notify := func(err error, attempt int, delay time.Duration) {
		s.log.Warn("submit: retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
	}
	resp, err := retry.Do(ctx, s.policy, op, retry.WithSleep(s.sleep), retry.WithNotify(notify))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.last = resp
	s.lastSent = &lists
	s.mu.Unlock()

	s.log.Info("submit: graded",
		zap.Bool("success", resp.Success),
		zap.Float64("score", resp.Results.Score),
		zap.Float64("percentage", resp.Results.Percentage),
		zap.String("status", resp.Results.Status),
		zap.Int("attempt", resp.Results.AttemptNumber),
		zap.Int("remaining_attempts", resp.Results.RemainingAttempts),
	)
	return resp, nil
}

// Last returns the most recent successful response, or nil.
func (s *Submitter) Last() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// OnReport submits r's alert lists unless they equal the last submitted ones.
func (s *Submitter) OnReport(ctx context.Context, r *types.Report) {
	lists := normalizeLists(r.Analysis.AlertLists)

	s.mu.Lock()
	unchanged := s.lastSent != nil && equalLists(*s.lastSent, lists)
	s.mu.Unlock()
	if unchanged {
		s.log.Debug("submit: alert lists unchanged, skipping", zap.String("run_id", r.RunID))
		return
	}

	if _, err := s.Submit(ctx, lists); err != nil {
		s.log.Error("submit: failed", zap.String("run_id", r.RunID), zap.Error(err))
	}
}

func (s *Submitter) post(ctx context.Context, lists types.AlertLists) (*Response, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(lists).
		Post(s.path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &fetcher.Error{Err: err}
	}
	if resp.StatusCode() >= 300 {
		return nil, fetcher.Classify(resp.StatusCode(), resp.Body(), resp.Header())
	}

	var out Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("submit: decode response: %w", err)
	}
	return &out, nil
}

// normalizeLists replaces nil lists so they encode as [] rather than null.
func normalizeLists(l types.AlertLists) types.AlertLists {
	if l.HighRiskPatients == nil {
		l.HighRiskPatients = []string{}
	}
	if l.FeverPatients == nil {
		l.FeverPatients = []string{}
	}
	if l.DataQualityIssues == nil {
		l.DataQualityIssues = []string{}
	}
	return l
}

func equalLists(a, b types.AlertLists) bool {
	return slices.Equal(a.HighRiskPatients, b.HighRiskPatients) &&
		slices.Equal(a.FeverPatients, b.FeverPatients) &&
		slices.Equal(a.DataQualityIssues, b.DataQualityIssues)
}
