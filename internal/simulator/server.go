package simulator

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/auth"
	"github.com/patientwatch/patientwatch/internal/risk"
	"github.com/patientwatch/patientwatch/pkg/types"
)

// Defaults mirror the limits of the real API.
const (
	DefaultPatients   = 47
	DefaultLimit      = 5
	MaxLimit          = 20
	DefaultNoise      = 0.15
	DefaultRetryAfter = 2
	MaxAttempts       = 3
)

// Options configures a Server.
type Options struct {
	Patients int
	Seed     int64
	// Noise is the share of records with garbled vitals.
	Noise float64
	// APIKey, when set, is required in the x-api-key header.
	APIKey string
	// RateLimitEvery answers every Nth patients request with 429. Zero disables.
	RateLimitEvery int
	// RetryAfter is the retry_after value, in seconds, sent with 429.
	RetryAfter int
	// ErrorRate is the share of patients requests answered with 500 or 503.
	ErrorRate float64
	// Table scores the ground truth. Zero value selects risk.AssessmentTable.
	Table risk.Table
}

func (o *Options) applyDefaults() {
	if o.Patients <= 0 {
		o.Patients = DefaultPatients
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = DefaultRetryAfter
	}
	if o.Table.Name == "" {
		o.Table = risk.AssessmentTable
	}
}

// Server is the simulated patients API.
type Server struct {
	opts     Options
	patients []types.Patient
	truth    types.AlertLists
	echo     *echo.Echo
	log      *zap.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	requests int
	attempts int
	best     float64
}

// New builds a Server and its dataset.
func New(opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts.applyDefaults()
	patients := Generate(opts.Patients, opts.Seed, opts.Noise)
	s := &Server{
		opts:     opts,
		patients: patients,
		truth:    risk.New(opts.Table).Classify(patients),
		log:      log,
		rng:      rand.New(rand.NewSource(opts.Seed)),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(auth.APIKey("apikey", "x-api-key", opts.APIKey))
	e.GET("/patients", s.listPatients)
	e.POST("/submit-assessment", s.submitAssessment)
	s.echo = e
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Patients returns the generated dataset.
func (s *Server) Patients() []types.Patient { return s.patients }

// Truth returns the alert lists the grader expects.
func (s *Server) Truth() types.AlertLists { return s.truth }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("simulator: listening",
		zap.String("addr", addr),
		zap.Int("patients", len(s.patients)),
		zap.Bool("auth", s.opts.APIKey != ""),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// --- handlers ---------------------------------------------------------------

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (s *Server) listPatients(c echo.Context) error {
	if status := s.injectFailure(); status != 0 {
		if status == http.StatusTooManyRequests {
			return c.JSON(status, errorBody{
				Error:      "Rate limit exceeded",
				Message:    "Too many requests. Please wait before retrying.",
				RetryAfter: s.opts.RetryAfter,
			})
		}
		return c.JSON(status, errorBody{Error: http.StatusText(status)})
	}

	page, err := intParam(c, "page", 1)
	if err != nil || page < 1 {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "page must be a positive integer"})
	}
	limit, err := intParam(c, "limit", DefaultLimit)
	if err != nil || limit < 1 {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
	}
	limit = min(limit, MaxLimit)

	total := len(s.patients)
	totalPages := (total + limit - 1) / limit
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	return c.JSON(http.StatusOK, types.Page{
		Data: s.patients[start:end],
		Pagination: types.Pagination{
			Page:        page,
			Limit:       limit,
			Total:       total,
			TotalPages:  totalPages,
			HasNext:     page < totalPages,
			HasPrevious: page > 1,
		},
		Metadata: map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"version":   "v1.0",
			"requestId": uuid.NewString(),
		},
	})
}

// injectFailure returns the status to fail this request with, or 0.
func (s *Server) injectFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if s.opts.RateLimitEvery > 0 && s.requests%s.opts.RateLimitEvery == 0 {
		return http.StatusTooManyRequests
	}
	if s.opts.ErrorRate > 0 && s.rng.Float64() < s.opts.ErrorRate {
		if s.rng.Intn(2) == 0 {
			return http.StatusInternalServerError
		}
		return http.StatusServiceUnavailable
	}
	return 0
}

func (s *Server) submitAssessment(c echo.Context) error {
	var lists types.AlertLists
	if err := c.Bind(&lists); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid submission body"})
	}

	s.mu.Lock()
	if s.attempts >= MaxAttempts {
		s.mu.Unlock()
		return c.JSON(http.StatusTooManyRequests, errorBody{Error: "no submission attempts remaining"})
	}
	s.attempts++
	g := grade(s.truth, lists)
	g.AttemptNumber = s.attempts
	g.RemainingAttempts = MaxAttempts - s.attempts
	g.CanResubmit = g.RemainingAttempts > 0
	g.IsPersonalBest = g.Score > s.best
	if g.IsPersonalBest {
		s.best = g.Score
	}
	s.mu.Unlock()

	s.log.Info("simulator: graded submission",
		zap.Float64("score", g.Score),
		zap.Int("attempt", g.AttemptNumber),
	)
	return c.JSON(http.StatusOK, gradeResponse{
		Success: true,
		Message: "Assessment submitted successfully",
		Results: g,
	})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
