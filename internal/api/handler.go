package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/alerts"
	"github.com/patientwatch/patientwatch/internal/auth"
	"github.com/patientwatch/patientwatch/internal/config"
	"github.com/patientwatch/patientwatch/internal/fetcher"
	"github.com/patientwatch/patientwatch/internal/monitor"
	"github.com/patientwatch/patientwatch/internal/risk"
	"github.com/patientwatch/patientwatch/internal/store"
	"github.com/patientwatch/patientwatch/pkg/types"
)

// Source supplies collection state. *monitor.Monitor implements it.
type Source interface {
	Progress() types.Progress
	Latest() (*types.Report, bool)
	Health() monitor.Health
	Trigger() bool
}

// RuleSource supplies rule alerts. *alerts.Engine implements it.
type RuleSource interface {
	Active() []*alerts.Alert
	FiringCount() int
}

// HistorySource supplies retained reports. *store.Store implements it.
type HistorySource interface {
	List() []*store.Entry
}

// UpstreamCheck inspects the patients API certificate. It returns nil for
// plain-HTTP upstreams.
type UpstreamCheck func(ctx context.Context) *fetcher.CertStatus

// Options wires the optional collaborators.
type Options struct {
	Rules    RuleSource
	History  HistorySource
	Metrics  http.Handler
	Upstream UpstreamCheck
	Auth     config.ServerAuthConfig
}

// Handler serves the /api/v1 endpoints.
type Handler struct {
	src        Source
	classifier *risk.Classifier
	opts       Options
}

// New creates the echo instance with every route and middleware registered.
func New(src Source, c *risk.Classifier, opts Options, log *zap.Logger) *echo.Echo {
	if log == nil {
		log = zap.NewNop()
	}
	if c == nil {
		c = risk.Default
	}
	h := &Handler{src: src, classifier: c, opts: opts}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(log)
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(log))
	e.Use(auth.APIKey(opts.Auth.Mode, opts.Auth.EffectiveHeader(), opts.Auth.Key(),
		auth.SkipPaths("/api/v1/health", "/metrics")))

	h.Register(e.Group("/api/v1"))
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}
	return e
}

// Register adds the /api/v1 routes to g.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/health", h.health)
	g.GET("/progress", h.progress)
	g.GET("/analysis", h.analysis)
	g.GET("/alerts", h.alertLists)
	g.GET("/patients/:id", h.patient)
	g.GET("/reports", h.reports)
	g.GET("/rules", h.rules)
	g.GET("/upstream", h.upstream)
	g.POST("/refresh", h.refresh)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(c echo.Context) error {
	resp := HealthResponse{Health: h.src.Health()}
	if h.opts.Rules != nil {
		resp.FiringAlerts = h.opts.Rules.FiringCount()
	}
	return c.JSON(http.StatusOK, resp)
}

// progress returns GET /api/v1/progress.
func (h *Handler) progress(c echo.Context) error {
	return c.JSON(http.StatusOK, h.src.Progress())
}

// analysis returns GET /api/v1/analysis for the latest report.
func (h *Handler) analysis(c echo.Context) error {
	r, ok := h.src.Latest()
	if !ok {
		return jsonErr(c, http.StatusServiceUnavailable, "no collection has completed yet")
	}
	return c.JSON(http.StatusOK, AnalysisResponse{
		RunID:       r.RunID,
		CollectedAt: r.CollectedAt.UTC().Format(time.RFC3339),
		Table:       r.Table,
		Stale:       h.src.Health().Stale,
		Analysis:    r.Analysis,
		Progress:    r.Progress,
	})
}

// alertLists returns GET /api/v1/alerts, the submission-shaped lists.
func (h *Handler) alertLists(c echo.Context) error {
	r, ok := h.src.Latest()
	if !ok {
		return jsonErr(c, http.StatusServiceUnavailable, "no collection has completed yet")
	}
	return c.JSON(http.StatusOK, r.Analysis.AlertLists)
}

// patient returns GET /api/v1/patients/:id.
func (h *Handler) patient(c echo.Context) error {
	r, ok := h.src.Latest()
	if !ok {
		return jsonErr(c, http.StatusServiceUnavailable, "no collection has completed yet")
	}
	id := c.Param("id")
	for _, p := range r.Patients {
		if p.PatientID != id {
			continue
		}
		cls := h.classifier
		if t, err := risk.TableByName(r.Table); err == nil && t.Name != cls.Table().Name {
			cls = risk.New(t)
		}
		a := cls.Assess(p)
		return c.JSON(http.StatusOK, PatientResponse{
			Patient:     p,
			Assessment:  a,
			Diagnostics: computeDiagnostics(p, a),
		})
	}
	return jsonErr(c, http.StatusNotFound, "patient not found")
}

// reports returns GET /api/v1/reports.
func (h *Handler) reports(c echo.Context) error {
	out := make([]ReportSummary, 0)
	if h.opts.History != nil {
		for _, e := range h.opts.History.List() {
			out = append(out, toReportSummary(e.Report))
		}
	}
	return c.JSON(http.StatusOK, out)
}

// rules returns GET /api/v1/rules.
func (h *Handler) rules(c echo.Context) error {
	if h.opts.Rules == nil {
		return c.JSON(http.StatusOK, []*alerts.Alert{})
	}
	return c.JSON(http.StatusOK, h.opts.Rules.Active())
}

// upstream returns GET /api/v1/upstream.
func (h *Handler) upstream(c echo.Context) error {
	resp := UpstreamResponse{}
	if h.opts.Upstream != nil {
		resp.TLS = h.opts.Upstream(c.Request().Context())
	}
	return c.JSON(http.StatusOK, resp)
}

// refresh handles POST /api/v1/refresh.
func (h *Handler) refresh(c echo.Context) error {
	if !h.src.Trigger() {
		return jsonErr(c, http.StatusConflict, "a collection is already running or queued")
	}
	return c.JSON(http.StatusAccepted, RefreshResponse{Status: "accepted"})
}

// --- helpers ----------------------------------------------------------------

func jsonErr(c echo.Context, code int, msg string) error {
	return c.JSON(code, errorResponse{Error: msg})
}

// errorHandler renders echo errors (unknown route, wrong method) as JSON.
func errorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		} else {
			log.Error("api: handler error", zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = jsonErr(c, code, msg)
	}
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			log.Debug("api: request",
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_ip", c.RealIP()),
			)
			return nil
		}
	}
}

func toReportSummary(r *types.Report) ReportSummary {
	return ReportSummary{
		RunID:            r.RunID,
		CollectedAt:      r.CollectedAt.UTC().Format(time.RFC3339),
		Table:            r.Table,
		TotalPatients:    r.Analysis.TotalPatients,
		HighRisk:         len(r.Analysis.HighRiskPatients),
		Fever:            len(r.Analysis.FeverPatients),
		DataQuality:      len(r.Analysis.DataQualityIssues),
		IsComplete:       r.Progress.IsComplete,
		CompletionPct:    r.Progress.CompletionPercentage,
		FailedPagesCount: len(r.Progress.FailedPages),
	}
}
