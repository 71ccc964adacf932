package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/alerts"
	"github.com/patientwatch/patientwatch/internal/api"
	"github.com/patientwatch/patientwatch/internal/config"
	"github.com/patientwatch/patientwatch/internal/fetcher"
	"github.com/patientwatch/patientwatch/internal/logging"
	"github.com/patientwatch/patientwatch/internal/metrics"
	"github.com/patientwatch/patientwatch/internal/monitor"
	"github.com/patientwatch/patientwatch/internal/store"
	"github.com/patientwatch/patientwatch/internal/submit"
	"github.com/patientwatch/patientwatch/internal/ws"
)

// reportHistory is how many past reports the store retains for /api/v1/reports.
const reportHistory = 20

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor, dashboard API and websocket hub",
	Long: "The serve command keeps the analysis fresh by re-collecting whenever the cached report " +
		"goes stale, evaluates alert rules on every report and serves the dashboard API until " +
		"SIGINT or SIGTERM.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	logger.Info("patientwatch server starting",
		zap.String("config", configPath),
		zap.String("base_url", cfg.API.BaseURL),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.String("auth_mode", cfg.Server.Auth.Mode),
		zap.Duration("stale_duration", cfg.Collector.StaleDuration),
		zap.String("scoring_table", cfg.Scoring.Table),
	)

	cls, err := classifier(cfg)
	if err != nil {
		return err
	}
	m := metrics.New()

	st, err := store.New(cfg.Collector.StaleDuration, reportHistory, logger)
	if err != nil {
		return err
	}
	go st.Run(ctx)

	engine, err := alerts.New(cfg.Alerts, logger)
	if err != nil {
		return err
	}

	mon := monitor.New(fetcher.New(cfg.API, logger), cls, st, monitor.Options{
		Collector: collectorOptions(cfg, m),
		Analysis:  m,
	}, logger)
	mon.AddListener(engine)
	if cfg.Submit.Enabled {
		mon.AddListener(submit.New(cfg.API, cfg.Submit, logger))
	}
	go mon.Run(ctx)

	hub := ws.New(mon, cfg.Server.BroadcastInterval, logger)
	go hub.Run(ctx)

	e := api.New(mon, cls, api.Options{
		Rules:   engine,
		History: st,
		Metrics: m.Handler(),
		Upstream: func(ctx context.Context) *fetcher.CertStatus {
			return fetcher.CheckCertificate(ctx, cfg.API)
		},
		Auth: cfg.Server.Auth,
	}, logger)
	e.GET("/ws/stream", echo.WrapHandler(hub))

	if configPath != "" {
		go func() {
			if err := config.Watch(ctx, configPath, logger, reloadConfig(engine)); err != nil {
				logger.Error("config watch stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
		logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("patientwatch server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	engine.Wait()
	return nil
}

// reloadConfig applies the settings that can change without a restart:
// log level (unless pinned by --log-level) and alert rules and webhooks.
func reloadConfig(engine *alerts.Engine) func(*config.Config) {
	return func(next *config.Config) {
		if logLevel == "" {
			if lvl, err := logging.ParseLevel(next.Log.Level); err == nil {
				logAtom.SetLevel(lvl)
			}
		}
		if err := engine.SetConfig(next.Alerts); err != nil {
			logger.Error("config: alert rules rejected, keeping previous rules", zap.Error(err))
			return
		}
		logger.Info("config: alert rules reloaded", zap.Int("rules", len(next.Alerts.Rules)))
	}
}
