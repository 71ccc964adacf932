package command

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/collector"
	"github.com/patientwatch/patientwatch/internal/config"
	"github.com/patientwatch/patientwatch/internal/logging"
	"github.com/patientwatch/patientwatch/internal/retry"
	"github.com/patientwatch/patientwatch/internal/risk"
)

const serviceName = "patientwatch"

var (
	configPath string
	logLevel   string

	cfg     *config.Config
	logger  *zap.Logger
	logAtom zap.AtomicLevel
)

var rootCmd = &cobra.Command{
	Use:           "patientwatch",
	Short:         "Collects patient records from a paginated API and flags risk alerts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, logAtom, err = logging.NewWithLevel(cfg.Log.Level, cfg.Log.Format, serviceName)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults and environment only when empty)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "v", "", "log level: debug, info, warn, error (overrides config)")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func classifier(c *config.Config) (*risk.Classifier, error) {
	t, err := risk.TableByName(c.Scoring.Table)
	if err != nil {
		return nil, err
	}
	return risk.New(t), nil
}

func collectorOptions(c *config.Config, obs collector.Observer) collector.Options {
	return collector.Options{
		PageSize:        c.Collector.PageSize,
		StaggerInterval: c.Collector.StaggerInterval,
		MaxConcurrent:   c.Collector.MaxConcurrentPageFetches,
		Policy:          retry.FromConfig(c.Collector.Retry),
		Observer:        obs,
	}
}
