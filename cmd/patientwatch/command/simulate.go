package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/patientwatch/patientwatch/internal/risk"
	"github.com/patientwatch/patientwatch/internal/simulator"
)

var simulateOpts struct {
	port           int
	patients       int
	seed           int64
	noise          float64
	apiKeyEnv      string
	rateLimitEvery int
	retryAfter     int
	errorRate      float64
	table          string
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve a simulated patients API",
	Long: "The simulate command serves a seeded, noisy patients dataset with the same pagination " +
		"envelope as the real API, injects rate limits and server errors, and grades submissions.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o := simulateOpts
		table, err := risk.TableByName(o.table)
		if err != nil {
			return err
		}
		sim := simulator.New(simulator.Options{
			Patients:       o.patients,
			Seed:           o.seed,
			Noise:          o.noise,
			APIKey:         os.Getenv(o.apiKeyEnv),
			RateLimitEvery: o.rateLimitEvery,
			RetryAfter:     o.retryAfter,
			ErrorRate:      o.errorRate,
			Table:          table,
		}, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return sim.ListenAndServe(ctx, fmt.Sprintf(":%d", o.port))
	},
}

func init() {
	f := simulateCmd.Flags()
	f.IntVarP(&simulateOpts.port, "port", "p", 8090, "listen port")
	f.IntVar(&simulateOpts.patients, "patients", simulator.DefaultPatients, "number of patients to generate")
	f.Int64Var(&simulateOpts.seed, "seed", 1, "dataset seed")
	f.Float64Var(&simulateOpts.noise, "noise", simulator.DefaultNoise, "share of records with garbled vitals (0-1)")
	f.StringVar(&simulateOpts.apiKeyEnv, "api-key-env", "PATIENTS_API_KEY", "environment variable holding the required x-api-key; unset disables auth")
	f.IntVar(&simulateOpts.rateLimitEvery, "rate-limit-every", 5, "answer every Nth request with 429 (0 disables)")
	f.IntVar(&simulateOpts.retryAfter, "retry-after", simulator.DefaultRetryAfter, "retry_after seconds sent with 429")
	f.Float64Var(&simulateOpts.errorRate, "error-rate", 0.05, "share of requests failed with 500/503")
	f.StringVar(&simulateOpts.table, "table", risk.AssessmentTable.Name, "scoring table used for grading: clinical or assessment")
	rootCmd.AddCommand(simulateCmd)
}
