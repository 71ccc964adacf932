package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/collector"
	"github.com/patientwatch/patientwatch/internal/fetcher"
	"github.com/patientwatch/patientwatch/internal/metrics"
	"github.com/patientwatch/patientwatch/internal/submit"
	"github.com/patientwatch/patientwatch/pkg/types"
)

var (
	collectSubmit  bool
	collectMetrics bool
	collectOutput  string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one collection and print the analysis",
	Long: "The collect command fetches every page of patients once, classifies them and prints " +
		"the alert lists and summary. It exits non-zero when the first page cannot be fetched.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if collectOutput != "json" && collectOutput != "text" {
			return fmt.Errorf("--output must be json or text, got %q", collectOutput)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runCollect(ctx, cmd.OutOrStdout())
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectSubmit, "submit", false, "submit the alert lists to the scoring endpoint")
	collectCmd.Flags().BoolVar(&collectMetrics, "metrics", false, "print Prometheus metrics after the report")
	collectCmd.Flags().StringVarP(&collectOutput, "output", "o", "text", "output format: json or text")
	rootCmd.AddCommand(collectCmd)
}

type collectOutputDoc struct {
	*types.Report
	Submission *submit.Response `json:"submission,omitempty"`
}

func runCollect(ctx context.Context, out io.Writer) error {
	cls, err := classifier(cfg)
	if err != nil {
		return err
	}
	m := metrics.New()

	c := collector.New(fetcher.New(cfg.API, logger), collectorOptions(cfg, m), logger)
	res, err := c.Run(ctx)
	if err != nil {
		return err
	}

	report := &types.Report{
		RunID:       res.RunID,
		CollectedAt: res.FinishedAt.UTC(),
		Table:       cls.Table().Name,
		Patients:    res.Patients,
		Analysis:    cls.Analyze(res.Patients),
		Progress:    res.Progress,
	}
	m.ObserveAnalysis(report.Analysis)

	doc := collectOutputDoc{Report: report}
	if collectSubmit {
		s := submit.New(cfg.API, cfg.Submit, logger)
		resp, err := s.Submit(ctx, report.Analysis.AlertLists)
		if err != nil {
			logger.Error("collect: submission failed", zap.Error(err))
			return fmt.Errorf("submit: %w", err)
		}
		doc.Submission = resp
	}

	if collectOutput == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return err
		}
	} else {
		writeText(out, doc)
	}

	if collectMetrics {
		return m.Dump(out)
	}
	return nil
}

func writeText(w io.Writer, doc collectOutputDoc) {
	r, p, a := doc.Report, doc.Report.Progress, doc.Report.Analysis

	fmt.Fprintf(w, "Run %s (%s) at %s\n", r.RunID, p.State, r.CollectedAt.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintf(w, "  patients: %d/%d (%d%%)  pages: %d/%d\n",
		p.ActualTotal, p.ExpectedTotal, p.CompletionPercentage, p.SuccessfulPages, p.TotalPages)
	if len(p.FailedPages) > 0 {
		fmt.Fprintf(w, "  failed pages: %s\n", joinInts(p.FailedPages))
	}
	fmt.Fprintf(w, "  scoring table: %s\n\n", r.Table)

	fmt.Fprintf(w, "Summary: %d patients, average risk %.2f, low %d / medium %d / high %d\n\n",
		a.TotalPatients, a.AverageRiskScore,
		a.RiskDistribution.Low, a.RiskDistribution.Medium, a.RiskDistribution.High)

	writeList(w, "High risk", a.HighRiskPatients)
	writeList(w, "Fever", a.FeverPatients)
	writeList(w, "Data quality issues", a.DataQualityIssues)

	if s := doc.Submission; s != nil {
		res := s.Results
		fmt.Fprintf(w, "\nSubmission: %s  score %.2f (%.0f%%)  attempt %d, %d remaining\n",
			res.Status, res.Score, res.Percentage, res.AttemptNumber, res.RemainingAttempts)
		for _, st := range res.Feedback.Strengths {
			fmt.Fprintf(w, "  + %s\n", st)
		}
		for _, is := range res.Feedback.Issues {
			fmt.Fprintf(w, "  - %s\n", is)
		}
	}
}

func writeList(w io.Writer, title string, ids []string) {
	fmt.Fprintf(w, "%s (%d):\n", title, len(ids))
	if len(ids) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	fmt.Fprintf(w, "  %s\n", strings.Join(ids, ", "))
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ", ")
}
