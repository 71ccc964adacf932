// Package metrics instruments collection runs with Prometheus collectors
// registered on a private registry.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/patientwatch/patientwatch/internal/fetcher"
	"github.com/patientwatch/patientwatch/pkg/types"
)

const namespace = "patientwatch"

// Metrics holds every collector exported by patientwatch.
type Metrics struct {
	registry *prometheus.Registry

	pagesFetched  prometheus.Counter
	pageRecords   prometheus.Counter
	pagesSkipped  *prometheus.CounterVec
	retries       *prometheus.CounterVec
	fetchDuration prometheus.Histogram

	runs          *prometheus.CounterVec
	runDuration   prometheus.Gauge
	expected      prometheus.Gauge
	actual        prometheus.Gauge
	completion    prometheus.Gauge
	alertListSize *prometheus.GaugeVec
	averageRisk   prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages successfully retrieved from the patients API.",
		}),
		pageRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patients_received_total",
			Help:      "Patient records received across all pages.",
		}),
		pagesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_skipped_total",
			Help:      "Pages abandoned after their retry budget ran out, by last status code.",
		}, []string{"status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_retries_total",
			Help:      "Scheduled page retries, by status code.",
		}, []string{"status"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_fetch_duration_seconds",
			Help:      "Time to retrieve one page including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_total",
			Help:      "Finished collection runs, by terminal state.",
		}, []string{"state"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_collection_duration_seconds",
			Help:      "Wall time of the most recent collection run.",
		}),
		expected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collection_expected_patients",
			Help:      "Patient total reported by the first page of the latest run.",
		}),
		actual: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collection_actual_patients",
			Help:      "Patients retrieved by the latest run.",
		}),
		completion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collection_completion_percent",
			Help:      "Completion percentage of the latest run.",
		}),
		alertListSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_list_size",
			Help:      "Number of patient IDs in each alert list.",
		}, []string{"list"}),
		averageRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_risk_score",
			Help:      "Average total risk score of the latest analysis.",
		}),
	}

	m.registry.MustRegister(
		m.pagesFetched, m.pageRecords, m.pagesSkipped, m.retries, m.fetchDuration,
		m.runs, m.runDuration, m.expected, m.actual, m.completion,
		m.alertListSize, m.averageRisk,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Dump writes every metric family in text format to w.
func (m *Metrics) Dump(w io.Writer) error {
	mfs, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// PageFetched records a page that was retrieved.
func (m *Metrics) PageFetched(_ int, records int, elapsed time.Duration) {
	m.pagesFetched.Inc()
	m.pageRecords.Add(float64(records))
	m.fetchDuration.Observe(elapsed.Seconds())
}

// PageSkipped records a page abandoned after err.
func (m *Metrics) PageSkipped(_ int, err error) {
	m.pagesSkipped.WithLabelValues(statusLabel(err)).Inc()
}

// RetryScheduled records a retry caused by err.
func (m *Metrics) RetryScheduled(_ int, err error, _ time.Duration) {
	m.retries.WithLabelValues(statusLabel(err)).Inc()
}

// RunFinished records the terminal progress of a run.
func (m *Metrics) RunFinished(p types.Progress, elapsed time.Duration) {
	m.runs.WithLabelValues(p.State).Inc()
	m.runDuration.Set(elapsed.Seconds())
	m.expected.Set(float64(p.ExpectedTotal))
	m.actual.Set(float64(p.ActualTotal))
	m.completion.Set(float64(p.CompletionPercentage))
}

// ObserveAnalysis records the sizes of the alert lists and the average score.
func (m *Metrics) ObserveAnalysis(a types.Analysis) {
	m.alertListSize.WithLabelValues("high_risk").Set(float64(len(a.HighRiskPatients)))
	m.alertListSize.WithLabelValues("fever").Set(float64(len(a.FeverPatients)))
	m.alertListSize.WithLabelValues("data_quality").Set(float64(len(a.DataQualityIssues)))
	m.averageRisk.Set(a.AverageRiskScore)
}

func statusLabel(err error) string {
	code := fetcher.StatusCode(err)
	if code == 0 {
		return "network"
	}
	return strconv.Itoa(code)
}
