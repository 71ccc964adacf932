package api

import (
	"github.com/patientwatch/patientwatch/internal/fetcher"
	"github.com/patientwatch/patientwatch/internal/monitor"
	"github.com/patientwatch/patientwatch/internal/risk"
	"github.com/patientwatch/patientwatch/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	monitor.Health
	FiringAlerts int `json:"firing_alerts"`
}

// AnalysisResponse is the payload for GET /api/v1/analysis.
type AnalysisResponse struct {
	RunID       string         `json:"run_id"`
	CollectedAt string         `json:"collected_at"` // RFC3339
	Table       string         `json:"table"`
	Stale       bool           `json:"stale"`
	Analysis    types.Analysis `json:"analysis"`
	Progress    types.Progress `json:"progress"`
}

// PatientResponse is the payload for GET /api/v1/patients/:id.
type PatientResponse struct {
	Patient     types.Patient    `json:"patient"`
	Assessment  risk.Assessment  `json:"assessment"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// ReportSummary is one entry in GET /api/v1/reports.
type ReportSummary struct {
	RunID            string `json:"run_id"`
	CollectedAt      string `json:"collected_at"` // RFC3339
	Table            string `json:"table"`
	TotalPatients    int    `json:"total_patients"`
	HighRisk         int    `json:"high_risk"`
	Fever            int    `json:"fever"`
	DataQuality      int    `json:"data_quality"`
	IsComplete       bool   `json:"is_complete"`
	CompletionPct    int    `json:"completion_pct"`
	FailedPagesCount int    `json:"failed_pages"`
}

// UpstreamResponse is the payload for GET /api/v1/upstream. TLS is null
// when the patients API is reached over plain HTTP.
type UpstreamResponse struct {
	TLS *fetcher.CertStatus `json:"tls"`
}

// RefreshResponse is the payload for POST /api/v1/refresh.
type RefreshResponse struct {
	Status string `json:"status"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
