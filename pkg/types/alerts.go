package types

import "time"

// AlertLists is the payload accepted by the scoring endpoint. Each list keeps
// the order in which patients were seen; an ID can appear in several lists.
type AlertLists struct {
	HighRiskPatients  []string `json:"high_risk_patients"`
	FeverPatients     []string `json:"fever_patients"`
	DataQualityIssues []string `json:"data_quality_issues"`
}

// NewAlertLists returns AlertLists with empty, non-nil lists so they encode
// as [] rather than null.
func NewAlertLists() AlertLists {
	return AlertLists{
		HighRiskPatients:  []string{},
		FeverPatients:     []string{},
		DataQualityIssues: []string{},
	}
}

// RiskDistribution buckets total risk scores: low ≤2, medium ==3, high ≥4.
type RiskDistribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Summary holds the dashboard statistics for a patient collection.
type Summary struct {
	TotalPatients    int              `json:"totalPatients"`
	AverageRiskScore float64          `json:"averageRiskScore"`
	RiskDistribution RiskDistribution `json:"riskDistribution"`
}

// Analysis combines the alert lists with the summary statistics.
type Analysis struct {
	AlertLists
	Summary
}

// Report is the result of one complete collection run plus its analysis.
type Report struct {
	RunID       string    `json:"run_id"`
	CollectedAt time.Time `json:"collected_at"`
	Table       string    `json:"table"`
	Patients    []Patient `json:"-"`
	Analysis    Analysis  `json:"analysis"`
	Progress    Progress  `json:"progress"`
}
