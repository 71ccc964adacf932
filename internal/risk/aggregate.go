package risk

import (
	"math"

	"github.com/patientwatch/patientwatch/pkg/types"
)

// Classify builds the three alert lists in one pass over patients.
// Lists keep input order and duplicate IDs are not collapsed.
func (c *Classifier) Classify(patients []types.Patient) types.AlertLists {
	out := types.NewAlertLists()
	for _, p := range patients {
		if c.TotalRiskScore(p) >= c.table.HighRiskThreshold {
			out.HighRiskPatients = append(out.HighRiskPatients, p.PatientID)
		}
		if HasFever(p) {
			out.FeverPatients = append(out.FeverPatients, p.PatientID)
		}
		if HasDataQualityIssue(p) {
			out.DataQualityIssues = append(out.DataQualityIssues, p.PatientID)
		}
	}
	return out
}

// Summarize returns totals, the average score rounded to two decimals and
// the low/medium/high distribution.
func (c *Classifier) Summarize(patients []types.Patient) types.Summary {
	s := types.Summary{TotalPatients: len(patients)}
	if len(patients) == 0 {
		return s
	}

	var total int
	for _, p := range patients {
		score := c.TotalRiskScore(p)
		total += score
		switch {
		case score <= 2:
			s.RiskDistribution.Low++
		case score == 3:
			s.RiskDistribution.Medium++
		default:
			s.RiskDistribution.High++
		}
	}
	avg := float64(total) / float64(len(patients))
	s.AverageRiskScore = math.Round(avg*100) / 100
	return s
}

// Analyze drops records without a patient_id, then classifies and
// summarizes the rest.
func (c *Classifier) Analyze(patients []types.Patient) types.Analysis {
	valid := make([]types.Patient, 0, len(patients))
	for _, p := range patients {
		if p.PatientID != "" {
			valid = append(valid, p)
		}
	}
	return types.Analysis{
		AlertLists: c.Classify(valid),
		Summary:    c.Summarize(valid),
	}
}

// Classify builds alert lists with the default table.
func Classify(patients []types.Patient) types.AlertLists { return Default.Classify(patients) }

// Summarize builds summary statistics with the default table.
func Summarize(patients []types.Patient) types.Summary { return Default.Summarize(patients) }
