package api

import (
	"fmt"
	"slices"
	"strings"

	"github.com/patientwatch/patientwatch/internal/risk"
	"github.com/patientwatch/patientwatch/pkg/types"
)

// DiagnosticHint is one human-readable finding about a patient.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	// Value is an optional number tied to the hint (score, reading).
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from an assessment.
// Hints are ordered critical first, then warnings, then info.
func computeDiagnostics(p types.Patient, a risk.Assessment) []DiagnosticHint {
	hints := []DiagnosticHint{}

	if a.HighRisk {
		v := float64(a.TotalScore)
		hints = append(hints, DiagnosticHint{
			Key:   "high_risk",
			Level: "critical",
			Title: "High risk",
			Detail: fmt.Sprintf(
				"Total risk score is %d (blood pressure %d, temperature %d, age %d). "+
					"Scores at or above the high-risk threshold put the patient on the high-risk list.",
				a.TotalScore, a.BloodPressurePoint, a.TemperaturePoint, a.AgePoint),
			Value: &v,
		})
	}

	switch a.BloodPressure {
	case risk.BPStage2:
		hints = append(hints, DiagnosticHint{
			Key:    "bp_stage_2",
			Level:  "critical",
			Title:  "Stage 2 hypertension",
			Detail: fmt.Sprintf("Reading %v is at or above 140 systolic or 90 diastolic.", p.BloodPressure),
		})
	case risk.BPStage1:
		hints = append(hints, DiagnosticHint{
			Key:    "bp_stage_1",
			Level:  "warning",
			Title:  "Stage 1 hypertension",
			Detail: fmt.Sprintf("Reading %v is in the 130-139 systolic or 80-89 diastolic range.", p.BloodPressure),
		})
	case risk.BPElevated:
		hints = append(hints, DiagnosticHint{
			Key:    "bp_elevated",
			Level:  "info",
			Title:  "Elevated blood pressure",
			Detail: fmt.Sprintf("Reading %v has systolic 120-129 with diastolic under 80.", p.BloodPressure),
		})
	}

	if a.Fever {
		level, title := "warning", "Fever"
		if a.Temperature == risk.TempHighFever {
			level, title = "critical", "High fever"
		}
		hints = append(hints, DiagnosticHint{
			Key:    "fever",
			Level:  level,
			Title:  title,
			Detail: fmt.Sprintf("Temperature %v is at or above 99.6°F, so the patient is on the fever list.", p.Temperature),
		})
	}

	if a.DataQualityIssue {
		hints = append(hints, DiagnosticHint{
			Key:   "data_quality",
			Level: "warning",
			Title: "Invalid or missing data",
			Detail: "These fields could not be parsed: " + strings.Join(a.InvalidFields, ", ") +
				". They score zero points, so the total may understate the real risk.",
		})
	}

	if a.Age == risk.AgeOver65 {
		hints = append(hints, DiagnosticHint{
			Key:    "age_over_65",
			Level:  "info",
			Title:  "Over 65",
			Detail: fmt.Sprintf("Age %v falls in the highest age band.", p.Age),
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "No findings",
			Detail: "All readings are valid and within normal ranges.",
		})
	}
	slices.SortStableFunc(hints, func(x, y DiagnosticHint) int {
		return levelRank[x.Level] - levelRank[y.Level]
	})
	return hints
}
