package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/patientwatch/patientwatch/pkg/types"
)

// fields lists every report field a rule condition may reference.
var fields = map[string]func(r *types.Report) float64{
	"high_risk_count":    func(r *types.Report) float64 { return float64(len(r.Analysis.HighRiskPatients)) },
	"fever_count":        func(r *types.Report) float64 { return float64(len(r.Analysis.FeverPatients)) },
	"data_quality_count": func(r *types.Report) float64 { return float64(len(r.Analysis.DataQualityIssues)) },
	"total_patients":     func(r *types.Report) float64 { return float64(r.Analysis.TotalPatients) },
	"average_risk_score": func(r *types.Report) float64 { return r.Analysis.AverageRiskScore },
	"missing_patients": func(r *types.Report) float64 {
		if d := r.Progress.ExpectedTotal - r.Progress.ActualTotal; d > 0 {
			return float64(d)
		}
		return 0
	},
	"failed_pages":   func(r *types.Report) float64 { return float64(len(r.Progress.FailedPages)) },
	"completion_pct": func(r *types.Report) float64 { return float64(r.Progress.CompletionPercentage) },
}

// condition is a parsed "field op value" expression.
type condition struct {
	field     string
	op        string
	threshold float64
}

// parseCondition parses expressions such as:
//
//	high_risk_count > 10
//	average_risk_score >= 3
//	failed_pages > 0
//	completion_pct < 100
func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", s)
	}
	field, op, rhs := parts[0], parts[1], parts[2]
	if _, ok := fields[field]; !ok {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", s, field)
	}
	switch op {
	case ">", ">=", "<", "<=", "==":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, op)
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: bad value: %w", s, err)
	}
	return condition{field: field, op: op, threshold: threshold}, nil
}

// eval returns whether the condition holds for r and the field value.
func (c condition) eval(r *types.Report) (bool, float64) {
	v := fields[c.field](r)
	return compareFloat(v, c.op, c.threshold), v
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
