package simulator

import (
	"fmt"
	"math"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/patientwatch/patientwatch/pkg/types"
)

// Points available per list.
const (
	highRiskMax    = 50
	feverMax       = 25
	dataQualityMax = 25
	passPercentage = 80
)

type gradeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Results grades `json:"results"`
}

type grades struct {
	Score             float64              `json:"score"`
	Percentage        float64              `json:"percentage"`
	Status            string               `json:"status"`
	Breakdown         map[string]listGrade `json:"breakdown"`
	Feedback          feedback             `json:"feedback"`
	AttemptNumber     int                  `json:"attempt_number"`
	RemainingAttempts int                  `json:"remaining_attempts"`
	IsPersonalBest    bool                 `json:"is_personal_best"`
	CanResubmit       bool                 `json:"can_resubmit"`
}

type listGrade struct {
	Score     float64 `json:"score"`
	Max       float64 `json:"max"`
	Correct   int     `json:"correct"`
	Submitted int     `json:"submitted"`
	Matches   int     `json:"matches"`
}

type feedback struct {
	Strengths []string `json:"strengths"`
	Issues    []string `json:"issues"`
}

// grade compares got against want. Each list scores
// points * matches / max(correct, submitted); misses and false positives
// both lower the score.
func grade(want, got types.AlertLists) grades {
	g := grades{
		Breakdown: map[string]listGrade{},
		Feedback:  feedback{Strengths: []string{}, Issues: []string{}},
	}
	lists := []struct {
		key, label string
		points     float64
		want, got  []string
	}{
		{"high_risk", "high-risk patients", highRiskMax, want.HighRiskPatients, got.HighRiskPatients},
		{"fever", "fever patients", feverMax, want.FeverPatients, got.FeverPatients},
		{"data_quality", "data quality issues", dataQualityMax, want.DataQualityIssues, got.DataQualityIssues},
	}

	for _, l := range lists {
		lg := gradeList(l.want, l.got, l.points)
		g.Breakdown[l.key] = lg
		g.Score += lg.Score

		switch {
		case lg.Matches == lg.Correct && lg.Submitted == lg.Correct:
			g.Feedback.Strengths = append(g.Feedback.Strengths, fmt.Sprintf("All %s identified", l.label))
		default:
			if missed := lg.Correct - lg.Matches; missed > 0 {
				g.Feedback.Issues = append(g.Feedback.Issues, fmt.Sprintf("Missed %d %s", missed, l.label))
			}
			if extra := lg.Submitted - lg.Matches; extra > 0 {
				g.Feedback.Issues = append(g.Feedback.Issues, fmt.Sprintf("%d incorrect %s", extra, l.label))
			}
		}
	}

	g.Score = round2(g.Score)
	g.Percentage = math.Round(g.Score / (highRiskMax + feverMax + dataQualityMax) * 100)
	g.Status = "FAIL"
	if g.Percentage >= passPercentage {
		g.Status = "PASS"
	}
	return g
}

func gradeList(want, got []string, points float64) listGrade {
	wantSet := mapset.NewThreadUnsafeSet(want...)
	gotSet := mapset.NewThreadUnsafeSet(got...)
	matches := wantSet.Intersect(gotSet).Cardinality()

	lg := listGrade{
		Max:       points,
		Correct:   wantSet.Cardinality(),
		Submitted: gotSet.Cardinality(),
		Matches:   matches,
	}
	denom := lg.Correct
	if lg.Submitted > denom {
		denom = lg.Submitted
	}
	if denom == 0 {
		lg.Score = points
		return lg
	}
	lg.Score = round2(points * float64(matches) / float64(denom))
	return lg
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
