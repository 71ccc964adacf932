package risk

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/patientwatch/patientwatch/pkg/types"
)

// Field names reported in Assessment.InvalidFields.
const (
	FieldAge           = "age"
	FieldBloodPressure = "blood_pressure"
	FieldTemperature   = "temperature"
)

// Classifier scores patients against one point table.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	table Table
}

// New returns a Classifier using table t.
func New(t Table) *Classifier {
	return &Classifier{table: t}
}

// Default scores with ClinicalTable.
var Default = New(ClinicalTable)

// Table returns the point table in use.
func (c *Classifier) Table() Table { return c.table }

// BloodPressureRisk returns the points for a raw "S/D" reading.
func (c *Classifier) BloodPressureRisk(raw any) RiskPoint {
	return c.table.BloodPressure[ClassifyBloodPressure(raw)]
}

// TemperatureRisk returns the points for a raw temperature in °F.
func (c *Classifier) TemperatureRisk(raw any) RiskPoint {
	return c.table.Temperature[ClassifyTemperature(raw)]
}

// AgeRisk returns the points for a raw age in years.
func (c *Classifier) AgeRisk(raw any) RiskPoint {
	return c.table.Age[ClassifyAge(raw)]
}

// TotalRiskScore sums the three dimension points for p.
func (c *Classifier) TotalRiskScore(p types.Patient) int {
	return int(c.BloodPressureRisk(p.BloodPressure) +
		c.TemperatureRisk(p.Temperature) +
		c.AgeRisk(p.Age))
}

// IsHighRisk reports whether p's total score reaches the table's cut-off.
func (c *Classifier) IsHighRisk(p types.Patient) bool {
	return c.TotalRiskScore(p) >= c.table.HighRiskThreshold
}

// Assessment is the full per-patient breakdown.
type Assessment struct {
	PatientID          string       `json:"patient_id"`
	BloodPressure      BPCategory   `json:"blood_pressure"`
	BloodPressurePoint RiskPoint    `json:"blood_pressure_points"`
	Temperature        TempCategory `json:"temperature"`
	TemperaturePoint   RiskPoint    `json:"temperature_points"`
	Age                AgeCategory  `json:"age"`
	AgePoint           RiskPoint    `json:"age_points"`
	TotalScore         int          `json:"total_score"`
	HighRisk           bool         `json:"high_risk"`
	Fever              bool         `json:"fever"`
	DataQualityIssue   bool         `json:"data_quality_issue"`
	InvalidFields      []string     `json:"invalid_fields"`
}

// Assess returns the breakdown for p.
func (c *Classifier) Assess(p types.Patient) Assessment {
	bp := ClassifyBloodPressure(p.BloodPressure)
	temp := ClassifyTemperature(p.Temperature)
	age := ClassifyAge(p.Age)

	a := Assessment{
		PatientID:          p.PatientID,
		BloodPressure:      bp,
		BloodPressurePoint: c.table.BloodPressure[bp],
		Temperature:        temp,
		TemperaturePoint:   c.table.Temperature[temp],
		Age:                age,
		AgePoint:           c.table.Age[age],
		Fever:              HasFever(p),
		InvalidFields:      invalidFields(p),
	}
	a.TotalScore = int(a.BloodPressurePoint + a.TemperaturePoint + a.AgePoint)
	a.HighRisk = a.TotalScore >= c.table.HighRiskThreshold
	a.DataQualityIssue = len(a.InvalidFields) > 0
	return a
}

// BloodPressureRisk scores raw with the default table.
func BloodPressureRisk(raw any) RiskPoint { return Default.BloodPressureRisk(raw) }

// TemperatureRisk scores raw with the default table.
func TemperatureRisk(raw any) RiskPoint { return Default.TemperatureRisk(raw) }

// AgeRisk scores raw with the default table.
func AgeRisk(raw any) RiskPoint { return Default.AgeRisk(raw) }

// TotalRiskScore scores p with the default table.
func TotalRiskScore(p types.Patient) int { return Default.TotalRiskScore(p) }

// ClassifyBloodPressure parses "systolic/diastolic" and returns its stage.
//
// The value must be a string with exactly two non-empty, base-10 integer
// parts. When systolic and diastolic disagree the more severe stage wins;
// Elevated requires diastolic strictly below 80.
func ClassifyBloodPressure(raw any) BPCategory {
	sys, dia, ok := parseBloodPressure(raw)
	if !ok {
		return BPInvalid
	}
	switch {
	case sys >= SystolicStage2Min || dia >= DiastolicStage2Min:
		return BPStage2
	case sys >= SystolicStage1Min || dia >= DiastolicStage1Min:
		return BPStage1
	case sys >= SystolicElevatedMin:
		return BPElevated
	default:
		return BPNormal
	}
}

// ClassifyTemperature returns the band for a numeric or numeric-string °F
// value. Readings in the gaps between bands (e.g. 100.95) are Invalid.
func ClassifyTemperature(raw any) TempCategory {
	v, ok := parseNumber(raw)
	if !ok {
		return TempInvalid
	}
	switch {
	case v <= TempNormalMax:
		return TempNormal
	case v >= TempHighFeverMin:
		return TempHighFever
	case v >= TempFeverMin && v <= TempLowFeverMax:
		return TempLowFever
	default:
		return TempInvalid
	}
}

// ClassifyAge returns the band for a numeric or numeric-string age.
func ClassifyAge(raw any) AgeCategory {
	v, ok := parseNumber(raw)
	if !ok {
		return AgeInvalid
	}
	switch {
	case v < AgeMiddleMin:
		return AgeUnder40
	case v <= AgeMiddleMax:
		return AgeMiddle
	default:
		return AgeOver65
	}
}

// HasFever reports whether p's temperature parses and is at least 99.6°F.
func HasFever(p types.Patient) bool {
	v, ok := parseNumber(p.Temperature)
	return ok && v >= TempFeverMin
}

// HasDataQualityIssue reports whether any scored field is missing or fails
// to parse. Values that parse are never flagged, whatever their category.
func HasDataQualityIssue(p types.Patient) bool {
	return len(invalidFields(p)) > 0
}

func invalidFields(p types.Patient) []string {
	out := []string{}
	if _, _, ok := parseBloodPressure(p.BloodPressure); !ok {
		out = append(out, FieldBloodPressure)
	}
	if _, ok := parseNumber(p.Temperature); !ok {
		out = append(out, FieldTemperature)
	}
	if _, ok := parseNumber(p.Age); !ok {
		out = append(out, FieldAge)
	}
	return out
}

func parseBloodPressure(raw any) (sys, dia int, ok bool) {
	s, isString := raw.(string)
	if !isString {
		return 0, 0, false
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	sysStr := strings.TrimSpace(parts[0])
	diaStr := strings.TrimSpace(parts[1])
	if sysStr == "" || diaStr == "" {
		return 0, 0, false
	}
	sys, err := strconv.Atoi(sysStr)
	if err != nil {
		return 0, 0, false
	}
	dia, err = strconv.Atoi(diaStr)
	if err != nil {
		return 0, 0, false
	}
	return sys, dia, true
}

// parseNumber accepts JSON numbers, Go numeric types and decimal strings.
// NaN and ±Inf are rejected.
func parseNumber(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
