package risk

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patientwatch/patientwatch/pkg/types"
)

func patient(id string, age, bp, temp any) types.Patient {
	return types.Patient{PatientID: id, Name: "Test Patient", Age: age, BloodPressure: bp, Temperature: temp}
}

// --- blood pressure ---

func TestClassifyBloodPressure_Stages(t *testing.T) {
	tests := []struct {
		raw  string
		want BPCategory
	}{
		{"110/70", BPNormal},
		{"119/79", BPNormal},
		{"120/70", BPElevated},
		{"120/79", BPElevated},
		{"129/79", BPElevated},
		{"125/80", BPStage1}, // diastolic 80 overrides elevated
		{"130/70", BPStage1},
		{"139/85", BPStage1},
		{"115/80", BPStage1},
		{"110/89", BPStage1},
		{"130/85", BPStage1},
		{"140/70", BPStage2},
		{"150/85", BPStage2},
		{"120/90", BPStage2},
		{"115/90", BPStage2},
		{"160/95", BPStage2},
		{" 140 / 75 ", BPStage2},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyBloodPressure(tc.raw))
		})
	}
}

func TestClassifyBloodPressure_Malformed(t *testing.T) {
	for _, raw := range []any{
		nil, "", "150", "150-90", "150 90", "150/90/80",
		"/", "150/", "/90", " /90", "150/ ",
		"INVALID/90", "150/N/A", "INVALID/INVALID", "N/A", "120.5/80",
		120, 120.0, true,
	} {
		assert.Equal(t, BPInvalid, ClassifyBloodPressure(raw), "raw=%#v", raw)
		assert.Equal(t, RiskPoint(0), BloodPressureRisk(raw), "raw=%#v", raw)
		assert.True(t, HasDataQualityIssue(patient("P", 45, raw, 98.6)), "raw=%#v", raw)
	}
}

func TestBloodPressureRisk_StrictlyMonotonicAcrossBoundaries(t *testing.T) {
	readings := []string{"119/79", "120/79", "130/70", "140/70"}
	for i := 1; i < len(readings); i++ {
		prev, cur := BloodPressureRisk(readings[i-1]), BloodPressureRisk(readings[i])
		assert.Less(t, int(prev), int(cur), "%s (%d) should score below %s (%d)", readings[i-1], prev, readings[i], cur)
	}
}

func TestBloodPressureRisk_ClinicalPoints(t *testing.T) {
	assert.Equal(t, RiskPoint(0), BloodPressureRisk("110/70"))
	assert.Equal(t, RiskPoint(1), BloodPressureRisk("125/75"))
	assert.Equal(t, RiskPoint(2), BloodPressureRisk("125/80"))
	assert.Equal(t, RiskPoint(3), BloodPressureRisk("150/95"))
}

// --- temperature ---

func TestClassifyTemperature_Bands(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want TempCategory
	}{
		{"normal 98.6", 98.6, TempNormal},
		{"normal boundary 99.5", 99.5, TempNormal},
		{"normal string", "99.0", TempNormal},
		{"low fever boundary 99.6", 99.6, TempLowFever},
		{"low fever 100.0", 100.0, TempLowFever},
		{"low fever string 100.9", "100.9", TempLowFever},
		{"high fever boundary 101.0", 101.0, TempHighFever},
		{"high fever string", "103.0", TempHighFever},
		{"int input", 102, TempHighFever},
		{"json number", json.Number("99.6"), TempLowFever},
		{"gap above normal", 99.55, TempInvalid},
		{"gap below high fever", 100.95, TempInvalid},
		{"null", nil, TempInvalid},
		{"empty", "", TempInvalid},
		{"text", "TEMP_ERROR", TempInvalid},
		{"n/a", "N/A", TempInvalid},
		{"unit suffix", "98.6F", TempInvalid},
		{"nan string", "NaN", TempInvalid},
		{"infinity", math.Inf(1), TempInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyTemperature(tc.raw))
		})
	}
}

func TestTemperatureRisk_Points(t *testing.T) {
	assert.Equal(t, RiskPoint(0), TemperatureRisk(99.5))
	assert.Equal(t, RiskPoint(1), TemperatureRisk(99.6))
	assert.Equal(t, RiskPoint(2), TemperatureRisk(101.0))
	assert.Equal(t, RiskPoint(0), TemperatureRisk("invalid"))
}

func TestHasFever_IndependentOfRepresentation(t *testing.T) {
	tests := []struct {
		temp any
		want bool
	}{
		{99.6, true},
		{"99.6", true},
		{" 99.6 ", true},
		{101.0, true},
		{"100.5", true},
		{100.95, true}, // invalid band, still a fever
		{99.5, false},
		{"99.5", false},
		{98.6, false},
		{nil, false},
		{"INVALID", false},
	}
	for _, tc := range tests {
		got := HasFever(patient("P", 45, "120/80", tc.temp))
		assert.Equal(t, tc.want, got, "temp=%#v", tc.temp)
	}
}

// --- age ---

func TestClassifyAge_Bands(t *testing.T) {
	tests := []struct {
		raw  any
		want AgeCategory
	}{
		{1, AgeUnder40},
		{25, AgeUnder40},
		{39, AgeUnder40},
		{"35", AgeUnder40},
		{40, AgeMiddle},
		{"40", AgeMiddle},
		{50.0, AgeMiddle},
		{65, AgeMiddle},
		{"65", AgeMiddle},
		{66, AgeOver65},
		{"80", AgeOver65},
		{100, AgeOver65},
		{nil, AgeInvalid},
		{"", AgeInvalid},
		{"fifty-three", AgeInvalid},
		{"unknown", AgeInvalid},
		{"N/A", AgeInvalid},
		{false, AgeInvalid},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ClassifyAge(tc.raw), "raw=%#v", tc.raw)
	}
}

func TestAgeRisk_Points(t *testing.T) {
	assert.Equal(t, AgeRisk(39), RiskPoint(0))
	assert.Equal(t, AgeRisk(40), AgeRisk(65))
	assert.Equal(t, RiskPoint(1), AgeRisk(40))
	assert.Equal(t, RiskPoint(2), AgeRisk(66))
	assert.Equal(t, RiskPoint(0), AgeRisk(nil))
}

// --- totals and predicates ---

func TestTotalRiskScore(t *testing.T) {
	tests := []struct {
		name string
		p    types.Patient
		want int
	}{
		{"all dimensions elevated", patient("T1", 70, "150/95", 101.5), 7},
		{"mixed valid and invalid", patient("T2", 45, nil, 99.8), 2},
		{"all invalid", patient("T3", nil, "INVALID", "N/A"), 0},
		{"high risk no fever", patient("T4", 70, "150/95", 98.6), 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TotalRiskScore(tc.p))
		})
	}
}

func TestHasDataQualityIssue(t *testing.T) {
	assert.False(t, HasDataQualityIssue(patient("OK", 45, "120/80", 98.6)))
	assert.True(t, HasDataQualityIssue(patient("BP", 45, "150/", 98.6)))
	assert.True(t, HasDataQualityIssue(patient("AGE", nil, "120/80", 98.6)))
	assert.True(t, HasDataQualityIssue(patient("AGE2", "fifty-three", "120/80", 98.6)))
	assert.True(t, HasDataQualityIssue(patient("TEMP", 45, "120/80", "TEMP_ERROR")))
	// Parses but falls in a band gap: not a data quality problem.
	assert.False(t, HasDataQualityIssue(patient("GAP", 45, "120/80", 100.95)))
}

func TestAssess_Breakdown(t *testing.T) {
	a := Default.Assess(patient("DQ", nil, "INVALID/90", 98.6))

	assert.Equal(t, "DQ", a.PatientID)
	assert.Equal(t, BPInvalid, a.BloodPressure)
	assert.Equal(t, AgeInvalid, a.Age)
	assert.Equal(t, TempNormal, a.Temperature)
	assert.Equal(t, 0, a.TotalScore)
	assert.False(t, a.HighRisk)
	assert.False(t, a.Fever)
	assert.True(t, a.DataQualityIssue)
	assert.Equal(t, []string{FieldBloodPressure, FieldAge}, a.InvalidFields)

	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"blood_pressure":"invalid"`)
	assert.Contains(t, string(b), `"temperature":"normal"`)
}

func TestAssessmentTable_ChangesPointsNotValidity(t *testing.T) {
	c := New(AssessmentTable)
	p := patient("A", 30, "110/70", 98.6)

	assert.Equal(t, RiskPoint(1), c.BloodPressureRisk("110/70"))
	assert.Equal(t, RiskPoint(1), c.AgeRisk(30))
	assert.Equal(t, 2, c.TotalRiskScore(p))
	assert.Equal(t, 0, Default.TotalRiskScore(p))
	assert.False(t, HasDataQualityIssue(p))
}

func TestTableByName(t *testing.T) {
	tbl, err := TableByName("")
	require.NoError(t, err)
	assert.Equal(t, "clinical", tbl.Name)

	tbl, err = TableByName("assessment")
	require.NoError(t, err)
	assert.Equal(t, "assessment", tbl.Name)

	_, err = TableByName("nope")
	assert.Error(t, err)
}

func TestCategoryStrings(t *testing.T) {
	assert.Equal(t, "stage_2", BPStage2.String())
	assert.Equal(t, "low_fever", TempLowFever.String())
	assert.Equal(t, "over_65", AgeOver65.String())
	assert.Equal(t, "unknown(9)", BPCategory(9).String())
}

func TestAssessment_JSONRoundTrip(t *testing.T) {
	for _, p := range []types.Patient{
		patient("HIGH", 70, "150/95", 101.5),
		patient("OK", 30, "110/70", 98.6),
		patient("DQ", nil, "INVALID/90", "TEMP_ERROR"),
	} {
		want := Default.Assess(p)
		b, err := json.Marshal(want)
		require.NoError(t, err)

		var got Assessment
		require.NoError(t, json.Unmarshal(b, &got), string(b))
		assert.Equal(t, want, got, p.PatientID)
	}
}

func TestCategoryUnmarshalText(t *testing.T) {
	var bp BPCategory
	require.NoError(t, bp.UnmarshalText([]byte("stage_1")))
	assert.Equal(t, BPStage1, bp)

	var temp TempCategory
	require.NoError(t, temp.UnmarshalText([]byte("high_fever")))
	assert.Equal(t, TempHighFever, temp)

	var age AgeCategory
	require.NoError(t, age.UnmarshalText([]byte("40_65")))
	assert.Equal(t, AgeMiddle, age)

	assert.Error(t, bp.UnmarshalText([]byte("stage_3")))
	assert.Error(t, temp.UnmarshalText([]byte("unknown(9)")))
	assert.Error(t, age.UnmarshalText([]byte("")))

	var a Assessment
	assert.Error(t, json.Unmarshal([]byte(`{"blood_pressure":"bogus"}`), &a))
}
