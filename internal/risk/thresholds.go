package risk

import "fmt"

// Blood pressure thresholds in mmHg. Ranges are inclusive.
const (
	SystolicElevatedMin = 120
	SystolicElevatedMax = 129
	SystolicStage1Min   = 130
	SystolicStage1Max   = 139
	SystolicStage2Min   = 140

	DiastolicStage1Min = 80
	DiastolicStage1Max = 89
	DiastolicStage2Min = 90
)

// Temperature thresholds in °F.
const (
	TempNormalMax    = 99.5
	TempFeverMin     = 99.6
	TempLowFeverMax  = 100.9
	TempHighFeverMin = 101.0
)

// Age thresholds in years. 40–65 is inclusive on both ends.
const (
	AgeMiddleMin = 40
	AgeMiddleMax = 65
)

// HighRiskThreshold is the total score at or above which a patient is high risk.
const HighRiskThreshold = 4

// RiskPoint is the integer weight one dimension contributes to the total.
type RiskPoint int

// BPCategory is the blood pressure stage.
type BPCategory int

const (
	BPInvalid BPCategory = iota
	BPNormal
	BPElevated
	BPStage1
	BPStage2
)

var bpNames = [...]string{"invalid", "normal", "elevated", "stage_1", "stage_2"}

func (c BPCategory) String() string { return categoryName(bpNames[:], int(c)) }

func (c BPCategory) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *BPCategory) UnmarshalText(text []byte) error {
	i, err := categoryIndex(bpNames[:], string(text))
	if err != nil {
		return err
	}
	*c = BPCategory(i)
	return nil
}

// TempCategory is the temperature band.
type TempCategory int

const (
	TempInvalid TempCategory = iota
	TempNormal
	TempLowFever
	TempHighFever
)

var tempNames = [...]string{"invalid", "normal", "low_fever", "high_fever"}

func (c TempCategory) String() string { return categoryName(tempNames[:], int(c)) }

func (c TempCategory) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *TempCategory) UnmarshalText(text []byte) error {
	i, err := categoryIndex(tempNames[:], string(text))
	if err != nil {
		return err
	}
	*c = TempCategory(i)
	return nil
}

// AgeCategory is the age band.
type AgeCategory int

const (
	AgeInvalid AgeCategory = iota
	AgeUnder40
	AgeMiddle
	AgeOver65
)

var ageNames = [...]string{"invalid", "under_40", "40_65", "over_65"}

func (c AgeCategory) String() string { return categoryName(ageNames[:], int(c)) }

func (c AgeCategory) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *AgeCategory) UnmarshalText(text []byte) error {
	i, err := categoryIndex(ageNames[:], string(text))
	if err != nil {
		return err
	}
	*c = AgeCategory(i)
	return nil
}

func categoryName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("unknown(%d)", i)
	}
	return names[i]
}

func categoryIndex(names []string, name string) (int, error) {
	for i, n := range names {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("risk: unknown category %q", name)
}

// Table maps every category to its points. Arrays are indexed by category.
type Table struct {
	Name              string
	BloodPressure     [5]RiskPoint
	Temperature       [4]RiskPoint
	Age               [4]RiskPoint
	HighRiskThreshold int
}

// ClinicalTable is the default table: normal readings and under-40 score zero,
// each stage above adds one point.
var ClinicalTable = Table{
	Name:              "clinical",
	BloodPressure:     [5]RiskPoint{BPInvalid: 0, BPNormal: 0, BPElevated: 1, BPStage1: 2, BPStage2: 3},
	Temperature:       [4]RiskPoint{TempInvalid: 0, TempNormal: 0, TempLowFever: 1, TempHighFever: 2},
	Age:               [4]RiskPoint{AgeInvalid: 0, AgeUnder40: 0, AgeMiddle: 1, AgeOver65: 2},
	HighRiskThreshold: HighRiskThreshold,
}

// AssessmentTable weights every valid blood pressure reading and every valid
// age at least one point.
var AssessmentTable = Table{
	Name:              "assessment",
	BloodPressure:     [5]RiskPoint{BPInvalid: 0, BPNormal: 1, BPElevated: 2, BPStage1: 3, BPStage2: 4},
	Temperature:       [4]RiskPoint{TempInvalid: 0, TempNormal: 0, TempLowFever: 1, TempHighFever: 2},
	Age:               [4]RiskPoint{AgeInvalid: 0, AgeUnder40: 1, AgeMiddle: 1, AgeOver65: 2},
	HighRiskThreshold: HighRiskThreshold,
}

// TableByName returns the named table. The empty name selects ClinicalTable.
func TableByName(name string) (Table, error) {
	switch name {
	case "", ClinicalTable.Name:
		return ClinicalTable, nil
	case AssessmentTable.Name:
		return AssessmentTable, nil
	default:
		return Table{}, fmt.Errorf("risk: unknown table %q", name)
	}
}
