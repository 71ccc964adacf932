package simulator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/jaswdr/faker"

	"github.com/patientwatch/patientwatch/pkg/types"
)

var (
	garbledBloodPressure = []string{"INVALID", "150/", "/90", "N/A", ""}
	garbledTemperature   = []string{"TEMP_ERROR", "invalid", ""}
	garbledAge           = []string{"unknown", "fifty-three", ""}

	diagnoses   = []string{"Hypertension", "Type 2 Diabetes", "Asthma", "COPD", "Migraine", "Healthy", "Arthritis"}
	medications = []string{"Lisinopril 10mg", "Metformin 500mg", "Albuterol inhaler", "Atorvastatin 20mg", "None", "Ibuprofen 400mg"}
)

// Generate returns n patients derived from seed. noise is the share of
// records, in [0,1], that get at least one missing or garbled vital.
func Generate(n int, seed int64, noise float64) []types.Patient {
	fk := faker.NewWithSeed(rand.NewSource(seed))
	visitStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	visitEnd := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	out := make([]types.Patient, n)
	for i := range out {
		p := types.Patient{
			PatientID:     fmt.Sprintf("DEMO%03d", i+1),
			Name:          fk.Person().Name(),
			Age:           fk.IntBetween(18, 92),
			Gender:        fk.RandomStringElement([]string{"M", "F"}),
			BloodPressure: fmt.Sprintf("%d/%d", fk.IntBetween(100, 175), fk.IntBetween(60, 105)),
			Temperature:   float64(fk.IntBetween(970, 1035)) / 10,
			VisitDate:     fk.Time().TimeBetween(visitStart, visitEnd).Format("2006-01-02"),
			Diagnosis:     fk.RandomStringElement(diagnoses),
			Medications:   fk.RandomStringElement(medications),
		}
		if float64(fk.IntBetween(0, 999))/1000 < noise {
			garble(fk, &p)
		}
		out[i] = p
	}
	return out
}

// garble corrupts one or more vitals of p. A nil value is encoded as JSON
// null; the empty string stands in for a missing reading.
func garble(fk faker.Faker, p *types.Patient) {
	switch fk.IntBetween(0, 3) {
	case 0:
		p.BloodPressure = pickOrNil(fk, garbledBloodPressure)
	case 1:
		p.Temperature = pickOrNil(fk, garbledTemperature)
	case 2:
		p.Age = pickOrNil(fk, garbledAge)
	default:
		p.BloodPressure = pickOrNil(fk, garbledBloodPressure)
		p.Age = pickOrNil(fk, garbledAge)
	}
}

func pickOrNil(fk faker.Faker, values []string) any {
	if fk.IntBetween(0, 4) == 0 {
		return nil
	}
	return fk.RandomStringElement(values)
}
