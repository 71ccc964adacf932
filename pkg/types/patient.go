package types

// Patient is one record from GET /patients.
//
// Age, BloodPressure and Temperature hold whatever the API sent: nil when the
// field is null or absent, float64 for JSON numbers, string for text. They
// are never validated at decode time.
type Patient struct {
	PatientID     string `json:"patient_id"`
	Name          string `json:"name"`
	Age           any    `json:"age"`
	Gender        string `json:"gender"`
	BloodPressure any    `json:"blood_pressure"`
	Temperature   any    `json:"temperature"`

	// Clinical metadata, carried through but not scored.
	VisitDate   string `json:"visit_date,omitempty"`
	Diagnosis   string `json:"diagnosis,omitempty"`
	Medications string `json:"medications,omitempty"`
}

// Pagination is the paging block returned alongside every page.
type Pagination struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"totalPages"`
	HasNext     bool `json:"hasNext"`
	HasPrevious bool `json:"hasPrevious"`
}

// Page is the decoded envelope of one GET /patients response.
type Page struct {
	Data       []Patient      `json:"data"`
	Pagination Pagination     `json:"pagination"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PageCount returns the number of pages the server reports, falling back to
// ceil(total/limit) when totalPages is missing.
func (p Pagination) PageCount() int {
	if p.TotalPages > 0 {
		return p.TotalPages
	}
	if p.Total > 0 && p.Limit > 0 {
		return (p.Total + p.Limit - 1) / p.Limit
	}
	return 0
}
