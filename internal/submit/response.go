package submit

// Response is the scoring endpoint's reply.
type Response struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Results Results `json:"results"`
}

// Results holds the grade for one submission.
type Results struct {
	Score             float64   `json:"score"`
	Percentage        float64   `json:"percentage"`
	Status            string    `json:"status"`
	Breakdown         Breakdown `json:"breakdown"`
	Feedback          Feedback  `json:"feedback"`
	AttemptNumber     int       `json:"attempt_number"`
	RemainingAttempts int       `json:"remaining_attempts"`
	IsPersonalBest    bool      `json:"is_personal_best"`
	CanResubmit       bool      `json:"can_resubmit"`
}

// Breakdown grades each alert list separately.
type Breakdown struct {
	HighRisk    ListScore `json:"high_risk"`
	Fever       ListScore `json:"fever"`
	DataQuality ListScore `json:"data_quality"`
}

// ListScore is the grade of one alert list.
type ListScore struct {
	Score     float64 `json:"score"`
	Max       float64 `json:"max"`
	Correct   int     `json:"correct"`
	Submitted int     `json:"submitted"`
	Matches   int     `json:"matches"`
}

// Feedback is free-form commentary from the grader.
type Feedback struct {
	Strengths []string `json:"strengths"`
	Issues    []string `json:"issues"`
}
