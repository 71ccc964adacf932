package types

// Collection states, in the order a successful run moves through them.
const (
	StateIdle                   = "idle"
	StateFetchingFirstPage      = "fetching_first_page"
	StateFetchingRemainingPages = "fetching_remaining_pages"
	StateComplete               = "complete"
	StateFailed                 = "failed"
	StateCanceled               = "canceled"
)

// Progress is a point-in-time view of a collection run.
type Progress struct {
	RunID                    string `json:"run_id,omitempty"`
	State                    string `json:"state"`
	ExpectedTotal            int    `json:"expectedTotal"`
	ActualTotal              int    `json:"actualTotal"`
	TotalPages               int    `json:"totalPages"`
	SuccessfulPages          int    `json:"successfulPages"`
	FailedPages              []int  `json:"failedPages"`
	PendingPages             int    `json:"pendingPages"`
	IsComplete               bool   `json:"isComplete"`
	IsLoadingAdditionalPages bool   `json:"isLoadingAdditionalPages"`
	CompletionPercentage     int    `json:"completionPercentage"`
	Error                    string `json:"error,omitempty"`
}

// Done reports whether the run has reached a terminal state.
func (p Progress) Done() bool {
	switch p.State {
	case StateComplete, StateFailed, StateCanceled:
		return true
	}
	return false
}
