package run

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one recorded acquisition request.
type Run struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	Format       string    `json:"format"`
	Destination  string    `json:"destination"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	RecordsCount int64     `json:"recordsCount"`
	Complete     bool      `json:"complete"`
	Key          string    `json:"key,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Units        []Unit    `json:"units,omitempty"`
}

// Unit is the recorded outcome of one year of a run.
type Unit struct {
	Year   int    `json:"year"`
	Worker int    `json:"worker"`
	Status string `json:"status"`
	Rows   int64  `json:"rows"`
	Error  string `json:"error,omitempty"`
}

// Active reports whether the run is queued or in progress.
func (r *Run) Active() bool {
	return r.Status == StatusPending || r.Status == StatusRunning
}
