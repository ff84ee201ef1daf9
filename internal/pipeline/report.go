package pipeline

import (
	"errors"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/acquire"
	"github.com/ahmethakanbesel/histdata/internal/persist"
	"github.com/ahmethakanbesel/histdata/internal/scraper"
)

// Run outcomes used for metrics and the run ledger.
const (
	RunCompleted  = "completed"
	RunIncomplete = "incomplete"
	RunFailed     = "failed"
)

// Report describes a finished run.
type Report struct {
	Symbol      string
	From        time.Time
	To          time.Time
	Format      persist.Format
	Key         string
	Rows        int
	Assignments []scraper.Assignment
	Units       []acquire.UnitResult
	Errors      []*acquire.UnitError
	// MissingYears lists the years of every failed worker. Their rows are
	// not in the output.
	MissingYears []int
	Complete     bool
	Duration     time.Duration
}

// Err joins every unit error, or returns nil.
func (r *Report) Err() error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}
