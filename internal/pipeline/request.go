package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/instrument"
	"github.com/ahmethakanbesel/histdata/internal/persist"
	"github.com/ahmethakanbesel/histdata/internal/progress"
)

const dateFormat = "2006-01-02"

// Request asks for one symbol over an inclusive range of calendar days.
type Request struct {
	Symbol      string
	From        time.Time
	To          time.Time
	Format      persist.Format
	Destination string
	// Observer receives progress. Optional.
	Observer progress.Observer
}

// Window is the exclusive time window rows are trimmed to: the start of the
// first day and the last second of the final day.
type Window struct {
	From time.Time
	To   time.Time
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateFormat, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, apperror.Wrap(apperror.BadRequest, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s), err)
	}
	return t, nil
}

// EndOfPreviousYear is the default latest requestable instant: the source
// only publishes complete years.
func EndOfPreviousYear(now time.Time) time.Time {
	return time.Date(now.Year()-1, time.December, 31, 23, 59, 59, 0, time.UTC)
}

// Validate checks req against the catalog and returns the normalized
// request together with its trim window.
func Validate(req Request, catalog *instrument.Catalog, maxDate time.Time) (Request, Window, error) {
	inst, err := catalog.Lookup(req.Symbol)
	if err != nil {
		return req, Window{}, err
	}
	req.Symbol = inst.Symbol

	if req.From.IsZero() || req.To.IsZero() {
		return req, Window{}, apperror.New(apperror.BadRequest, "start and end dates are required")
	}
	if _, err := persist.ParseFormat(string(req.Format)); err != nil {
		return req, Window{}, err
	}
	if strings.TrimSpace(req.Destination) == "" {
		return req, Window{}, apperror.New(apperror.BadRequest, "destination is required")
	}

	from := dayStart(req.From)
	to := dayStart(req.To).Add(24*time.Hour - time.Second)

	if from.After(to) {
		return req, Window{}, apperror.New(apperror.BadRequest,
			fmt.Sprintf("start date %s is after end date %s", from.Format(dateFormat), req.To.Format(dateFormat)))
	}
	if from.Before(inst.Earliest()) {
		return req, Window{}, apperror.New(apperror.BadRequest,
			fmt.Sprintf("%s data starts on %s", inst.Symbol, inst.Earliest().Format(dateFormat)))
	}
	if !maxDate.IsZero() && to.After(maxDate) {
		return req, Window{}, apperror.New(apperror.BadRequest,
			fmt.Sprintf("end date must not be after %s", maxDate.Format(dateFormat)))
	}

	req.From, req.To = from, dayStart(req.To)
	return req, Window{From: from, To: to}, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
