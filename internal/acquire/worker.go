// Package acquire runs one worker's assignment: download, extract and parse
// every unit in order, producing a partial table sorted by timestamp.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/archive"
	"github.com/ahmethakanbesel/histdata/internal/bar"
	"github.com/ahmethakanbesel/histdata/internal/merge"
	"github.com/ahmethakanbesel/histdata/internal/metrics"
	"github.com/ahmethakanbesel/histdata/internal/progress"
	"github.com/ahmethakanbesel/histdata/internal/scraper"
)

// Unit outcomes.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusDiscarded = "discarded"
)

// UnitError is the failure of one unit in one worker.
type UnitError struct {
	Worker int
	Unit   scraper.Unit
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("worker %d: %s %d: %v", e.Worker, e.Unit.Symbol, e.Unit.Year, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// UnitResult records what happened to one unit.
type UnitResult struct {
	Unit   scraper.Unit
	Worker int
	Status string
	Rows   int
	Err    error
}

// Result is the outcome of one assignment.
type Result struct {
	Worker int
	Rows   []bar.Bar
	Units  []UnitResult
}

// Worker processes one assignment through one session.
type Worker struct {
	id       int
	session  scraper.Session
	workDir  string
	location *time.Location
	weight   uint64
	events   chan<- progress.Event
	wait     WaitConfig
	logger   *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLocation sets the source time zone of the payload timestamps.
// Default: UTC.
func WithLocation(loc *time.Location) Option {
	return func(w *Worker) {
		if loc != nil {
			w.location = loc
		}
	}
}

// WithProgress sends two events of weight per unit on ch.
func WithProgress(ch chan<- progress.Event, weight uint64) Option {
	return func(w *Worker) {
		w.events = ch
		w.weight = weight
	}
}

// WithWait overrides the download completion poll.
func WithWait(cfg WaitConfig) Option {
	return func(w *Worker) { w.wait = cfg }
}

// WithLogger sets the parent logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker creates worker id using session. Units are extracted beneath
// workDir, which should not be shared with other workers.
func NewWorker(id int, session scraper.Session, workDir string, opts ...Option) *Worker {
	w := &Worker{
		id:       id,
		session:  session,
		workDir:  workDir,
		location: time.UTC,
		weight:   1,
		wait:     DefaultWaitConfig(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = w.logger.With("worker", id)
	return w
}

// Run processes the units of a in order. It stops at the first failing unit
// and reports that unit's *UnitError; the remaining units are marked skipped.
// Rows in the result are sorted by timestamp either way.
func (w *Worker) Run(ctx context.Context, a scraper.Assignment) (*Result, error) {
	res := &Result{Worker: w.id, Units: make([]UnitResult, 0, len(a))}
	if len(a) == 0 {
		return res, nil
	}

	logger := w.logger.With("symbol", a[0].Symbol)
	logger.Info("worker started", "years", a.Years())

	for i, u := range a {
		rows, err := w.runUnit(ctx, u)
		if err != nil {
			uerr := &UnitError{Worker: w.id, Unit: u, Err: err}
			logger.Error("unit failed", "year", u.Year, "error", err)
			metrics.UnitsTotal.WithLabelValues(StatusFailed).Inc()
			res.Units = append(res.Units, UnitResult{Unit: u, Worker: w.id, Status: StatusFailed, Err: err})
			for _, rest := range a[i+1:] {
				metrics.UnitsTotal.WithLabelValues(StatusSkipped).Inc()
				res.Units = append(res.Units, UnitResult{Unit: rest, Worker: w.id, Status: StatusSkipped})
			}
			return res, uerr
		}

		res.Rows = append(res.Rows, rows...)
		res.Units = append(res.Units, UnitResult{Unit: u, Worker: w.id, Status: StatusOK, Rows: len(rows)})
		metrics.UnitsTotal.WithLabelValues(StatusOK).Inc()
		metrics.RowsTotal.Add(float64(len(rows)))
		logger.Debug("unit done", "year", u.Year, "rows", len(rows))
	}

	if !merge.Sorted(res.Rows) {
		slices.SortStableFunc(res.Rows, bar.Compare)
	}
	logger.Info("worker finished", "rows", len(res.Rows))
	return res, nil
}

func (w *Worker) runUnit(ctx context.Context, u scraper.Unit) ([]bar.Bar, error) {
	path, err := w.session.Fetch(ctx, u.Symbol, u.Year)
	if err != nil {
		return nil, err
	}
	if _, err := WaitForFile(ctx, path, w.wait); err != nil {
		return nil, err
	}

	dir := filepath.Join(w.workDir, fmt.Sprintf("%s_%d", u.Symbol, u.Year))
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			w.logger.Warn("failed to remove working files", "dir", dir, "error", err)
		}
	}()

	files, err := archive.Unzip(path, dir)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	if err := w.emit(ctx); err != nil {
		return nil, err
	}

	data, err := dataFile(files)
	if err != nil {
		return nil, err
	}
	records, err := bar.ParseFile(data, w.location)
	if err != nil {
		return nil, err
	}

	rows := make([]bar.Bar, len(records))
	for i, r := range records {
		rows[i] = r.Canonical()
	}
	if !merge.Sorted(rows) {
		slices.SortStableFunc(rows, bar.Compare)
	}

	if err := w.emit(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (w *Worker) emit(ctx context.Context) error {
	if w.events == nil || w.weight == 0 {
		return nil
	}
	return progress.Send(ctx, w.events, w.weight, false)
}

// dataFile picks the bar file out of an extracted archive.
func dataFile(files []string) (string, error) {
	var found []string
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ".csv") {
			found = append(found, f)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", apperror.New(apperror.ParseError, "archive contains no data file")
	default:
		return "", apperror.New(apperror.ParseError, fmt.Sprintf("archive contains %d data files", len(found)))
	}
}

// IsUnitError reports whether err carries a *UnitError.
func IsUnitError(err error) bool {
	var ue *UnitError
	return errors.As(err, &ue)
}
