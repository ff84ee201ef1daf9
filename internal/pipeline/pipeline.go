// Package pipeline runs one acquisition request end to end: split the year
// range across workers, lease each worker a port and a session, merge and
// trim the partial tables and persist the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/histdata/internal/acquire"
	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/bar"
	"github.com/ahmethakanbesel/histdata/internal/instrument"
	"github.com/ahmethakanbesel/histdata/internal/merge"
	"github.com/ahmethakanbesel/histdata/internal/metrics"
	"github.com/ahmethakanbesel/histdata/internal/persist"
	"github.com/ahmethakanbesel/histdata/internal/portalloc"
	"github.com/ahmethakanbesel/histdata/internal/progress"
	"github.com/ahmethakanbesel/histdata/internal/scraper"
)

// Policy decides what a worker failure does to the run.
type Policy string

const (
	// PolicyPartial persists whatever the healthy workers produced and
	// reports the run as incomplete.
	PolicyPartial Policy = "partial"
	// PolicyStrict cancels the other workers on the first failure and
	// persists nothing.
	PolicyStrict Policy = "strict"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyPartial, PolicyStrict:
		return p, nil
	default:
		return "", apperror.New(apperror.ConfigError, fmt.Sprintf("unknown failure policy %q, expected partial or strict", s))
	}
}

// Pipeline is safe for concurrent Runs as long as their destinations and
// download directories differ.
type Pipeline struct {
	opener      scraper.Opener
	catalog     *instrument.Catalog
	allocator   *portalloc.Allocator
	workers     int
	portLow     int
	portHigh    int
	downloadDir string
	location    *time.Location
	weight      uint64
	wait        acquire.WaitConfig
	policy      Policy
	maxDate     time.Time
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCatalog sets the instrument table. Default: instrument.Default().
func WithCatalog(c *instrument.Catalog) Option {
	return func(p *Pipeline) { p.catalog = c }
}

// WithAllocator shares a port allocator between pipelines.
func WithAllocator(a *portalloc.Allocator) Option {
	return func(p *Pipeline) { p.allocator = a }
}

// WithWorkers sets the number of concurrent workers. Default: 4.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// WithPortRange sets the half-open range ports are leased from.
// Default: [9515, 9615).
func WithPortRange(low, high int) Option {
	return func(p *Pipeline) { p.portLow, p.portHigh = low, high }
}

// WithDownloadDir sets the root of the per-worker download directories.
// Default: a directory under os.TempDir().
func WithDownloadDir(dir string) Option {
	return func(p *Pipeline) { p.downloadDir = dir }
}

// WithLocation sets the source time zone. Default: UTC.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) { p.location = loc }
}

// WithWeight sets the progress weight of one phase of one unit. Default: 1.
func WithWeight(w uint64) Option {
	return func(p *Pipeline) { p.weight = w }
}

// WithWait sets the download completion poll.
func WithWait(cfg acquire.WaitConfig) Option {
	return func(p *Pipeline) { p.wait = cfg }
}

// WithPolicy sets the failure policy. Default: PolicyPartial.
func WithPolicy(pol Policy) Option {
	return func(p *Pipeline) { p.policy = pol }
}

// WithMaxDate sets the latest requestable instant. Default: the end of the
// previous calendar year.
func WithMaxDate(t time.Time) Option {
	return func(p *Pipeline) { p.maxDate = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline whose workers open sessions through opener.
func New(opener scraper.Opener, opts ...Option) *Pipeline {
	p := &Pipeline{
		opener:      opener,
		workers:     4,
		portLow:     9515,
		portHigh:    9615,
		downloadDir: filepath.Join(os.TempDir(), "histdata"),
		location:    time.UTC,
		weight:      1,
		wait:        acquire.DefaultWaitConfig(),
		policy:      PolicyPartial,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.catalog == nil {
		p.catalog = instrument.Default()
	}
	if p.allocator == nil {
		p.allocator = portalloc.New()
	}
	if p.location == nil {
		p.location = time.UTC
	}
	return p
}

// Catalog returns the instrument table requests are validated against.
func (p *Pipeline) Catalog() *instrument.Catalog { return p.catalog }

// MaxDate returns the latest requestable instant.
func (p *Pipeline) MaxDate() time.Time {
	if !p.maxDate.IsZero() {
		return p.maxDate
	}
	return EndOfPreviousYear(p.now())
}

// Validate checks req without running it.
func (p *Pipeline) Validate(req Request) (Request, Window, error) {
	return Validate(req, p.catalog, p.MaxDate())
}

type outcome struct {
	res *acquire.Result
	err error
}

// Run executes req. Under PolicyPartial worker failures are reported in the
// Report and Run still returns a nil error once the output is persisted.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	if p.workers < 1 {
		return nil, apperror.New(apperror.ConfigError, "workers must be at least 1")
	}
	req, win, err := p.Validate(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logger := p.logger.With("symbol", req.Symbol)

	// Source files are split on local calendar years, so a zone offset can
	// put the window's edge rows in the neighbouring year's file.
	first, count := scraper.YearSpan(win.From.In(p.location), win.To.In(p.location))
	if inst, err := p.catalog.Lookup(req.Symbol); err == nil && first < inst.FirstYear {
		count -= inst.FirstYear - first
		first = inst.FirstYear
	}
	assignments := scraper.Assign(req.Symbol, scraper.SplitYears(first, count, p.workers))
	report := &Report{
		Symbol:      req.Symbol,
		From:        req.From,
		To:          req.To,
		Format:      req.Format,
		Assignments: assignments,
	}

	ports, err := p.leasePorts(assignments)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(RunFailed).Inc()
		return report, err
	}
	// Workers release their own port on exit; this covers runs that stop
	// before the workers start.
	defer func() {
		for _, port := range ports {
			if port != 0 {
				p.allocator.Release(port)
			}
		}
	}()

	store, err := persist.Open(ctx, req.Destination, persist.WithLogger(logger))
	if err != nil {
		metrics.RunsTotal.WithLabelValues(RunFailed).Inc()
		return report, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close destination", "error", err)
		}
	}()

	units := 0
	for _, a := range assignments {
		units += len(a)
	}
	agg := progress.NewAggregator(progress.Total(units, p.weight), p.workers, req.Observer)
	go agg.Run(ctx)
	defer agg.Finish(ctx)

	logger.Info("run started",
		"from", req.From.Format(dateFormat), "to", req.To.Format(dateFormat),
		"workers", p.workers, "units", units, "policy", p.policy)

	outcomes := p.runWorkers(ctx, req, assignments, ports, agg.Events(), logger)
	p.collect(report, outcomes)

	if len(report.Errors) > 0 && p.policy == PolicyStrict {
		metrics.RunsTotal.WithLabelValues(RunFailed).Inc()
		return report, fmt.Errorf("run aborted: %w", report.Errors[0])
	}
	if err := ctx.Err(); err != nil {
		metrics.RunsTotal.WithLabelValues(RunFailed).Inc()
		return report, err
	}

	tables := make([][]bar.Bar, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err == nil && o.res != nil {
			tables = append(tables, o.res.Rows)
		}
	}
	rows, err := merge.Trim(merge.Merge(tables...), win.From, win.To)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(RunFailed).Inc()
		return report, err
	}

	key, err := store.Save(ctx, req.Symbol, req.Format, rows)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(RunFailed).Inc()
		return report, err
	}
	_ = progress.Send(ctx, agg.Events(), p.weight, false)

	report.Key = key
	report.Rows = len(rows)
	report.Complete = len(report.Errors) == 0
	report.Duration = time.Since(start)

	status := RunCompleted
	if !report.Complete {
		status = RunIncomplete
		logger.Warn("run incomplete", "missing_years", report.MissingYears, "errors", len(report.Errors))
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	metrics.RunDuration.Observe(report.Duration.Seconds())
	logger.Info("run finished", "rows", report.Rows, "key", key, "complete", report.Complete, "duration", report.Duration)
	return report, nil
}

// leasePorts leases one port per non-empty assignment before any work
// starts. Slots for empty assignments stay zero.
func (p *Pipeline) leasePorts(assignments []scraper.Assignment) ([]int, error) {
	ports := make([]int, len(assignments))
	for i, a := range assignments {
		if len(a) == 0 {
			continue
		}
		port, err := p.allocator.Acquire(p.portLow, p.portHigh)
		if err != nil {
			for _, leased := range ports[:i] {
				if leased != 0 {
					p.allocator.Release(leased)
				}
			}
			return nil, err
		}
		ports[i] = port
	}
	return ports, nil
}

func (p *Pipeline) runWorkers(ctx context.Context, req Request, assignments []scraper.Assignment, ports []int, events chan<- progress.Event, logger *slog.Logger) []outcome {
	outcomes := make([]outcome, len(assignments))

	var g *errgroup.Group
	gctx := ctx
	if p.policy == PolicyStrict {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = new(errgroup.Group)
	}

	for i, a := range assignments {
		if len(a) == 0 {
			continue
		}
		g.Go(func() error {
			res, err := p.runAssignment(gctx, i, a, ports[i], events, logger)
			// The session is closed by now; the port is free for the next run.
			p.allocator.Release(ports[i])
			ports[i] = 0
			outcomes[i] = outcome{res: res, err: err}
			if p.policy == PolicyStrict {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Pipeline) runAssignment(ctx context.Context, id int, a scraper.Assignment, port int, events chan<- progress.Event, logger *slog.Logger) (*acquire.Result, error) {
	dir := filepath.Join(p.downloadDir, fmt.Sprintf("%s-worker-%d", a[0].Symbol, id))

	sess, err := p.opener.Open(ctx, scraper.SessionConfig{Port: port, DownloadDir: dir})
	if err != nil {
		res := &acquire.Result{Worker: id}
		res.Units = append(res.Units, acquire.UnitResult{Unit: a[0], Worker: id, Status: acquire.StatusFailed, Err: err})
		for _, u := range a[1:] {
			res.Units = append(res.Units, acquire.UnitResult{Unit: u, Worker: id, Status: acquire.StatusSkipped})
		}
		logger.Error("failed to open session", "worker", id, "port", port, "error", err)
		return res, &acquire.UnitError{Worker: id, Unit: a[0], Err: err}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("failed to close session", "worker", id, "error", err)
		}
	}()

	w := acquire.NewWorker(id, sess, filepath.Join(dir, "work"),
		acquire.WithLocation(p.location),
		acquire.WithProgress(events, p.weight),
		acquire.WithWait(p.wait),
		acquire.WithLogger(p.logger),
	)
	return w.Run(ctx, a)
}

// collect folds worker outcomes into the report in assignment order.
func (p *Pipeline) collect(r *Report, outcomes []outcome) {
	var missing []int
	for i, o := range outcomes {
		if o.res != nil {
			for _, u := range o.res.Units {
				if o.err != nil && u.Status == acquire.StatusOK {
					u.Status = acquire.StatusDiscarded
				}
				r.Units = append(r.Units, u)
			}
		}
		if o.err == nil {
			continue
		}
		var ue *acquire.UnitError
		if !errors.As(o.err, &ue) {
			ue = &acquire.UnitError{Worker: i, Err: o.err}
		}
		r.Errors = append(r.Errors, ue)
		missing = append(missing, r.Assignments[i].Years()...)
	}
	slices.Sort(missing)
	r.MissingYears = missing
}
