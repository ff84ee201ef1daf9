package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/histdata/internal/persist"
	"github.com/ahmethakanbesel/histdata/internal/pipeline"
	"github.com/ahmethakanbesel/histdata/internal/progress"
)

const dateFormat = "2006-01-02"

// Runner executes acquisition requests. *pipeline.Pipeline satisfies it.
type Runner interface {
	Validate(req pipeline.Request) (pipeline.Request, pipeline.Window, error)
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

type Service struct {
	repo        Repository
	runner      Runner
	format      persist.Format
	destination string
	notify      func() // optional: wake worker pool
}

type ServiceOption func(*Service)

// WithDefaults sets the format and destination used when a submission
// leaves them empty.
func WithDefaults(format persist.Format, destination string) ServiceOption {
	return func(s *Service) {
		if format != "" {
			s.format = format
		}
		s.destination = destination
	}
}

func NewService(repo Repository, runner Runner, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, runner: runner, format: persist.FormatCSV}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetNotify sets a callback invoked when a new pending run is created.
func (s *Service) SetNotify(fn func()) { s.notify = fn }

// Submit validates the request and queues it. An identical run that is
// still pending or running is returned instead of a new one, with created
// set to false.
func (s *Service) Submit(ctx context.Context, req SubmitRunRequest) (r *Run, created bool, err error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	preq, err := s.request(req)
	if err != nil {
		return nil, false, err
	}
	preq, _, err = s.runner.Validate(preq)
	if err != nil {
		return nil, false, err
	}

	active, err := s.repo.FindActive(ctx, preq.Symbol, preq.From.Format(dateFormat), preq.To.Format(dateFormat),
		string(preq.Format), preq.Destination)
	if err != nil {
		return nil, false, fmt.Errorf("find active run: %w", err)
	}
	if active != nil {
		slog.Info("run already queued", "run", active.ID, "symbol", active.Symbol, "status", active.Status)
		return active, false, nil
	}

	r = newRun(preq, StatusPending)
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, false, fmt.Errorf("create run: %w", err)
	}
	slog.Info("run queued", "run", r.ID, "symbol", r.Symbol,
		"from", r.StartDate.Format(dateFormat), "to", r.EndDate.Format(dateFormat))
	if s.notify != nil {
		s.notify()
	}
	return r, true, nil
}

// Execute runs req in the calling goroutine and records it in the ledger.
// The report is returned even when the run fails.
func (s *Service) Execute(ctx context.Context, req pipeline.Request) (*Run, *pipeline.Report, error) {
	preq, _, err := s.runner.Validate(req)
	if err != nil {
		return nil, nil, err
	}

	r := newRun(preq, StatusRunning)
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	rep, runErr := s.runner.Run(ctx, preq)
	if err := s.record(context.WithoutCancel(ctx), r, rep, runErr); err != nil {
		return r, rep, errors.Join(runErr, err)
	}
	return r, rep, runErr
}

// Process executes a run claimed by the worker pool.
func (s *Service) Process(ctx context.Context, r *Run) error {
	format, err := persist.ParseFormat(r.Format)
	if err != nil {
		return s.fail(ctx, r, err)
	}
	req := pipeline.Request{
		Symbol:      r.Symbol,
		From:        r.StartDate,
		To:          r.EndDate,
		Format:      format,
		Destination: r.Destination,
		Observer:    &progress.LogObserver{Logger: slog.With("run", r.ID)},
	}

	rep, runErr := s.runner.Run(ctx, req)
	if err := s.record(context.WithoutCancel(ctx), r, rep, runErr); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (s *Service) Get(ctx context.Context, req GetRunRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

func (s *Service) List(ctx context.Context, req ListRunsRequest) ([]Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, req.Symbol)
}

// RecoverStaleRuns re-queues runs left running by a previous process.
func (s *Service) RecoverStaleRuns(ctx context.Context) error {
	n, err := s.repo.RecoverStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("re-queued interrupted runs", "count", n)
	}
	return nil
}

func (s *Service) request(req SubmitRunRequest) (pipeline.Request, error) {
	from, err := pipeline.ParseDate(req.StartDate)
	if err != nil {
		return pipeline.Request{}, err
	}
	to, err := pipeline.ParseDate(req.EndDate)
	if err != nil {
		return pipeline.Request{}, err
	}
	format := s.format
	if req.Format != "" {
		if format, err = persist.ParseFormat(req.Format); err != nil {
			return pipeline.Request{}, err
		}
	}
	dest := req.Destination
	if dest == "" {
		dest = s.destination
	}
	return pipeline.Request{
		Symbol:      req.Symbol,
		From:        from,
		To:          to,
		Format:      format,
		Destination: dest,
	}, nil
}

// record stores the outcome of a run. A run that persisted output is
// completed even when some years are missing; Complete tells them apart.
func (s *Service) record(ctx context.Context, r *Run, rep *pipeline.Report, runErr error) error {
	if rep != nil {
		r.RecordsCount = int64(rep.Rows)
		r.Key = rep.Key
		r.Complete = rep.Complete
		r.Units = units(rep)
		if err := s.repo.SaveUnits(ctx, r.ID, r.Units); err != nil {
			return fmt.Errorf("save units: %w", err)
		}
	}

	switch {
	case runErr != nil:
		r.Status = StatusFailed
		r.Error = runErr.Error()
		r.Complete = false
	case rep != nil && !rep.Complete:
		r.Status = StatusCompleted
		r.Error = rep.Err().Error()
	default:
		r.Status = StatusCompleted
		r.Error = ""
	}
	r.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, r); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (s *Service) fail(ctx context.Context, r *Run, cause error) error {
	if err := s.record(ctx, r, nil, cause); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func newRun(req pipeline.Request, status Status) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		StartDate:   req.From,
		EndDate:     req.To,
		Format:      string(req.Format),
		Destination: req.Destination,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func units(rep *pipeline.Report) []Unit {
	out := make([]Unit, 0, len(rep.Units))
	for _, u := range rep.Units {
		unit := Unit{
			Year:   u.Unit.Year,
			Worker: u.Worker,
			Status: u.Status,
			Rows:   int64(u.Rows),
		}
		if u.Err != nil {
			unit.Error = u.Err.Error()
		}
		out = append(out, unit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

