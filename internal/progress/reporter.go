package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the terminal reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// Label describes the run in the header, e.g. "EURUSD 2001-2002".
	Label string

	// Workers is the number of parallel workers (for display).
	Workers int

	// MinInterval throttles redraws.
	// Default: 200ms
	MinInterval time.Duration
}

// Reporter prints a single updating progress line.
type Reporter struct {
	opts Options

	mu        sync.Mutex
	startTime time.Time
	lastDraw  time.Time
}

// NewReporter creates a terminal reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.MinInterval == 0 {
		opts.MinInterval = 200 * time.Millisecond
	}
	return &Reporter{opts: opts}
}

// Start prints the header.
func (r *Reporter) Start(total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.startTime = time.Now()
	_, _ = fmt.Fprintf(r.opts.Output, "[histdata] %s | Workers: %d | Steps: %d\n",
		r.opts.Label, r.opts.Workers, total)
}

// Advance redraws the progress line, at most once per MinInterval.
func (r *Reporter) Advance(pos, total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastDraw) < r.opts.MinInterval && pos < total {
		return
	}
	r.lastDraw = now

	_, _ = fmt.Fprintf(r.opts.Output, "\r[histdata] Progress: %3d%% | %d/%d | Elapsed: %s    ",
		percent(pos, total), pos, total, formatDuration(now.Sub(r.startTime)))
}

// Finish prints the final line.
func (r *Reporter) Finish(pos, total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := "Complete!"
	if pos < total {
		status = "Stopped"
	}
	_, _ = fmt.Fprintf(r.opts.Output, "\r[histdata] Progress: %3d%% | %d/%d | %s    \n",
		percent(pos, total), pos, total, status)
	_, _ = fmt.Fprintf(r.opts.Output, "[histdata] Total time: %s (started %s)\n",
		formatDuration(time.Since(r.startTime)), humanize.Time(r.startTime))
}

// LogObserver reports progress through slog, for non-interactive runs.
type LogObserver struct {
	Logger *slog.Logger
	// Every logs one line per this many percent. Default: 10.
	Every int

	mu   sync.Mutex
	last int
}

func (l *LogObserver) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *LogObserver) Start(total uint64) {
	l.logger().Info("progress started", "steps", total)
}

func (l *LogObserver) Advance(pos, total uint64) {
	every := l.Every
	if every <= 0 {
		every = 10
	}
	p := percent(pos, total)

	l.mu.Lock()
	defer l.mu.Unlock()
	if p/every <= l.last/every {
		return
	}
	l.last = p
	l.logger().Info("progress", "percent", p, "pos", pos, "steps", total)
}

func (l *LogObserver) Finish(pos, total uint64) {
	l.logger().Info("progress finished", "percent", percent(pos, total), "pos", pos, "steps", total)
}

func percent(pos, total uint64) int {
	if total == 0 {
		return 100
	}
	return int(pos * 100 / total)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
