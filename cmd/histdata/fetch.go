package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ahmethakanbesel/histdata/internal/persist"
	"github.com/ahmethakanbesel/histdata/internal/pipeline"
	"github.com/ahmethakanbesel/histdata/internal/platform/sqlite"
	"github.com/ahmethakanbesel/histdata/internal/progress"
	runrepo "github.com/ahmethakanbesel/histdata/internal/repository/run"
	"github.com/ahmethakanbesel/histdata/internal/run"
)

func fetchCmd(args []string, stdout, stderr io.Writer) error {
	s := newSettings("fetch", stderr)
	symbol := s.fs.StringP("symbol", "s", "", "instrument symbol, e.g. EURUSD")
	from := s.fs.String("from", "", "first day, YYYY-MM-DD")
	to := s.fs.String("to", "", "last day, YYYY-MM-DD")
	quiet := s.fs.BoolP("quiet", "q", false, "log progress instead of drawing a progress line")
	s.fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "Usage: histdata fetch --symbol EURUSD --from 2001-01-01 --to 2002-12-31 [flags]")
		s.fs.PrintDefaults()
	}

	cfg, err := s.load(args)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Positional form: fetch SYMBOL FROM TO
	if rest := s.fs.Args(); len(rest) == 3 && *symbol == "" && *from == "" && *to == "" {
		*symbol, *from, *to = rest[0], rest[1], rest[2]
	}
	if *symbol == "" || *from == "" || *to == "" {
		s.fs.Usage()
		return usageError{fmt.Errorf("--symbol, --from and --to are required")}
	}

	start, err := pipeline.ParseDate(*from)
	if err != nil {
		return err
	}
	end, err := pipeline.ParseDate(*to)
	if err != nil {
		return err
	}
	format, err := persist.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	pipe, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return err
	}
	defer func() { _ = db.Close() }()

	svc := run.NewService(runrepo.NewRepository(db.DB), pipe)

	var observer progress.Observer = &progress.LogObserver{Logger: logger}
	if !*quiet {
		observer = progress.NewReporter(progress.Options{
			Output:  stderr,
			Label:   fmt.Sprintf("%s %s..%s", strings.ToUpper(*symbol), *from, *to),
			Workers: cfg.Workers,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, rep, err := svc.Execute(ctx, pipeline.Request{
		Symbol:      *symbol,
		From:        start,
		To:          end,
		Format:      format,
		Destination: cfg.Output.Destination,
		Observer:    observer,
	})
	if err != nil {
		slog.Error("fetch failed", "symbol", *symbol, "error", err)
		if rep != nil {
			printUnitErrors(stderr, rep)
		}
		return err
	}

	_, _ = fmt.Fprintf(stdout, "%s: %s rows written to %s (%s, run %s, %s)\n",
		rep.Symbol, humanize.Comma(int64(rep.Rows)), location(cfg.Output.Destination, rep.Key),
		rep.Format, r.ID, rep.Duration.Round(time.Millisecond))
	if !rep.Complete {
		printUnitErrors(stderr, rep)
		_, _ = fmt.Fprintf(stderr, "missing years: %v\n", rep.MissingYears)
		return errIncomplete
	}
	return nil
}

func printUnitErrors(w io.Writer, rep *pipeline.Report) {
	for _, ue := range rep.Errors {
		_, _ = fmt.Fprintf(w, "  %v\n", ue)
	}
}

// location renders where key ended up inside dest.
func location(dest, key string) string {
	if strings.Contains(dest, "://") {
		if u, err := url.Parse(dest); err == nil {
			u.Path = path.Join(u.Path, key)
			return u.String()
		}
	}
	return filepath.Join(dest, key)
}
