package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
)

const (
	exitOK         = 0
	exitFatal      = 1
	exitUsage      = 2
	exitIncomplete = 3
)

// errIncomplete marks a run that persisted output with years missing.
var errIncomplete = errors.New("run incomplete")

const usage = `Usage: histdata <command> [flags]

Commands:
  fetch        download, merge and store one symbol over a date range
  serve        run the HTTP API and the background run queue
  instruments  list the supported symbols and their first year

Run "histdata <command> --help" for the flags of a command.
`

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return exitUsage
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "fetch":
		err = fetchCmd(rest, stdout, stderr)
	case "serve":
		err = serveCmd(rest, stderr)
	case "instruments":
		err = instrumentsCmd(rest, stdout, stderr)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitUsage
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
		return exitOK
	case errors.Is(err, errIncomplete):
		return exitIncomplete
	case isUsage(err):
		return exitUsage
	default:
		return exitFatal
	}
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// isUsage reports whether err was caused by how the command was invoked
// rather than by the run itself.
func isUsage(err error) bool {
	var ue usageError
	if errors.As(err, &ue) {
		return true
	}
	switch apperror.CodeOf(err) {
	case apperror.BadRequest, apperror.NotFound, apperror.ConfigError:
		return true
	}
	return false
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
