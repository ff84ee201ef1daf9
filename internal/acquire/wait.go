package acquire

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
)

// WaitConfig bounds the size-stability poll.
type WaitConfig struct {
	// Interval is the first sampling interval and the interval used while
	// the file is still growing.
	Interval time.Duration
	// MaxInterval caps the backoff while the file is missing or unchanged.
	MaxInterval time.Duration
	// Timeout is the overall limit for the file to appear and settle.
	Timeout time.Duration
}

// DefaultWaitConfig returns the standard poll settings.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		Interval:    100 * time.Millisecond,
		MaxInterval: 2 * time.Second,
		Timeout:     5 * time.Minute,
	}
}

// WaitForFile blocks until path exists with a non-zero size that is the same
// in two consecutive samples. It fails with DownloadTimeout if that does not
// happen within cfg.Timeout.
func WaitForFile(ctx context.Context, path string, cfg WaitConfig) (int64, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWaitConfig().Interval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}

	var deadline <-chan time.Time
	if cfg.Timeout > 0 {
		t := time.NewTimer(cfg.Timeout)
		defer t.Stop()
		deadline = t.C
	}

	interval := cfg.Interval
	last := int64(-1)
	for {
		size := int64(-1)
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			size = fi.Size()
		}

		switch {
		case size > 0 && size == last:
			return size, nil
		case size > 0:
			// appeared or still growing
			interval = cfg.Interval
		default:
			interval = min(interval*2, cfg.MaxInterval)
		}
		last = size

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline:
			return 0, apperror.New(apperror.DownloadTimeout,
				fmt.Sprintf("%s did not settle within %s", path, cfg.Timeout))
		case <-time.After(interval):
		}
	}
}
