// Package histdata implements acquisition sessions for the free ASCII M1
// archives published by histdata.com. Two modes are provided: "http" posts
// the page's download form directly, "webdriver" drives a browser through a
// chromedriver bound to the session's leased port.
package histdata

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://www.histdata.com"
	pagePath       = "/download-free-forex-historical-data/?/ascii/1-minute-bar-quotes/%s/%d"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// ModeHTTP and ModeWebDriver are the registered session modes.
	ModeHTTP      = "http"
	ModeWebDriver = "webdriver"
)

// PageURL is the download page for one pair and year.
func PageURL(baseURL, symbol string, year int) string {
	return strings.TrimRight(baseURL, "/") + fmt.Sprintf(pagePath, strings.ToLower(symbol), year)
}

// ArchiveName is the file name the site gives the yearly archive,
// e.g. HISTDATA_COM_ASCII_EURUSD_M12001.zip.
func ArchiveName(symbol string, year int) string {
	return fmt.Sprintf("HISTDATA_COM_ASCII_%s_M1%d.zip", strings.ToUpper(symbol), year)
}

type config struct {
	baseURL      string
	client       *http.Client
	limiter      *rate.Limiter
	driverBinary string
	headless     bool
	launch       bool
}

func defaults() config {
	return config{
		baseURL:      DefaultBaseURL,
		client:       &http.Client{},
		limiter:      rate.NewLimiter(rate.Inf, 1),
		driverBinary: "chromedriver",
		headless:     true,
		launch:       true,
	}
}

// Option configures an opener.
type Option func(*config)

// WithBaseURL overrides the site root.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithClient sets the HTTP client used by http-mode sessions. A client
// without a cookie jar gets a fresh one per session; a client that brings
// its own jar shares it across sessions.
func WithClient(hc *http.Client) Option {
	return func(c *config) { c.client = hc }
}

// WithLimiter throttles page loads across every session of the opener.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *config) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithDriverBinary sets the chromedriver executable.
func WithDriverBinary(path string) Option {
	return func(c *config) { c.driverBinary = path }
}

// WithHeadless controls whether the browser window is hidden.
func WithHeadless(h bool) Option {
	return func(c *config) { c.headless = h }
}

// WithLaunch controls whether webdriver sessions start their own
// chromedriver. When false the session connects to a driver already
// listening on the leased port.
func WithLaunch(launch bool) Option {
	return func(c *config) { c.launch = launch }
}

// prepare clears any stale copy of the archive so a wait on its path only
// sees the new download.
func prepare(dir, symbol string, year int) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	target := filepath.Join(dir, ArchiveName(symbol, year))
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove stale archive: %w", err)
	}
	return target, nil
}
