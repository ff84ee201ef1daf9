package histdata

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/scraper"
	"github.com/ahmethakanbesel/histdata/internal/webdriver"
)

const downloadLink = "a_file"

// WebDriverOpener opens browser sessions, one chromedriver per leased port.
type WebDriverOpener struct {
	cfg config
}

// NewWebDriver creates a webdriver-mode opener.
func NewWebDriver(opts ...Option) *WebDriverOpener {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}
	return &WebDriverOpener{cfg: cfg}
}

func (o *WebDriverOpener) Mode() string { return ModeWebDriver }

// Open starts (or attaches to) a driver on sc.Port and creates a browser
// session that downloads into sc.DownloadDir.
func (o *WebDriverOpener) Open(_ context.Context, sc scraper.SessionConfig) (scraper.Session, error) {
	dir, err := filepath.Abs(sc.DownloadDir)
	if err != nil {
		return nil, apperror.Wrap(apperror.SessionFailure, "resolve download dir", err)
	}

	caps := webdriver.ChromeCapabilities(dir, o.cfg.headless)
	var b *webdriver.Browser
	if o.cfg.launch {
		b, err = webdriver.Launch(o.cfg.driverBinary, sc.Port, caps)
	} else {
		b, err = webdriver.Attach(sc.Port, caps)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.SessionFailure, fmt.Sprintf("open browser on port %d", sc.Port), err)
	}
	return &browserSession{cfg: o.cfg, dir: dir, browser: b}, nil
}

type browserSession struct {
	cfg     config
	dir     string
	browser *webdriver.Browser
}

// Fetch loads the download page and clicks the archive link. The browser
// keeps writing the file after Fetch returns.
func (s *browserSession) Fetch(ctx context.Context, symbol string, year int) (string, error) {
	target, err := prepare(s.dir, symbol, year)
	if err != nil {
		return "", apperror.Wrap(apperror.SessionFailure, "prepare download", err)
	}
	if err := s.cfg.limiter.Wait(ctx); err != nil {
		return "", err
	}

	page := PageURL(s.cfg.baseURL, symbol, year)
	if err := s.browser.Open(page); err != nil {
		return "", apperror.Wrap(apperror.SessionFailure, "open "+page, err)
	}
	if err := s.browser.ClickID(downloadLink); err != nil {
		if webdriver.IsNoSuchElement(err) {
			return "", apperror.Wrap(apperror.SessionFailure, fmt.Sprintf("no download link for %s %d", symbol, year), err)
		}
		return "", apperror.Wrap(apperror.SessionFailure, "click download link", err)
	}
	return target, nil
}

func (s *browserSession) Close() error {
	if err := s.browser.Close(); err != nil {
		return fmt.Errorf("close browser on port %d: %w", s.browser.Port(), err)
	}
	return nil
}
