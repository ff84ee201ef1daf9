// Package webdriver drives Chrome through chromedriver for downloads that
// need a real browser. The wire protocol and process management come from
// github.com/tebeka/selenium.
package webdriver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
)

// URLPrefix is the path chromedriver serves the protocol under. Launched
// drivers are started with it, attached drivers must use it too.
const URLPrefix = "/wd/hub"

// Endpoint is the remote URL of a driver listening on port.
func Endpoint(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, URLPrefix)
}

// ChromeCapabilities returns capabilities for a Chrome session whose
// downloads land in downloadDir without prompting.
func ChromeCapabilities(downloadDir string, headless bool) selenium.Capabilities {
	args := []string{"--no-sandbox", "--disable-gpu", "--window-size=1280,1024"}
	if headless {
		args = append(args, "--headless=new")
	}
	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{
		Args: args,
		Prefs: map[string]interface{}{
			"download.default_directory":   downloadDir,
			"download.prompt_for_download": false,
			"download.directory_upgrade":   true,
			"safebrowsing.enabled":         true,
		},
	})
	return caps
}

// Browser is one Chrome session and, when it was launched here, the
// chromedriver process behind it.
type Browser struct {
	wd      selenium.WebDriver
	service *selenium.Service
	port    int
}

// Launch starts binary as a chromedriver on port and opens a session on it.
// It blocks until the driver answers or gives up.
func Launch(binary string, port int, caps selenium.Capabilities) (*Browser, error) {
	svc, err := selenium.NewChromeDriverService(binary, port)
	if err != nil {
		return nil, fmt.Errorf("start %s on port %d: %w", binary, port, err)
	}
	slog.Debug("chromedriver ready", "port", port)

	b, err := Attach(port, caps)
	if err != nil {
		if serr := svc.Stop(); serr != nil {
			slog.Warn("failed to stop chromedriver", "port", port, "error", serr)
		}
		return nil, err
	}
	b.service = svc
	return b, nil
}

// Attach opens a session on a driver already listening on port.
func Attach(port int, caps selenium.Capabilities) (*Browser, error) {
	wd, err := selenium.NewRemote(caps, Endpoint(port))
	if err != nil {
		return nil, fmt.Errorf("new session on port %d: %w", port, err)
	}
	return &Browser{wd: wd, port: port}, nil
}

// Port is the driver port the session runs on.
func (b *Browser) Port() int { return b.port }

// SessionID is the driver-assigned session id.
func (b *Browser) SessionID() string { return b.wd.SessionID() }

// Open navigates to url.
func (b *Browser) Open(url string) error {
	return b.wd.Get(url)
}

// ClickID clicks the element with the given id attribute.
func (b *Browser) ClickID(id string) error {
	el, err := b.wd.FindElement(selenium.ByID, id)
	if err != nil {
		return fmt.Errorf("find #%s: %w", id, err)
	}
	if err := el.Click(); err != nil {
		return fmt.Errorf("click #%s: %w", id, err)
	}
	return nil
}

// Close ends the session and stops a launched driver.
func (b *Browser) Close() error {
	var errs []error
	if err := b.wd.Quit(); err != nil {
		errs = append(errs, fmt.Errorf("quit session: %w", err))
	}
	if b.service != nil {
		if err := b.service.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop chromedriver: %w", err))
		}
		b.service = nil
	}
	return errors.Join(errs...)
}

// IsNoSuchElement reports whether err is the driver's "no such element"
// error.
func IsNoSuchElement(err error) bool {
	var se *selenium.Error
	return errors.As(err, &se) && se.Err == "no such element"
}
