package histdata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/scraper"
)

// HTTPOpener opens sessions that fetch archives with plain HTTP requests.
type HTTPOpener struct {
	cfg config
}

// NewHTTP creates an http-mode opener.
func NewHTTP(opts ...Option) *HTTPOpener {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}
	return &HTTPOpener{cfg: cfg}
}

func (o *HTTPOpener) Mode() string { return ModeHTTP }

// Open creates a session with its own cookie jar. The leased port is not
// used by this mode.
func (o *HTTPOpener) Open(_ context.Context, sc scraper.SessionConfig) (scraper.Session, error) {
	hc := *o.cfg.client
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc.Jar = jar
	}
	return &httpSession{cfg: o.cfg, client: &hc, dir: sc.DownloadDir}, nil
}

type httpSession struct {
	cfg    config
	client *http.Client
	dir    string
}

func (s *httpSession) Fetch(ctx context.Context, symbol string, year int) (string, error) {
	target, err := prepare(s.dir, symbol, year)
	if err != nil {
		return "", apperror.Wrap(apperror.SessionFailure, "prepare download", err)
	}

	if err := s.cfg.limiter.Wait(ctx); err != nil {
		return "", err
	}

	page := PageURL(s.cfg.baseURL, symbol, year)
	form, err := s.loadForm(ctx, page)
	if err != nil {
		return "", apperror.Wrap(apperror.SessionFailure, fmt.Sprintf("load %s %d", symbol, year), err)
	}

	if err := s.download(ctx, page, form, target); err != nil {
		return "", apperror.Wrap(apperror.SessionFailure, fmt.Sprintf("download %s %d", symbol, year), err)
	}
	return target, nil
}

func (s *httpSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *httpSession) loadForm(ctx context.Context, page string) (*downloadForm, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := s.client.Do(req) //nolint:gosec // URL built from configured base
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned HTTP %d", res.StatusCode)
	}

	doc, err := html.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	form, err := findDownloadForm(doc)
	if err != nil {
		return nil, err
	}

	action, err := res.Request.URL.Parse(form.action)
	if err != nil {
		return nil, fmt.Errorf("resolve form action %q: %w", form.action, err)
	}
	form.action = action.String()
	return form, nil
}

func (s *httpSession) download(ctx context.Context, page string, form *downloadForm, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, form.action, strings.NewReader(form.values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", page)
	req.Header.Set("User-Agent", userAgent)

	res, err := s.client.Do(req) //nolint:gosec // action resolved against the download page
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned HTTP %d", res.StatusCode)
	}
	if strings.HasPrefix(res.Header.Get("Content-Type"), "text/html") {
		return fmt.Errorf("download returned a page instead of an archive")
	}

	part := target + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // path inside the session's download dir
	if err != nil {
		return err
	}
	n, err := io.Copy(f, res.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(part, target); err != nil {
		return err
	}

	slog.Debug("downloaded archive", "path", target, "bytes", n)
	return nil
}

type downloadForm struct {
	action string
	values url.Values
}

// findDownloadForm locates the form the #a_file link submits and collects
// its input fields.
func findDownloadForm(doc *html.Node) (*downloadForm, error) {
	var forms []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			forms = append(forms, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var chosen *html.Node
	for _, f := range forms {
		if attr(f, "id") == "file_down" || attr(f, "name") == "file_down" {
			chosen = f
			break
		}
	}
	if chosen == nil {
		for _, f := range forms {
			if strings.Contains(strings.ToLower(attr(f, "action")), "get.php") {
				chosen = f
				break
			}
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("download form not found on page")
	}

	form := &downloadForm{action: attr(chosen, "action"), values: url.Values{}}
	if form.action == "" {
		form.action = "get.php"
	}
	var inputs func(*html.Node)
	inputs = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			if name := attr(n, "name"); name != "" {
				form.values.Add(name, attr(n, "value"))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			inputs(c)
		}
	}
	inputs(chosen)

	if len(form.values) == 0 {
		return nil, fmt.Errorf("download form has no fields")
	}
	return form, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
