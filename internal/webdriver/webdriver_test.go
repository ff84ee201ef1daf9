package webdriver

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/webdriver/webdrivertest"
)

// TestMain lets the test binary double as a fake chromedriver when started
// by the Launch tests.
func TestMain(m *testing.M) {
	if os.Getenv("HISTDATA_FAKE_CHROMEDRIVER") == "1" {
		runFakeDriver()
		return
	}
	os.Exit(m.Run())
}

func runFakeDriver() {
	port := ""
	for _, a := range os.Args[1:] {
		if v, ok := strings.CutPrefix(a, "--port="); ok {
			port = v
		}
	}
	srv := webdrivertest.NewServer("#a_file")
	mux := http.NewServeMux()
	mux.HandleFunc(URLPrefix+"/shutdown", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		go func() {
			time.Sleep(50 * time.Millisecond)
			os.Exit(0)
		}()
	})
	mux.Handle("/", srv.Handler())
	_ = http.ListenAndServe("127.0.0.1:"+port, mux) //nolint:gosec // test helper
	os.Exit(1)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func portOf(t *testing.T, rawURL string) int {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func TestEndpoint(t *testing.T) {
	if got := Endpoint(9515); got != "http://127.0.0.1:9515/wd/hub" {
		t.Errorf("Endpoint = %q", got)
	}
}

func TestAttach_SessionLifecycle(t *testing.T) {
	fake := webdrivertest.NewServer("#a_file")
	defer fake.Close()

	var clicked, page string
	fake.OnClick = func(sel, url string) { clicked, page = sel, url }

	port := portOf(t, fake.URL)
	b, err := Attach(port, ChromeCapabilities("/tmp/dl", true))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if b.SessionID() == "" || b.Port() != port {
		t.Fatalf("unexpected browser %q on %d", b.SessionID(), b.Port())
	}

	if err := b.Open("https://example.test/page"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.ClickID("a_file"); err != nil {
		t.Fatalf("click: %v", err)
	}
	if clicked != "#a_file" || page != "https://example.test/page" {
		t.Errorf("click saw selector %q on %q", clicked, page)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fake.Open() != 0 {
		t.Errorf("expected no open sessions, got %d", fake.Open())
	}
}

func TestAttach_MissingElement(t *testing.T) {
	fake := webdrivertest.NewServer()
	defer fake.Close()

	b, err := Attach(portOf(t, fake.URL), ChromeCapabilities(t.TempDir(), true))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()

	err = b.ClickID("missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNoSuchElement(err) {
		t.Errorf("expected no such element, got %v", err)
	}
}

func TestAttach_NoDriver(t *testing.T) {
	if _, err := Attach(freePort(t), ChromeCapabilities(t.TempDir(), true)); err == nil {
		t.Fatal("expected error without a driver")
	}
}

func TestChromeCapabilities(t *testing.T) {
	fake := webdrivertest.NewServer()
	defer fake.Close()

	for _, headless := range []bool{true, false} {
		b, err := Attach(portOf(t, fake.URL), ChromeCapabilities("/downloads/w0", headless))
		if err != nil {
			t.Fatal(err)
		}
		_ = b.Close()
	}

	caps := fake.Capabilities()
	if len(caps) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(caps))
	}
	if caps[0]["browserName"] != "chrome" {
		t.Errorf("browserName = %v", caps[0]["browserName"])
	}
	opts := caps[0]["goog:chromeOptions"].(map[string]any)
	prefs := opts["prefs"].(map[string]any)
	if prefs["download.default_directory"] != "/downloads/w0" || prefs["download.prompt_for_download"] != false {
		t.Errorf("prefs = %v", prefs)
	}

	hasHeadless := func(c map[string]any) bool {
		for _, a := range c["goog:chromeOptions"].(map[string]any)["args"].([]any) {
			if strings.HasPrefix(a.(string), "--headless") {
				return true
			}
		}
		return false
	}
	if !hasHeadless(caps[0]) {
		t.Error("expected headless arg")
	}
	if hasHeadless(caps[1]) {
		t.Error("unexpected headless arg")
	}
}

func TestLaunch_StartsAndStopsDriver(t *testing.T) {
	t.Setenv("HISTDATA_FAKE_CHROMEDRIVER", "1")
	port := freePort(t)

	b, err := Launch(os.Args[0], port, ChromeCapabilities(t.TempDir(), true))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if err := b.Open("https://example.test/page"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.ClickID("a_file"); err != nil {
		t.Fatalf("click: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// the process is gone, so the port can be bound again
	deadline := time.Now().Add(5 * time.Second)
	for {
		l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			_ = l.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("port %d still bound after Close: %v", port, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestLaunch_MissingBinary(t *testing.T) {
	if _, err := Launch("/nonexistent/chromedriver", freePort(t), ChromeCapabilities(t.TempDir(), true)); err == nil {
		t.Fatal("expected error")
	}
}
