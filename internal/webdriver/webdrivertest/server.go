// Package webdrivertest provides an in-process fake W3C WebDriver endpoint
// for tests. Requests may carry the /wd/hub prefix chromedriver uses.
package webdrivertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Server is a fake driver. It knows a fixed set of CSS selectors and runs
// OnClick when an element found through one of them is clicked.
type Server struct {
	*httptest.Server

	// OnClick is called with the selector of the clicked element and the
	// last navigated URL.
	OnClick func(selector, pageURL string)

	mu       sync.Mutex
	next     int
	sessions map[string]string // session id -> current url
	elements map[string]string // element id -> selector
	known    map[string]bool
	caps     []map[string]any
	deleted  int
}

// NewServer starts a fake driver that resolves the given selectors.
func NewServer(selectors ...string) *Server {
	s := &Server{
		sessions: make(map[string]string),
		elements: make(map[string]string),
		known:    make(map[string]bool),
	}
	for _, sel := range selectors {
		s.known[sel] = true
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Capabilities returns the capabilities of every session created, taken from
// alwaysMatch or, failing that, desiredCapabilities.
func (s *Server) Capabilities() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.caps...)
}

// Open returns the number of sessions not yet deleted.
func (s *Server) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Handler returns the fake driver's handler for serving it on a chosen
// address.
func (s *Server) Handler() http.Handler { return http.HandlerFunc(s.handle) }

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/wd/hub")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case r.Method == http.MethodGet && path == "/status":
		reply(w, http.StatusOK, map[string]any{"ready": true, "message": "ok"})

	case r.Method == http.MethodPost && path == "/session":
		var body struct {
			Capabilities struct {
				AlwaysMatch map[string]any `json:"alwaysMatch"`
			} `json:"capabilities"`
			DesiredCapabilities map[string]any `json:"desiredCapabilities"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		caps := body.Capabilities.AlwaysMatch
		if caps == nil {
			caps = body.DesiredCapabilities
		}
		s.mu.Lock()
		s.next++
		id := fmt.Sprintf("session-%d", s.next)
		s.sessions[id] = ""
		s.caps = append(s.caps, caps)
		s.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"sessionId": id, "capabilities": map[string]any{}})

	case len(parts) >= 2 && parts[0] == "session":
		s.handleSession(w, r, parts[1], parts[2:])

	default:
		fail(w, http.StatusNotFound, "unknown command", path)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	s.mu.Lock()
	page, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		fail(w, http.StatusNotFound, "invalid session id", id)
		return
	}

	switch {
	case r.Method == http.MethodDelete && len(rest) == 0:
		s.mu.Lock()
		delete(s.sessions, id)
		s.deleted++
		s.mu.Unlock()
		reply(w, http.StatusOK, nil)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "url":
		var body struct {
			URL string `json:"url"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.sessions[id] = body.URL
		s.mu.Unlock()
		reply(w, http.StatusOK, nil)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "element":
		var body struct {
			Using string `json:"using"`
			Value string `json:"value"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Using != "css selector" || !s.known[body.Value] {
			fail(w, http.StatusNotFound, "no such element", body.Value)
			return
		}
		s.mu.Lock()
		s.next++
		eid := fmt.Sprintf("element-%d", s.next)
		s.elements[eid] = body.Value
		s.mu.Unlock()
		reply(w, http.StatusOK, map[string]string{"element-6066-11e4-a52e-4f735466cecf": eid})

	case r.Method == http.MethodPost && len(rest) == 3 && rest[0] == "element" && rest[2] == "click":
		s.mu.Lock()
		sel, found := s.elements[rest[1]]
		cb := s.OnClick
		s.mu.Unlock()
		if !found {
			fail(w, http.StatusNotFound, "no such element", rest[1])
			return
		}
		if cb != nil {
			cb(sel, page)
		}
		reply(w, http.StatusOK, nil)

	default:
		fail(w, http.StatusNotFound, "unknown command", r.URL.Path)
	}
}

func reply(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"value": value})
}

func fail(w http.ResponseWriter, status int, code, msg string) {
	reply(w, status, map[string]string{"error": code, "message": msg})
}
