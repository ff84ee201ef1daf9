package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/instrument"
	"github.com/ahmethakanbesel/histdata/internal/persist"
	"github.com/ahmethakanbesel/histdata/internal/pipeline"
	"github.com/ahmethakanbesel/histdata/internal/platform/sqlite"
	runrepo "github.com/ahmethakanbesel/histdata/internal/repository/run"
	"github.com/ahmethakanbesel/histdata/internal/run"
)

// validatingRunner checks requests like the pipeline but never runs them.
type validatingRunner struct {
	catalog *instrument.Catalog
}

func (v validatingRunner) Validate(req pipeline.Request) (pipeline.Request, pipeline.Window, error) {
	return pipeline.Validate(req, v.catalog, time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC))
}

func (v validatingRunner) Run(context.Context, pipeline.Request) (*pipeline.Report, error) {
	panic("not used")
}

func newTestServer(t *testing.T) (*httptest.Server, *run.Service) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	catalog := instrument.Default()
	svc := run.NewService(runrepo.NewRepository(db.DB), validatingRunner{catalog: catalog},
		run.WithDefaults(persist.FormatCSV, t.TempDir()))
	srv := httptest.NewServer(NewHandler(catalog, svc))
	t.Cleanup(srv.Close)
	return srv, svc
}

func decode[T any](t *testing.T, resp *http.Response) APIResponse[T] {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out APIResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func postRun(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/v1/runs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
	if got := decode[map[string]string](t, resp); got.Data["status"] != "ok" {
		t.Errorf("body = %+v", got)
	}
}

func TestInstruments(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/instruments")
	if err != nil {
		t.Fatal(err)
	}
	list := decode[[]instrument.Instrument](t, resp)
	if len(list.Data) != instrument.Default().Len() {
		t.Errorf("got %d instruments", len(list.Data))
	}

	resp, _ = http.Get(srv.URL + "/api/v1/instruments/eurusd")
	one := decode[instrument.Instrument](t, resp)
	if one.Data.Symbol != "EURUSD" || one.Data.FirstYear != 2000 {
		t.Errorf("got %+v", one.Data)
	}

	resp, _ = http.Get(srv.URL + "/api/v1/instruments/XXXYYY")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestSubmitRun_QueuesAndDedupes(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"symbol":"eurusd","startDate":"2001-01-01","endDate":"2002-12-31"}`

	resp := postRun(t, srv.URL, body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	first := decode[run.Run](t, resp)
	if first.Data.ID == "" || first.Data.Status != run.StatusPending || first.Data.Symbol != "EURUSD" {
		t.Fatalf("unexpected run %+v", first.Data)
	}
	if loc != "/api/v1/runs/"+first.Data.ID {
		t.Errorf("location = %q", loc)
	}

	resp = postRun(t, srv.URL, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status = %d", resp.StatusCode)
	}
	if second := decode[run.Run](t, resp); second.Data.ID != first.Data.ID {
		t.Errorf("expected existing run %s, got %s", first.Data.ID, second.Data.ID)
	}

	resp, err := http.Get(srv.URL + loc)
	if err != nil {
		t.Fatal(err)
	}
	got := decode[run.Run](t, resp)
	if got.Data.ID != first.Data.ID || got.Data.Format != "csv" {
		t.Errorf("get = %+v", got.Data)
	}
}

func TestSubmitRun_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"symbol":`, http.StatusBadRequest},
		{"unknown field", `{"symbol":"EURUSD","startDate":"2001-01-01","endDate":"2001-02-01","currency":"TRY"}`, http.StatusBadRequest},
		{"missing symbol", `{"startDate":"2001-01-01","endDate":"2001-02-01"}`, http.StatusBadRequest},
		{"bad date", `{"symbol":"EURUSD","startDate":"2001-13-01","endDate":"2001-02-01"}`, http.StatusBadRequest},
		{"unknown symbol", `{"symbol":"XXXYYY","startDate":"2001-01-01","endDate":"2001-02-01"}`, http.StatusNotFound},
		{"before first year", `{"symbol":"EURUSD","startDate":"1999-01-01","endDate":"2001-02-01"}`, http.StatusBadRequest},
		{"after max date", `{"symbol":"EURUSD","startDate":"2023-01-01","endDate":"2024-02-01"}`, http.StatusBadRequest},
		{"bad format", `{"symbol":"EURUSD","startDate":"2001-01-01","endDate":"2001-02-01","format":"xlsx"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRun(t, srv.URL, tt.body)
			got := decode[string](t, resp)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.status, got.Message)
			}
			if got.Message == "" || got.Message == "ok" {
				t.Errorf("message = %q", got.Message)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := http.Get(srv.URL + "/api/v1/runs")
	if empty := decode[[]run.Run](t, resp); empty.Data == nil || len(empty.Data) != 0 {
		t.Errorf("expected empty list, got %+v", empty.Data)
	}

	_ = postRun(t, srv.URL, `{"symbol":"EURUSD","startDate":"2001-01-01","endDate":"2001-12-31"}`).Body.Close()
	_ = postRun(t, srv.URL, `{"symbol":"GBPUSD","startDate":"2001-01-01","endDate":"2001-12-31"}`).Body.Close()

	resp, _ = http.Get(srv.URL + "/api/v1/runs?symbol=eur/usd")
	list := decode[[]run.Run](t, resp)
	if len(list.Data) != 1 || list.Data[0].Symbol != "EURUSD" {
		t.Errorf("filtered = %+v", list.Data)
	}

	resp, _ = http.Get(srv.URL + "/api/v1/runs")
	if all := decode[[]run.Run](t, resp); len(all.Data) != 2 {
		t.Errorf("expected 2 runs, got %d", len(all.Data))
	}
}

func TestGetRun_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/runs/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "histdata_rows_total") {
		t.Errorf("status = %d, body lacks histdata metrics", resp.StatusCode)
	}
}

func TestRecovery(t *testing.T) {
	h := recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}
