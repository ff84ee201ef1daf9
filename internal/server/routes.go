package server

import (
	"net/http"

	"github.com/ahmethakanbesel/histdata/internal/instrument"
	"github.com/ahmethakanbesel/histdata/internal/metrics"
	"github.com/ahmethakanbesel/histdata/internal/run"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(catalog *instrument.Catalog, runSvc *run.Service) http.Handler {
	return newMux(catalog, runSvc)
}

func newMux(catalog *instrument.Catalog, runSvc *run.Service) http.Handler {
	h := &handler{
		catalog: catalog,
		runSvc:  runSvc,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/instruments", h.listInstruments)
	mux.HandleFunc("GET /api/v1/instruments/{symbol}", h.getInstrument)
	mux.HandleFunc("POST /api/v1/runs", h.submitRun)
	mux.HandleFunc("GET /api/v1/runs", h.listRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.getRun)
	mux.Handle("GET /metrics", metrics.Handler())

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
