package server

import (
	"encoding/json"
	"net/http"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	"github.com/ahmethakanbesel/histdata/internal/instrument"
	"github.com/ahmethakanbesel/histdata/internal/run"
)

const maxBodyBytes = 1 << 16

type handler struct {
	catalog *instrument.Catalog
	runSvc  *run.Service
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listInstruments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.All())
}

func (h *handler) getInstrument(w http.ResponseWriter, r *http.Request) {
	inst, err := h.catalog.Lookup(r.PathValue("symbol"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handler) submitRun(w http.ResponseWriter, r *http.Request) {
	var req run.SubmitRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeAppError(w, apperror.Wrap(apperror.BadRequest, "invalid request body", err))
		return
	}

	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	rn, created, err := h.runSvc.Submit(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+rn.ID)
	if created {
		writeJSON(w, http.StatusAccepted, rn)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	req := run.GetRunRequest{ID: r.PathValue("id")}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	rn, err := h.runSvc.Get(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rn)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	req := run.ListRunsRequest{
		Symbol: instrument.Normalize(r.URL.Query().Get("symbol")),
	}

	runs, err := h.runSvc.List(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if runs == nil {
		runs = []run.Run{}
	}

	writeJSON(w, http.StatusOK, runs)
}
