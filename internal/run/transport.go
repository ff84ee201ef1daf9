package run

import (
	"strings"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
)

// SubmitRunRequest queues an acquisition. Format and Destination fall back
// to the service defaults when empty.
type SubmitRunRequest struct {
	Symbol      string `json:"symbol"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Format      string `json:"format,omitempty"`
	Destination string `json:"destination,omitempty"`
}

func (r SubmitRunRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.Symbol) == "" {
		return apperror.New(apperror.BadRequest, "symbol is required")
	}
	if r.StartDate == "" || r.EndDate == "" {
		return apperror.New(apperror.BadRequest, "startDate and endDate are required")
	}
	return nil
}

type GetRunRequest struct {
	ID string
}

func (r GetRunRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.ID) == "" {
		return apperror.New(apperror.BadRequest, "invalid run id")
	}
	return nil
}

type ListRunsRequest struct {
	Symbol string
}

func (r ListRunsRequest) Validate() *apperror.AppError {
	return nil
}
