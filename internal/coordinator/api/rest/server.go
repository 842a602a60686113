package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nemanja-m/shardmr/internal/coordinator/core"
	"github.com/nemanja-m/shardmr/internal/shared/config"
	"github.com/nemanja-m/shardmr/internal/shared/logging"
	"github.com/nemanja-m/shardmr/pkg/input"
	"github.com/nemanja-m/shardmr/pkg/jobs"
	"github.com/nemanja-m/shardmr/pkg/marshal"
	"github.com/nemanja-m/shardmr/pkg/output"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

type API struct {
	service  core.JobService
	defaults core.Settings
	logger   logging.Logger
}

func NewAPI(service core.JobService, defaults core.Settings, logger logging.Logger) *API {
	return &API{
		service:  service,
		defaults: defaults,
		logger:   logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/jobs", a.submitJob)
	mux.HandleFunc("GET /api/jobs", a.listJobs)
	mux.HandleFunc("GET /api/jobs/{id}", a.getJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", a.cancelJob)
	mux.HandleFunc("GET /api/registry", a.getRegistry)
}

// submitJob handles POST /api/jobs
func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	spec, err := req.ToSpecification()
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	id, err := a.service.StartJob(spec, req.ToSettings(a.defaults))
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	job, err := a.service.GetStatus(id)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	resp := SubmitJobResponse{
		JobID:       id.String(),
		Status:      string(job.Phase),
		SubmittedAt: job.SubmittedAt,
		Links: Links{
			Self:   fmt.Sprintf("/api/jobs/%s", id),
			Cancel: fmt.Sprintf("/api/jobs/%s/cancel", id),
		},
	}
	a.respondJSON(w, http.StatusCreated, resp)
}

// getJob handles GET /api/jobs/{id}
func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := a.jobID(w, r)
	if !ok {
		return
	}

	job, err := a.service.GetStatus(id)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, ToGetJobResponse(job))
}

// listJobs handles GET /api/jobs with filters and pagination
func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := core.JobFilter{Limit: defaultLimit}
	if status := query.Get("status"); status != "" {
		phase, err := core.ParseJobPhase(status)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, "invalid status filter", err.Error())
			return
		}
		filter.Phase = &phase
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = min(l, maxLimit)
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	list, total, err := a.service.ListJobs(filter)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	summaries := make([]JobSummary, 0, len(list))
	for _, job := range list {
		summaries = append(summaries, ToJobSummary(job))
	}

	var nextOffset *int
	if end := filter.Offset + len(list); end < total {
		nextOffset = &end
	}

	resp := ListJobsResponse{
		Jobs:       summaries,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
		NextOffset: nextOffset,
	}
	a.respondJSON(w, http.StatusOK, resp)
}

// cancelJob handles POST /api/jobs/{id}/cancel
func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := a.jobID(w, r)
	if !ok {
		return
	}

	if err := a.service.CancelJob(id); err != nil {
		a.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// getRegistry handles GET /api/registry
func (a *API) getRegistry(w http.ResponseWriter, _ *http.Request) {
	a.respondJSON(w, http.StatusOK, RegistryResponse{
		Jobs:        jobs.List(),
		Mappers:     jobs.ListMappers(),
		Reducers:    jobs.ListReducers(),
		Marshallers: marshal.List(),
		InputTypes:  []string{input.TypeRange, input.TypeEntity, input.TypeFiles},
		OutputTypes: []string{output.TypeMemory, output.TypeFile, output.TypeNone},
	})
}

func (a *API) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	if raw == "" {
		a.respondError(w, http.StatusBadRequest, "job ID required", "")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job ID", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (a *API) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNoSuchJob):
		a.respondError(w, http.StatusNotFound, "job not found", err.Error())
	case errors.Is(err, core.ErrJobFinished):
		a.respondError(w, http.StatusConflict, "job already finished", err.Error())
	case errors.Is(err, core.ErrJobNotRunning):
		a.respondError(w, http.StatusConflict, "job not running", err.Error())
	case errors.Is(err, jobs.ErrInvalidSpecification),
		errors.Is(err, core.ErrInvalidSettings),
		errors.Is(err, jobs.ErrUnknownJob):
		a.respondError(w, http.StatusBadRequest, "validation failed", err.Error())
	default:
		a.logger.Error("Request failed", "error", err)
		a.respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("Failed to encode response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, error string, message string) {
	resp := ErrorResponse{
		Error:   error,
		Message: message,
		Code:    statusCode,
	}
	a.respondJSON(w, statusCode, resp)
}

func NewServer(cfg config.RESTConfig, service core.JobService, defaults core.Settings, logger logging.Logger) *http.Server {
	api := NewAPI(service, defaults, logger)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := ChainMiddleware(
		mux,
		RecoveryMiddleware(logger),
		TracingMiddleware,
		LoggingMiddleware(logger),
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
