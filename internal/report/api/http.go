package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/labinsight/platform/internal/pipeline"
	"github.com/labinsight/platform/internal/report"
	"github.com/labinsight/platform/internal/shared/errors"
)

// Analyzer runs the report analysis workflow.
type Analyzer interface {
	Run(ctx context.Context, in *pipeline.Input) (*pipeline.Result, error)
}

// Handler provides HTTP handlers for the report module
type Handler struct {
	runner  Analyzer
	history pipeline.HistoryStore
}

// NewHandler creates a new report handler. history may be nil when no
// database is configured; the history endpoints then return 404.
func NewHandler(runner Analyzer, history pipeline.HistoryStore) *Handler {
	return &Handler{runner: runner, history: history}
}

// Routes registers the report routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/analyze", h.AnalyzeReport)

	r.Route("/patients/{externalID}", func(r chi.Router) {
		r.Get("/history", h.GetHistory)
	})

	return r
}

func (h *Handler) AnalyzeReport(w http.ResponseWriter, r *http.Request) {
	var in pipeline.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	res, err := h.runner.Run(r.Context(), &in)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, errors.NotFound("history", "store not configured"))
		return
	}

	externalID := chi.URLParam(r, "externalID")
	if externalID == "" {
		writeError(w, errors.BadRequest("missing patient ID"))
		return
	}

	limit := 5
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, errors.BadRequest("invalid limit"))
			return
		}
		limit = n
	}

	rows, err := h.history.FetchHistory(r.Context(), externalID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []report.HistoryRow{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  rows,
		"total": len(rows),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
