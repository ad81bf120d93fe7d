package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/civic-reports/chat-gateway/internal/middleware"
	"github.com/civic-reports/chat-gateway/internal/report"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

// ReportHandler handles report listing endpoints.
type ReportHandler struct {
	reports *report.Client
	logger  *logger.Logger
}

// NewReportHandler creates a new report handler.
func NewReportHandler(reports *report.Client, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		logger:  log,
	}
}

// List handles GET /api/v1/reports/{role}
// Supports category, status, area, dateFrom, dateTo, search and page.
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if !sess.Valid() {
		writeError(w, http.StatusUnauthorized, upstream.ErrMissingToken.Error())
		return
	}

	role, err := middleware.ValidateRole(chi.URLParam(r, "role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := report.QueryFromValues(r.URL.Query())
	page, err := h.reports.List(r.Context(), sess, role, q)
	if err != nil {
		writeChatError(w, h.logger, "failed to list reports", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// Assignments handles GET /api/v1/assignments
func (h *ReportHandler) Assignments(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if !sess.Valid() {
		writeError(w, http.StatusUnauthorized, upstream.ErrMissingToken.Error())
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	resp, err := h.reports.Assignments(r.Context(), sess, page)
	if err != nil {
		writeChatError(w, h.logger, "failed to list assignments", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
