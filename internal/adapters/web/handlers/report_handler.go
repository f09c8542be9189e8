package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
)

const (
	defaultReportLimit = 50
	maxReportLimit     = 500
)

// ReportHandler serves stored reports and IV reuse events.
type ReportHandler struct {
	Store    ports.ReportStore
	Exporter ports.ReportExporter
	Logger   *slog.Logger
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(store ports.ReportStore, exporter ports.ReportExporter, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{
		Store:    store,
		Exporter: exporter,
		Logger:   logger,
	}
}

// HandleList returns the most recent reports, newest first.
func (h *ReportHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultReportLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxReportLimit)
	}

	reports, err := h.Store.ListReports(r.Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to list reports", "error", err)
		http.Error(w, "Failed to list reports", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []domain.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

// HandleGet returns one report as JSON.
func (h *ReportHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	report, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleExportPDF renders one report as a PDF download.
func (h *ReportHandler) HandleExportPDF(w http.ResponseWriter, r *http.Request) {
	report, ok := h.lookup(w, r)
	if !ok {
		return
	}

	pdf, err := h.Exporter.ExportReport(report)
	if err != nil {
		h.Logger.Error("Failed to export report", "id", report.ID, "error", err)
		http.Error(w, "Failed to export report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=wprobe_%s.pdf", report.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// HandleListIVReuses returns IV reuse events seen after ?since= (RFC 3339),
// or all of them.
func (h *ReportHandler) HandleListIVReuses(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "Invalid since timestamp", http.StatusBadRequest)
			return
		}
		since = t
	}

	events, err := h.Store.ListIVReuses(r.Context(), since)
	if err != nil {
		h.Logger.Error("Failed to list IV reuses", "error", err)
		http.Error(w, "Failed to list IV reuses", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []domain.IVReuseEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *ReportHandler) lookup(w http.ResponseWriter, r *http.Request) (*domain.Report, bool) {
	id := mux.Vars(r)["id"]
	report, err := h.Store.GetReport(r.Context(), id)
	if errors.Is(err, domain.ErrReportNotFound) {
		http.Error(w, "Report not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.Logger.Error("Failed to load report", "id", id, "error", err)
		http.Error(w, "Failed to load report", http.StatusInternalServerError)
		return nil, false
	}
	return report, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
