package handlers

import (
	"net/http"

	"github.com/xavierca1/lead-pipeline/internal/usecase"
)

type DashboardHandler struct {
	dashboard *usecase.DashboardService
}

func NewDashboardHandler(dashboard *usecase.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// Metrics (GET /dashboard/metrics)
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dashboard.Report())
}
