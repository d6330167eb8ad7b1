package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/usecase"
	"github.com/xavierca1/lead-pipeline/internal/validation"
)

type PipelineHandler struct {
	pipeline *usecase.PipelineSynchronizer
	drag     *usecase.DragController
	validate *validation.Validator
}

func NewPipelineHandler(pipeline *usecase.PipelineSynchronizer, drag *usecase.DragController, validate *validation.Validator) *PipelineHandler {
	return &PipelineHandler{pipeline: pipeline, drag: drag, validate: validate}
}

// GetLeads (GET /pipeline/leads)
func (h *PipelineHandler) GetLeads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.State())
}

// GetColumns (GET /pipeline/columns)
func (h *PipelineHandler) GetColumns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.StageColumns())
}

// Reload (POST /pipeline/reload)
func (h *PipelineHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.LoadAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.State())
}

type updateStageRequest struct {
	Stage entity.Stage `json:"stage" validate:"required,stage"`
}

// UpdateStage (PATCH /pipeline/leads/{phone}/stage)
func (h *PipelineHandler) UpdateStage(w http.ResponseWriter, r *http.Request) {
	var req updateStageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid stage",
			Code:    usecase.CodeValidation,
			Details: h.validate.Details(err),
		})
		return
	}

	phone := chi.URLParam(r, "phone")
	if err := h.pipeline.UpdateStage(r.Context(), phone, req.Stage); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateNotesRequest struct {
	Notes string `json:"notes"`
}

// UpdateNotes (PATCH /pipeline/leads/{phone}/notes)
func (h *PipelineHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req updateNotesRequest
	if !decode(w, r, &req) {
		return
	}

	phone := chi.URLParam(r, "phone")
	if err := h.pipeline.UpdateNotes(r.Context(), phone, req.Notes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dropRequest carries either the resolved target or the geometry to resolve
// it from. Over wins when both are present.
type dropRequest struct {
	Phone      string              `json:"phone"`
	Over       *usecase.DropTarget `json:"over"`
	ActiveRect *usecase.Rect       `json:"active_rect,omitempty"`
	Droppables []usecase.Droppable `json:"droppables,omitempty"`
}

// Drop (POST /pipeline/drop)
func (h *PipelineHandler) Drop(w http.ResponseWriter, r *http.Request) {
	var req dropRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Phone == "" {
		writeMessage(w, http.StatusBadRequest, "phone is required")
		return
	}

	over := req.Over
	if over == nil && req.ActiveRect != nil {
		if hits := usecase.ClosestCenter(*req.ActiveRect, req.Droppables); len(hits) > 0 {
			over = &hits[0].Target
		}
	}

	result, err := h.drag.HandleDragEnd(r.Context(), req.Phone, over)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
