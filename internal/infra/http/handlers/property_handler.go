package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/usecase"
)

type PropertyHandler struct {
	properties *usecase.PropertyService
}

func NewPropertyHandler(properties *usecase.PropertyService) *PropertyHandler {
	return &PropertyHandler{properties: properties}
}

// List (GET /properties?estado=&tipo=&barrio=&agente=&search=)
func (h *PropertyHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	props, err := h.properties.List(r.Context(), entity.PropertyFilters{
		Status:       q.Get("estado"),
		Type:         q.Get("tipo"),
		Neighborhood: q.Get("barrio"),
		Agent:        q.Get("agente"),
		Search:       q.Get("search"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

// Get (GET /properties/{id})
func (h *PropertyHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.properties.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Create (POST /properties)
func (h *PropertyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input usecase.PropertyInput
	if !decode(w, r, &input) {
		return
	}
	p, err := h.properties.Create(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Update (PATCH /properties/{id}) takes a partial object keyed by column name.
func (h *PropertyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if !decode(w, r, &fields) {
		return
	}
	p, err := h.properties.Update(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Delete (DELETE /properties/{id})
func (h *PropertyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.properties.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
