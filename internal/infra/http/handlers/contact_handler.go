package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xavierca1/lead-pipeline/internal/usecase"
)

type ContactHandler struct {
	contacts *usecase.ContactService
}

func NewContactHandler(contacts *usecase.ContactService) *ContactHandler {
	return &ContactHandler{contacts: contacts}
}

// List (GET /contacts?search=&company=&tags=a,b&has_opportunities=true&sort=nombres&order=asc)
// Without query parameters the cached listing is served.
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if len(q) == 0 {
		out, err := h.contacts.ListWithStats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	filters := usecase.ContactFilters{
		Search:  q.Get("search"),
		Company: q.Get("company"),
	}
	if tags := q.Get("tags"); tags != "" {
		filters.Tags = strings.Split(tags, ",")
	}
	if v := q.Get("has_opportunities"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "has_opportunities must be a boolean")
			return
		}
		filters.HasOpportunities = &b
	}

	var sortBy *usecase.ContactSort
	if field := q.Get("sort"); field != "" {
		sortBy = &usecase.ContactSort{Field: field, Ascending: q.Get("order") == "asc"}
	}

	out, err := h.contacts.Search(r.Context(), filters, sortBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Get (GET /contacts/{phone})
func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.contacts.GetByPhone(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		writeMessage(w, http.StatusNotFound, "contact not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Create (POST /contacts)
func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input usecase.ContactInput
	if !decode(w, r, &input) {
		return
	}
	c, err := h.contacts.Create(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// Upsert (PUT /contacts)
func (h *ContactHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var input usecase.ContactInput
	if !decode(w, r, &input) {
		return
	}
	c, err := h.contacts.Upsert(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Update (PATCH /contacts/{phone})
func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input usecase.ContactUpdateInput
	if !decode(w, r, &input) {
		return
	}
	input.Phone = chi.URLParam(r, "phone")

	c, err := h.contacts.Update(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Delete (DELETE /contacts/{phone})
func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.contacts.Delete(r.Context(), chi.URLParam(r, "phone")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
