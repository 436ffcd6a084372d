package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"gorm.io/gorm"

	"github.com/alerthub/alerthub/internal/api"
	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/patterns"
)

// PatternHandler handles grouping rule management. Every mutation
// invalidates the pattern cache so the next ingest sees the change.
type PatternHandler struct {
	store *database.PatternStore
	cache *patterns.Cache
}

// NewPatternHandler creates a new pattern handler.
func NewPatternHandler(store *database.PatternStore, cache *patterns.Cache) *PatternHandler {
	return &PatternHandler{store: store, cache: cache}
}

// SetupRoutes configures pattern routes.
func (h *PatternHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/patterns", h.handleList)
	mux.HandleFunc("POST /api/patterns", h.handleCreate)
	mux.HandleFunc("GET /api/patterns/history", h.handleMatchHistory)
	mux.HandleFunc("GET /api/patterns/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/patterns/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/patterns/{id}", h.handleDelete)
}

// handleList handles GET /api/patterns
func (h *PatternHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List()
	if err != nil {
		log.Printf("Failed to list patterns: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "failed to list patterns")
		return
	}
	api.RespondJSON(w, http.StatusOK, list)
}

// handleCreate handles POST /api/patterns
func (h *PatternHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePatternRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	if _, err := patterns.Parse(req.Rule); err != nil {
		api.RespondValidationError(w, map[string]string{"rule": err.Error()})
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	pattern := &database.Pattern{
		Name:     req.Name,
		Rule:     req.Rule,
		Priority: req.Priority,
		IsActive: active,
	}
	if err := h.store.Create(pattern); err != nil {
		log.Printf("Failed to create pattern: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "failed to create pattern")
		return
	}
	h.cache.Invalidate()

	api.RespondJSON(w, http.StatusCreated, pattern)
}

// handleGet handles GET /api/patterns/:id
func (h *PatternHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	pattern, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "pattern not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "failed to load pattern")
		return
	}
	api.RespondJSON(w, http.StatusOK, pattern)
}

// handleUpdate handles PUT /api/patterns/:id
func (h *PatternHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	pattern, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "pattern not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "failed to load pattern")
		return
	}

	var req api.UpdatePatternRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			api.RespondValidationError(w, map[string]string{"name": "must not be empty"})
			return
		}
		pattern.Name = *req.Name
	}
	if req.Rule != nil {
		if _, err := patterns.Parse(*req.Rule); err != nil {
			api.RespondValidationError(w, map[string]string{"rule": err.Error()})
			return
		}
		pattern.Rule = *req.Rule
	}
	if req.Priority != nil {
		pattern.Priority = *req.Priority
	}
	if req.IsActive != nil {
		pattern.IsActive = *req.IsActive
	}

	if err := h.store.Update(pattern); err != nil {
		log.Printf("Failed to update pattern %s: %v", pattern.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "failed to update pattern")
		return
	}
	h.cache.Invalidate()

	api.RespondJSON(w, http.StatusOK, pattern)
}

// handleDelete handles DELETE /api/patterns/:id
func (h *PatternHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.Get(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "pattern not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "failed to load pattern")
		return
	}
	if err := h.store.Delete(id); err != nil {
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to delete pattern: %v", err))
		return
	}
	h.cache.Invalidate()

	api.RespondNoContent(w)
}

// handleMatchHistory handles GET /api/patterns/history
func (h *PatternHandler) handleMatchHistory(w http.ResponseWriter, r *http.Request) {
	p := api.ParsePagination(r)
	matches, err := h.store.MatchHistory(p.PerPage)
	if err != nil {
		log.Printf("Failed to load pattern match history: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "failed to load pattern history")
		return
	}
	api.RespondJSON(w, http.StatusOK, matches)
}
