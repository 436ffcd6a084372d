package handlers

import (
	"errors"
	"log"
	"net/http"

	"gorm.io/gorm"

	"github.com/alerthub/alerthub/internal/api"
	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/issues"
)

// IssueHandler handles issue management: listing, membership changes,
// merges and the resolve/reopen lifecycle.
type IssueHandler struct {
	engine *issues.Engine
	store  *database.IssueStore
	alerts *database.AlertStore
}

// NewIssueHandler creates a new issue handler.
func NewIssueHandler(engine *issues.Engine, store *database.IssueStore, alerts *database.AlertStore) *IssueHandler {
	return &IssueHandler{engine: engine, store: store, alerts: alerts}
}

// SetupRoutes configures issue routes.
func (h *IssueHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/issues", h.handleList)
	mux.HandleFunc("POST /api/issues/merge", h.handleMerge)
	mux.HandleFunc("GET /api/issues/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/issues/{id}", h.handleUpdate)
	mux.HandleFunc("PUT /api/issues/{id}/alerts", h.handleAddAlerts)
	mux.HandleFunc("DELETE /api/issues/{id}/alerts", h.handleRemoveAlerts)
	mux.HandleFunc("PUT /api/issues/{id}/resolve", h.handleResolve)
	mux.HandleFunc("PUT /api/issues/{id}/reopen", h.handleReopen)
}

// handleList handles GET /api/issues
func (h *IssueHandler) handleList(w http.ResponseWriter, r *http.Request) {
	status := database.IssueStatus(r.URL.Query().Get("status"))
	list, err := h.store.List(status)
	if err != nil {
		log.Printf("Failed to list issues: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "failed to list issues")
		return
	}
	api.RespondJSON(w, http.StatusOK, list)
}

// handleGet handles GET /api/issues/:id
func (h *IssueHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}
	api.RespondJSON(w, http.StatusOK, issue)
}

// handleUpdate handles PUT /api/issues/:id
func (h *IssueHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}

	var req api.UpdateIssueRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Summary != nil {
		issue.Summary = *req.Summary
	}
	if req.DutyAdmin != nil {
		issue.DutyAdmin = *req.DutyAdmin
	}
	if req.Description != nil {
		issue.Description = *req.Description
	}

	if err := h.store.Save(issue); err != nil {
		log.Printf("Failed to update issue %s: %v", issue.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "failed to update issue")
		return
	}
	api.RespondJSON(w, http.StatusOK, issue)
}

// handleAddAlerts handles PUT /api/issues/:id/alerts
func (h *IssueHandler) handleAddAlerts(w http.ResponseWriter, r *http.Request) {
	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}

	var req api.IssueAlertsRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	alerts, err := h.alerts.GetMany(req.Alerts)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}
	if len(alerts) != len(req.Alerts) {
		api.RespondError(w, http.StatusNotFound, "one or more alerts not found")
		return
	}

	if err := h.engine.AddAlerts(issue, alerts); err != nil {
		log.Printf("Failed to add alerts to issue %s: %v", issue.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "failed to add alerts")
		return
	}
	api.RespondJSON(w, http.StatusOK, issue)
}

// handleRemoveAlerts handles DELETE /api/issues/:id/alerts
func (h *IssueHandler) handleRemoveAlerts(w http.ResponseWriter, r *http.Request) {
	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}

	var req api.IssueAlertsRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	if err := h.engine.RemoveAlerts(issue, req.Alerts); err != nil {
		var rejection *issues.RejectionError
		if errors.As(err, &rejection) {
			api.RespondErrorWithCode(w, http.StatusConflict, "ticketed_issue", err.Error())
			return
		}
		log.Printf("Failed to remove alerts from issue %s: %v", issue.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "failed to remove alerts")
		return
	}
	api.RespondJSON(w, http.StatusOK, issue)
}

// handleMerge handles POST /api/issues/merge
func (h *IssueHandler) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req api.MergeIssuesRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	target, err := h.store.Get(req.TargetID)
	if err != nil {
		api.RespondError(w, http.StatusNotFound, "target issue not found")
		return
	}
	source, err := h.store.Get(req.SourceID)
	if err != nil {
		api.RespondError(w, http.StatusNotFound, "source issue not found")
		return
	}

	if err := h.engine.Merge(target, source); err != nil {
		var rejection *issues.RejectionError
		if errors.As(err, &rejection) {
			api.RespondErrorWithCode(w, http.StatusConflict, "merge_rejected", err.Error())
			return
		}
		log.Printf("Failed to merge issue %s into %s: %v", req.SourceID, req.TargetID, err)
		api.RespondError(w, http.StatusInternalServerError, "failed to merge issues")
		return
	}
	api.RespondJSON(w, http.StatusOK, target)
}

// handleResolve handles PUT /api/issues/:id/resolve
func (h *IssueHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}
	if err := h.engine.Resolve(issue, "Resolved by operator"); err != nil {
		log.Printf("Failed to resolve issue %s: %v", issue.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "failed to resolve issue")
		return
	}
	api.RespondJSON(w, http.StatusOK, issue)
}

// handleReopen handles PUT /api/issues/:id/reopen
func (h *IssueHandler) handleReopen(w http.ResponseWriter, r *http.Request) {
	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}
	if err := h.engine.Reopen(issue, "Reopened by operator"); err != nil {
		log.Printf("Failed to reopen issue %s: %v", issue.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "failed to reopen issue")
		return
	}
	api.RespondJSON(w, http.StatusOK, issue)
}

// loadIssue resolves the path id to an issue or writes the error response.
func (h *IssueHandler) loadIssue(w http.ResponseWriter, r *http.Request) (*database.Issue, bool) {
	issue, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "issue not found")
			return nil, false
		}
		api.RespondError(w, http.StatusInternalServerError, "failed to load issue")
		return nil, false
	}
	return issue, true
}
