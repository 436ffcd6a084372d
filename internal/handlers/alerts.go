// Package handlers exposes the HTTP API: alert ingest and lifecycle,
// pattern management, issue management and the live update stream.
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/api"
	"github.com/alerthub/alerthub/internal/correlation"
	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/move"
)

// AlertHandler handles alert ingest, lifecycle actions and moves.
type AlertHandler struct {
	engine       *correlation.Engine
	store        *database.AlertStore
	orchestrator *move.Orchestrator
	audit        *database.PatternStore
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(engine *correlation.Engine, store *database.AlertStore, orchestrator *move.Orchestrator, audit *database.PatternStore) *AlertHandler {
	return &AlertHandler{
		engine:       engine,
		store:        store,
		orchestrator: orchestrator,
		audit:        audit,
	}
}

// SetupRoutes configures alert routes.
func (h *AlertHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/alerts", h.handleReceive)
	mux.HandleFunc("GET /api/alerts", h.handleList)
	mux.HandleFunc("GET /api/alerts/move/history", h.handleMoveHistory)
	mux.HandleFunc("POST /api/alerts/move/{target}", h.handleMove)
	mux.HandleFunc("GET /api/alerts/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/alerts/{id}/action", h.handleAction)
	mux.HandleFunc("DELETE /api/alerts/{id}", h.handleDelete)
}

// handleReceive handles POST /api/alerts
func (h *AlertHandler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req api.ReceiveAlertRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	result, err := h.engine.Receive(r.Context(), req.ToAlert())
	if err != nil {
		h.respondReceiveError(w, err)
		return
	}

	api.RespondJSON(w, http.StatusCreated, api.ReceiveOutcome{
		ID:      result.Alert.ID,
		Outcome: string(result.Outcome),
		Alert:   result.Alert,
	})
}

// respondReceiveError maps ingest outcomes and failures to response codes.
func (h *AlertHandler) respondReceiveError(w http.ResponseWriter, err error) {
	var verr *correlation.ValidationError
	var rerr *correlation.RejectError
	var berr *correlation.BlackoutError

	switch {
	case errors.As(err, &verr):
		api.RespondValidationError(w, map[string]string{verr.Field: verr.Reason})
	case errors.As(err, &rerr):
		api.RespondErrorWithCode(w, http.StatusForbidden, "rejected", err.Error())
	case errors.Is(err, correlation.ErrRateLimit):
		api.RespondErrorWithCode(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.As(err, &berr):
		api.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "blackout", "message": err.Error()})
	case errors.Is(err, correlation.ErrHeartbeat):
		api.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "heartbeat", "message": err.Error()})
	case errors.Is(err, correlation.ErrForwardingLoop):
		api.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "loop", "message": err.Error()})
	case errors.Is(err, correlation.ErrServiceBusy):
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable, "busy", err.Error())
	default:
		log.Printf("Failed to process alert: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "failed to process alert")
	}
}

// handleList handles GET /api/alerts
func (h *AlertHandler) handleList(w http.ResponseWriter, r *http.Request) {
	p := api.ParsePagination(r)
	q := r.URL.Query()

	filter := database.AlertFilter{
		Status:      alarm.Status(q.Get("status")),
		Environment: q.Get("environment"),
		Resource:    q.Get("resource"),
		Event:       q.Get("event"),
		Severity:    alarm.Severity(q.Get("severity")),
		Limit:       p.PerPage,
		Offset:      p.Offset(),
	}

	alerts, total, err := h.store.List(filter)
	if err != nil {
		log.Printf("Failed to list alerts: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data: api.AlertsToListItems(alerts),
		Pagination: api.PaginationMeta{
			Page:       p.Page,
			PerPage:    p.PerPage,
			Total:      total,
			TotalPages: p.TotalPages(total),
		},
	})
}

// handleGet handles GET /api/alerts/:id
func (h *AlertHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "alert not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}
	api.RespondJSON(w, http.StatusOK, alert)
}

// handleAction handles PUT /api/alerts/:id/action
func (h *AlertHandler) handleAction(w http.ResponseWriter, r *http.Request) {
	var req api.AlertActionRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	alert, err := h.engine.Action(r.PathValue("id"), alarm.Action(req.Action), req.Text, req.User)
	if err != nil {
		var actionErr *alarm.InvalidActionError
		switch {
		case errors.As(err, &actionErr):
			api.RespondErrorWithCode(w, http.StatusConflict, "invalid_action", err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			api.RespondError(w, http.StatusNotFound, "alert not found")
		default:
			log.Printf("Failed to apply action %s: %v", req.Action, err)
			api.RespondError(w, http.StatusInternalServerError, "failed to apply action")
		}
		return
	}
	api.RespondJSON(w, http.StatusOK, alert)
}

// handleDelete handles DELETE /api/alerts/:id
func (h *AlertHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.PathValue("id")); err != nil {
		var verr *correlation.ValidationError
		switch {
		case errors.As(err, &verr):
			api.RespondErrorWithCode(w, http.StatusConflict, "has_children", err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			api.RespondError(w, http.StatusNotFound, "alert not found")
		default:
			log.Printf("Failed to delete alert: %v", err)
			api.RespondError(w, http.StatusInternalServerError, "failed to delete alert")
		}
		return
	}
	api.RespondNoContent(w)
}

// handleMove handles POST /api/alerts/move/:target where target is an
// incident id or "new".
func (h *AlertHandler) handleMove(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.PathValue("target"))
	if target == "" {
		api.RespondError(w, http.StatusBadRequest, "move target is required")
		return
	}

	var req api.MoveAlertsRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	directives := make([]move.Directive, len(req.Alerts))
	for i, d := range req.Alerts {
		directives[i] = move.Directive{
			AlertID:    d.ID,
			IsIncident: d.IsIncident,
			ParentID:   d.ParentID,
			All:        d.All,
		}
	}

	result, err := h.orchestrator.Move(req.User, target, directives)
	if err != nil {
		var nferr *move.NotFoundError
		if errors.As(err, &nferr) {
			api.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("Failed to move alerts: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "failed to move alerts")
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"moved":  len(result.Updates),
	})
}

// handleMoveHistory handles GET /api/alerts/move/history
func (h *AlertHandler) handleMoveHistory(w http.ResponseWriter, r *http.Request) {
	p := api.ParsePagination(r)
	records, err := h.audit.MoveHistory(p.PerPage)
	if err != nil {
		log.Printf("Failed to load move history: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "failed to load move history")
		return
	}
	api.RespondJSON(w, http.StatusOK, records)
}
