package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/alerthub/alerthub/internal/alerts"
	"github.com/alerthub/alerthub/internal/api"
	"github.com/alerthub/alerthub/internal/correlation"
)

// maxWebhookBody caps webhook request bodies at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler accepts webhook payloads from external monitoring
// systems and feeds the parsed alerts into the correlation engine.
type WebhookHandler struct {
	engine   *correlation.Engine
	adapters map[string]alerts.Adapter
}

// NewWebhookHandler creates a webhook handler with the given adapters.
func NewWebhookHandler(engine *correlation.Engine, adapterList ...alerts.Adapter) *WebhookHandler {
	adapters := make(map[string]alerts.Adapter, len(adapterList))
	for _, a := range adapterList {
		adapters[a.Source()] = a
	}
	return &WebhookHandler{engine: engine, adapters: adapters}
}

// Sources returns the registered source names.
func (h *WebhookHandler) Sources() []string {
	sources := make([]string, 0, len(h.adapters))
	for source := range h.adapters {
		sources = append(sources, source)
	}
	return sources
}

// SetupRoutes configures webhook routes.
func (h *WebhookHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/{source}", h.handleWebhook)
}

// webhookOutcome summarizes what happened to one parsed alert.
type webhookOutcome struct {
	ID      string `json:"id,omitempty"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// handleWebhook handles POST /webhook/:source
func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	adapter, ok := h.adapters[r.PathValue("source")]
	if !ok {
		api.RespondError(w, http.StatusNotFound, "unknown webhook source")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	incoming, err := adapter.Parse(body)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// One webhook can carry many alerts. Each gets its own pass
	// through the pipeline; a rejection of one does not fail the rest.
	outcomes := make([]webhookOutcome, 0, len(incoming))
	accepted := 0
	for _, alert := range incoming {
		result, err := h.engine.Receive(r.Context(), alert)
		if err != nil {
			outcomes = append(outcomes, webhookOutcome{
				Outcome: receiveErrorOutcome(err),
				Message: err.Error(),
			})
			continue
		}
		accepted++
		outcomes = append(outcomes, webhookOutcome{
			ID:      result.Alert.ID,
			Outcome: string(result.Outcome),
		})
	}

	status := http.StatusCreated
	if accepted == 0 {
		status = http.StatusAccepted
	}
	api.RespondJSON(w, status, map[string]interface{}{
		"received": len(incoming),
		"accepted": accepted,
		"alerts":   outcomes,
	})
}

// receiveErrorOutcome labels a pipeline rejection for the per-alert
// summary.
func receiveErrorOutcome(err error) string {
	var verr *correlation.ValidationError
	var rerr *correlation.RejectError
	var berr *correlation.BlackoutError

	switch {
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &rerr):
		return "rejected"
	case errors.Is(err, correlation.ErrRateLimit):
		return "rate_limited"
	case errors.As(err, &berr):
		return "blackout"
	case errors.Is(err, correlation.ErrHeartbeat):
		return "heartbeat"
	case errors.Is(err, correlation.ErrForwardingLoop):
		return "loop"
	case errors.Is(err, correlation.ErrServiceBusy):
		return "busy"
	default:
		log.Printf("Failed to process webhook alert: %v", err)
		return "error"
	}
}
