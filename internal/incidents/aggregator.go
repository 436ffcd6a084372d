package incidents

import (
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
)

// Aggregator maintains the bookkeeping of incident parents and their
// duplicate children.
type Aggregator struct {
	store        *database.AlertStore
	model        *alarm.Model
	historyLimit int
}

// NewAggregator creates an incident aggregator.
func NewAggregator(store *database.AlertStore, model *alarm.Model, historyLimit int) *Aggregator {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Aggregator{store: store, model: model, historyLimit: historyLimit}
}

// HistoryLimit is the maximum number of history entries kept per alert.
func (g *Aggregator) HistoryLimit() int {
	return g.historyLimit
}

// Deduplicate records a repeated duplicate against its parent. Only the
// last receive bookkeeping moves, so re-sending the same alert is
// idempotent apart from the timestamp.
func (g *Aggregator) Deduplicate(parentID string, receiveTime time.Time) error {
	return g.store.TouchLastReceive(parentID, receiveTime)
}

// FindParent returns the incident parent governing the alert. An incident
// alert is its own parent; a child's parent is the incident whose
// duplicate list names it. Returns nil when no parent exists.
func (g *Aggregator) FindParent(alert *database.Alert) (*database.Alert, error) {
	if alert.IsIncident() {
		return alert, nil
	}
	parents, err := g.store.FindIncidentParents()
	if err != nil {
		return nil, err
	}
	for i := range parents {
		for _, childID := range parents[i].Attributes.DuplicateAlerts {
			if childID == alert.ID {
				return &parents[i], nil
			}
		}
	}
	return nil, nil
}

// Children loads the duplicate children of an incident parent.
func (g *Aggregator) Children(parent *database.Alert) ([]database.Alert, error) {
	return g.store.GetMany(parent.Attributes.DuplicateAlerts)
}

// RecalculateStatusDurations rebuilds the per-status time accounting from
// the alert's history and stores it in the status_durations attribute.
// An alert without history is left untouched.
func (g *Aggregator) RecalculateStatusDurations(alert *database.Alert) error {
	if len(alert.History) == 0 {
		log.Printf("No history available for alert %s, skipping duration recalculation", alert.ID)
		return nil
	}

	history := make([]database.HistoryEntry, len(alert.History))
	copy(history, alert.History)
	sort.SliceStable(history, func(a, b int) bool {
		return history[a].UpdateTime.Before(history[b].UpdateTime)
	})

	durations := map[string]float64{}
	previousTime := history[0].UpdateTime
	previousStatus := history[0].Status
	for _, entry := range history[1:] {
		if previousStatus != "" {
			durations[string(previousStatus)] += entry.UpdateTime.Sub(previousTime).Seconds()
		}
		previousTime = entry.UpdateTime
		previousStatus = entry.Status
	}

	alert.Attributes.StatusDurations = durations
	return g.store.Save(alert)
}

// RecalculateIncidentClose reconciles an incident family after a close
// event somewhere in it. optimisticClosed marks an external resolution of
// the parent that arrived before its own status change.
//
// The rules:
//  1. parent and every child already closed: nothing to do;
//  2. a child closed, every sibling closed, and the parent was externally
//     resolved: close the parent too;
//  3. the parent itself closed while children remain open: reopen it to
//     its previous status and remember the external resolution;
//  4. an optimistic external close of the parent: close it when no open
//     children remain, otherwise only mark the resolution.
func (g *Aggregator) RecalculateIncidentClose(alert *database.Alert, optimisticClosed bool) (*database.Alert, error) {
	if !alert.IsIncident() && alert.Status != alarm.StatusClosed {
		return alert, nil
	}

	parent, err := g.FindParent(alert)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		log.Printf("No parent or children found for alert %s", alert.ID)
		return alert, nil
	}
	children, err := g.Children(parent)
	if err != nil {
		return nil, err
	}

	allChildrenClosed := true
	for i := range children {
		if children[i].Status != alarm.StatusClosed {
			allChildrenClosed = false
			break
		}
	}

	if allChildrenClosed && parent.Status == alarm.StatusClosed {
		return alert, nil
	}

	if alert.ID != parent.ID && allChildrenClosed && parent.Attributes.ExternalResolved {
		return g.CloseViaAction(parent, "All children closed", "")
	}

	if alert.ID == parent.ID {
		if alert.Status == alarm.StatusClosed {
			previous := PreviousStatus(alert)
			if previous != "" {
				if err := g.SetStatus(alert, previous, "Resolved incident alert", ""); err != nil {
					return nil, err
				}
				alert.Attributes.ExternalResolved = true
				if err := g.store.Save(alert); err != nil {
					return nil, err
				}
				return alert, nil
			}
		} else if optimisticClosed {
			alert.Attributes.ExternalResolved = true
			if allChildrenClosed || len(children) == 0 {
				return g.CloseViaAction(alert, "Externally resolved", "")
			}
			if err := g.store.Save(alert); err != nil {
				return nil, err
			}
			return alert, nil
		}
	}

	return alert, nil
}

// SetStatus moves an alert to the given status, recording a history entry.
func (g *Aggregator) SetStatus(alert *database.Alert, status alarm.Status, text, user string) error {
	now := time.Now()
	entry := database.HistoryEntry{
		ID:         uuid.NewString(),
		Event:      alert.Event,
		Severity:   alert.Severity,
		Status:     status,
		Value:      alert.Value,
		Text:       text,
		ChangeType: database.ChangeStatus,
		UpdateTime: now,
		User:       user,
		Timeout:    alert.Timeout,
	}
	alert.Status = status
	alert.UpdateTime = now
	alert.History = alert.History.Prepend(entry, g.historyLimit)
	return g.store.Save(alert)
}

// CloseViaAction runs the close action through the state machine so ticket
// side effects and invalid-state checks still apply, then persists the
// outcome.
func (g *Aggregator) CloseViaAction(alert *database.Alert, text, user string) (*database.Alert, error) {
	in := alarm.Input{
		AlertID:          alert.ID,
		Severity:         alert.Severity,
		PreviousSeverity: alert.PreviousSeverity,
		Status:           alert.Status,
		TicketKey:        alert.Attributes.TicketKey,
		TicketStatus:     alert.Attributes.TicketStatus,
	}
	severity, status, err := g.model.Transition(in, alert.Status, PreviousStatus(alert), alarm.ActionClose)
	if err != nil {
		return nil, err
	}
	if in.TicketStatus != "" {
		alert.Attributes.TicketStatus = in.TicketStatus
	}
	alert.Severity = severity
	if err := g.SetStatus(alert, status, text, user); err != nil {
		return nil, err
	}
	return alert, nil
}

// PreviousStatus returns the most recent history status that differs from
// the alert's current one, or empty when there is none.
func PreviousStatus(alert *database.Alert) alarm.Status {
	history := make([]database.HistoryEntry, len(alert.History))
	copy(history, alert.History)
	sort.SliceStable(history, func(a, b int) bool {
		return history[a].UpdateTime.After(history[b].UpdateTime)
	})
	for _, entry := range history {
		if entry.Status != "" && entry.Status != alert.Status {
			return entry.Status
		}
	}
	return ""
}
