package correlation

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/incidents"
)

// Flapping detection defaults: more than this many severity changes inside
// the window marks the alert as flapping.
const (
	DefaultFlapWindow    = 2 * time.Minute
	DefaultFlapThreshold = 4
)

// Action applies an operator action to an alert through the state machine.
// An action illegal for the alert's current state surfaces as
// *alarm.InvalidActionError. Closing cascades into incident and issue
// reconciliation.
func (e *Engine) Action(alertID string, action alarm.Action, text, user string) (*database.Alert, error) {
	alert, err := e.store.Get(alertID)
	if err != nil {
		return nil, err
	}

	in := alarm.Input{
		AlertID:          alert.ID,
		Severity:         alert.Severity,
		PreviousSeverity: alert.PreviousSeverity,
		Status:           alert.Status,
		TicketKey:        alert.Attributes.TicketKey,
		TicketStatus:     alert.Attributes.TicketStatus,
	}
	severity, status, err := e.model.Transition(in, alert.Status, incidents.PreviousStatus(alert), action)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if severity != alert.Severity {
		alert.PreviousSeverity = alert.Severity
		alert.Severity = severity
	}
	alert.Status = status
	alert.UpdateTime = now
	alert.Attributes.TicketStatus = in.TicketStatus
	if action == alarm.ActionAck {
		alert.Attributes.AckedBy = user
	}
	alert.History = alert.History.Prepend(database.HistoryEntry{
		ID:         uuid.New().String(),
		Event:      alert.Event,
		Severity:   severity,
		Status:     status,
		Text:       text,
		ChangeType: database.ChangeAction,
		UpdateTime: now,
		User:       user,
	}, e.aggregator.HistoryLimit())

	if err := e.store.Save(alert); err != nil {
		return nil, err
	}

	if status == alarm.StatusClosed {
		if _, err := e.aggregator.RecalculateIncidentClose(alert, false); err != nil {
			log.Printf("Incident close recalculation failed for %s: %v", alert.ID, err)
		}
		if err := e.aggregator.RecalculateStatusDurations(alert); err != nil {
			log.Printf("Status duration recalculation failed for %s: %v", alert.ID, err)
		}
		if e.issues != nil {
			if err := e.issues.HandleAlertClose(alert); err != nil {
				log.Printf("Issue reconciliation failed for %s: %v", alert.ID, err)
			}
		}
		if e.OnClose != nil {
			e.OnClose(alert)
		}
	}
	return alert, nil
}

// CheckFlapping marks an alert as flapping when its severity changed too
// often inside the detection window.
func (e *Engine) CheckFlapping(alert *database.Alert, window time.Duration, threshold int) (bool, error) {
	if window <= 0 {
		window = DefaultFlapWindow
	}
	if threshold <= 0 {
		threshold = DefaultFlapThreshold
	}
	if !database.IsFlapping(alert, window, threshold, time.Now()) {
		return false, nil
	}
	if _, err := e.Action(alert.ID, alarm.ActionFlap, "Flapping detected", ""); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes an alert. Deleting an incident parent that still has
// children is refused; the duplicate list must never reference a missing
// row.
func (e *Engine) Delete(alertID string) error {
	alert, err := e.store.Get(alertID)
	if err != nil {
		return err
	}
	if alert.IsIncident() && alert.HasChildren() {
		return &ValidationError{Field: "id", Reason: "incident still has children, move them first"}
	}
	if e.issues != nil {
		if err := e.issues.DetachAlert(alert); err != nil {
			return err
		}
	}
	return e.store.Delete(alertID)
}
