package alarm

import (
	"fmt"
	"log"
)

// TicketTransition names a workflow move applied to an alert's external ticket.
type TicketTransition string

const (
	TicketTransitionFalsePositive TicketTransition = "false-positive"
	TicketTransitionFixedByDuty   TicketTransition = "fixed-by-duty"
	TicketTransitionSelfHealed    TicketTransition = "self-healed"
	TicketTransitionWorkDone      TicketTransition = "work-done"
	TicketTransitionEscalated     TicketTransition = "escalated"
)

// Transitioner moves an external ticket between workflow states.
// Implementations must not block the caller for long; failures are logged
// by the state machine and never abort the alert transition itself.
type Transitioner interface {
	TransitionTicket(ticketKey string, transition TicketTransition) (newStatus string, err error)
}

// InvalidActionError reports an action that is not allowed in the alert's
// current state.
type InvalidActionError struct {
	Action Action
	Status Status
	Reason string
}

func (e *InvalidActionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid action %q for current %s status", e.Action, e.Status)
}

// Input is the alert context a transition is evaluated against.
type Input struct {
	AlertID          string
	Severity         Severity
	PreviousSeverity Severity
	Status           Status // status already stored on the alert
	TicketKey        string // non-empty when the alert has an external ticket
	TicketStatus     string // updated in place when a ticket transition succeeds
}

// Model evaluates alert state transitions. The ticket transitioner may be
// nil, in which case ticket moves are skipped.
type Model struct {
	ticket Transitioner
}

// NewModel creates a state machine with an optional ticket transitioner.
func NewModel(ticket Transitioner) *Model {
	return &Model{ticket: ticket}
}

// Transition computes the next severity and status for an alert given an
// operator action. The zero-value action means the transition is driven by
// a severity change alone.
//
// The rules follow ISA 18.2 alarm state conventions: acknowledged alarms
// reopen when severity genuinely increases, unshelved alarms return to
// their previous status, and closed alarms reopen with their pre-close
// severity when a non-normal severity arrives.
func (m *Model) Transition(in Input, currentStatus, previousStatus Status, action Action) (Severity, Status, error) {
	if currentStatus == "" {
		currentStatus = DefaultStatus
	}
	if previousStatus == "" {
		previousStatus = DefaultStatus
	}
	if in.Status == "" {
		in.Status = DefaultStatus
	}
	severity := in.Severity
	previousSeverity := in.PreviousSeverity
	if previousSeverity == "" {
		previousSeverity = DefaultPreviousSeverity
	}
	hasTicket := in.TicketKey != ""

	if !IsValid(severity) {
		return severity, currentStatus, fmt.Errorf("severity %q is not a recognized severity level", severity)
	}

	// Unrecognized actions are assumed to have been handled upstream.
	if action != "" && !IsKnownAction(action) {
		return severity, in.Status, nil
	}

	// An alert arriving with a non-default status was staged by the caller.
	// Normal severity still auto-closes it.
	if action == "" && in.Status != DefaultStatus {
		if Rank(severity) == Rank(DefaultNormalSeverity) {
			return DefaultNormalSeverity, StatusClosed, nil
		}
		return severity, in.Status, nil
	}

	state := currentStatus

	if action == ActionUndo {
		return severity, previousStatus, nil
	}

	if action == ActionUnack {
		if state == StatusAck {
			return severity, previousStatus, nil
		}
		return severity, state, &InvalidActionError{Action: action, Status: state}
	}

	if action == ActionUnshelve {
		if state == StatusShelved {
			return severity, previousStatus, nil
		}
		return severity, state, &InvalidActionError{Action: action, Status: state}
	}

	if action == ActionExpired {
		return severity, StatusExpired, nil
	}

	if action == ActionTimeout {
		if previousStatus == StatusAck {
			return severity, StatusAck, nil
		}
		return severity, StatusOpen, nil
	}

	if action == ActionFalsePositive && state != StatusFalsePositive && state != StatusClosed {
		if hasTicket {
			m.moveTicket(&in, TicketTransitionFalsePositive)
		}
		return severity, StatusFalsePositive, nil
	}

	if action == ActionFlap && state != StatusFlap {
		return severity, StatusFlap, nil
	}

	if action == ActionEscalated && state != StatusEscalated && state != StatusClosed {
		return severity, StatusEscalated, nil
	}

	if action == ActionClose && state != StatusClosed {
		if hasTicket && state == StatusObserving {
			m.moveTicket(&in, TicketTransitionFixedByDuty)
		} else if hasTicket && state != StatusEscalated && state != StatusPending && state != StatusFalsePositive {
			m.moveTicket(&in, TicketTransitionSelfHealed)
		}
		return severity, StatusClosed, nil
	}

	if state == StatusOpen {
		switch action {
		case ActionOpen:
			return severity, state, &InvalidActionError{Action: action, Status: state, Reason: "alert is already in open status"}
		case ActionAck:
			return severity, StatusAck, nil
		case ActionShelve:
			return severity, StatusShelved, nil
		}
	}

	if state == StatusAck {
		switch action {
		case ActionOpen:
			return severity, StatusOpen, nil
		case ActionAck:
			return severity, state, &InvalidActionError{Action: action, Status: state, Reason: "alert is already in ack status"}
		case ActionShelve:
			return severity, StatusShelved, nil
		case ActionInc:
			return severity, StatusInc, nil
		}
		// Re-open acknowledged alerts only when severity genuinely increases,
		// not merely because the previous severity is the default.
		if previousSeverity != DefaultPreviousSeverity {
			if TrendOf(previousSeverity, severity) == TrendMoreSevere {
				return severity, StatusOpen, nil
			}
		}
	}

	if state == StatusInc {
		switch action {
		case ActionWorkDone:
			if !hasTicket {
				return severity, state, &InvalidActionError{Action: action, Status: state, Reason: "ticket is not created yet, try again shortly"}
			}
			m.moveTicket(&in, TicketTransitionWorkDone)
			return severity, StatusObserving, nil
		case ActionEscalate:
			if !hasTicket {
				return severity, state, &InvalidActionError{Action: action, Status: state, Reason: "ticket is not created yet, try again shortly"}
			}
			m.moveTicket(&in, TicketTransitionEscalated)
			return severity, StatusPending, nil
		}
	}

	if state == StatusObserving && hasTicket {
		switch action {
		case ActionEscalate:
			m.moveTicket(&in, TicketTransitionEscalated)
			return severity, StatusPending, nil
		case ActionWorkDone:
			return severity, currentStatus, nil
		}
	}

	if state == StatusShelved {
		switch action {
		case ActionOpen:
			return severity, StatusOpen, nil
		case ActionAck:
			return severity, state, &InvalidActionError{Action: action, Status: state}
		case ActionShelve:
			return severity, state, &InvalidActionError{Action: action, Status: state, Reason: "alert is already in shelved status"}
		}
	}

	if state == StatusBlackout {
		if previousStatus != StatusBlackout {
			return severity, previousStatus, nil
		}
		return severity, in.Status, nil
	}

	if state == StatusClosed {
		switch action {
		case ActionOpen:
			return previousSeverity, StatusOpen, nil
		case ActionAck, ActionShelve, ActionFalsePositive:
			return severity, state, &InvalidActionError{Action: action, Status: state}
		case ActionClose:
			return severity, state, &InvalidActionError{Action: action, Status: state, Reason: "alert is already in closed status"}
		}
		if Rank(severity) != Rank(DefaultNormalSeverity) {
			if previousStatus == StatusShelved {
				return previousSeverity, StatusShelved, nil
			}
			return previousSeverity, StatusOpen, nil
		}
	}

	if state == StatusExpired {
		if action != "" && action != ActionOpen {
			return severity, state, &InvalidActionError{Action: action, Status: state}
		}
		if Rank(severity) != Rank(DefaultNormalSeverity) {
			return severity, StatusOpen, nil
		}
	}

	if state != StatusOpen && action != "" {
		log.Printf("No transition for state %s, action %s, alert %s", state, action, in.AlertID)
	}
	return severity, currentStatus, nil
}

// moveTicket applies a ticket workflow transition. Failures are logged and
// never abort the alert transition.
func (m *Model) moveTicket(in *Input, transition TicketTransition) {
	if m.ticket == nil || in.TicketKey == "" {
		return
	}
	newStatus, err := m.ticket.TransitionTicket(in.TicketKey, transition)
	if err != nil {
		log.Printf("Ticket transition %q failed for alert %s (ticket %s): %v", transition, in.AlertID, in.TicketKey, err)
		return
	}
	in.TicketStatus = newStatus
	log.Printf("Ticket %s moved to %q for alert %s", in.TicketKey, newStatus, in.AlertID)
}
