package alarm

// Status is a lifecycle state of an alert.
type Status string

const (
	StatusOpen          Status = "open"
	StatusAssign        Status = "assign"
	StatusAck           Status = "ack"
	StatusInc           Status = "inc"
	StatusObserving     Status = "observing"
	StatusPending       Status = "pending"
	StatusEscalated     Status = "escalated"
	StatusFalsePositive Status = "false-positive"
	StatusFlap          Status = "flap"
	StatusShelved       Status = "shelved"
	StatusBlackout      Status = "blackout"
	StatusClosed        Status = "closed"
	StatusExpired       Status = "expired"
	StatusUnknown       Status = "unknown"
)

// DefaultStatus is the status assigned to newly received alerts.
const DefaultStatus = StatusOpen

// Action is an operator or system action applied to an alert.
type Action string

const (
	ActionOpen          Action = "open"
	ActionAssign        Action = "assign"
	ActionAck           Action = "ack"
	ActionUnack         Action = "unack"
	ActionShelve        Action = "shelve"
	ActionUnshelve      Action = "unshelve"
	ActionClose         Action = "close"
	ActionExpired       Action = "expired"
	ActionTimeout       Action = "timeout"
	ActionInc           Action = "inc"
	ActionWorkDone      Action = "aidone"
	ActionEscalate      Action = "esc"
	ActionEscalated     Action = "escalated"
	ActionFalsePositive Action = "false-positive"
	ActionFlap          Action = "flap"
	ActionUndo          Action = "undo"
)

// knownActions is the set of actions the state machine handles itself.
// Anything else is assumed to have been handled upstream and passes through.
var knownActions = map[Action]bool{
	ActionOpen:          true,
	ActionAssign:        true,
	ActionAck:           true,
	ActionUnack:         true,
	ActionShelve:        true,
	ActionUnshelve:      true,
	ActionClose:         true,
	ActionExpired:       true,
	ActionTimeout:       true,
	ActionInc:           true,
	ActionWorkDone:      true,
	ActionEscalate:      true,
	ActionEscalated:     true,
	ActionFalsePositive: true,
	ActionFlap:          true,
	ActionUndo:          true,
}

// IsKnownAction reports whether the state machine recognizes the action.
func IsKnownAction(a Action) bool {
	return knownActions[a]
}

// IsSuppressed reports whether the alert status means notifications are suppressed.
func IsSuppressed(status Status) bool {
	return status == StatusBlackout
}
