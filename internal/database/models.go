package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/alerthub/alerthub/internal/alarm"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// StringArray stores a list of strings as a JSONB column so the same model
// works on both PostgreSQL and the sqlite test databases.
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok := value.(string); ok {
			bytes = []byte(str)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(s))
}

// Contains reports whether the array holds the given value.
func (s StringArray) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// AlertAttributes is the typed attribute map carried by every alert.
// Keys the server does not recognize round-trip through Extra untouched.
type AlertAttributes struct {
	Incident         bool
	WasIncident      bool
	DuplicateAlerts  []string
	Patterns         []string
	PatternID        string
	PatternName      string
	TicketKey        string
	TicketURL        string
	TicketStatus     string
	HostCritical     string
	AckedBy          string
	ExternalResolved bool
	StatusDurations  map[string]float64
	Extra            map[string]interface{}
}

// Attribute keys understood by the server. Everything else goes to Extra.
const (
	attrIncident         = "incident"
	attrWasIncident      = "was_incident"
	attrDuplicateAlerts  = "duplicate_alerts"
	attrPatterns         = "patterns"
	attrPatternID        = "pattern_id"
	attrPatternName      = "pattern_name"
	attrTicketKey        = "ticket_key"
	attrTicketURL        = "ticket_url"
	attrTicketStatus     = "ticket_status"
	attrHostCritical     = "host_critical"
	attrAckedBy          = "acked_by"
	attrExternalResolved = "external_resolved"
	attrStatusDurations  = "status_durations"
)

// MarshalJSON flattens the typed fields and Extra into one object.
func (a AlertAttributes) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(a.Extra)+8)
	for k, v := range a.Extra {
		m[k] = v
	}
	m[attrIncident] = a.Incident
	m[attrWasIncident] = a.WasIncident
	if a.DuplicateAlerts != nil {
		m[attrDuplicateAlerts] = a.DuplicateAlerts
	}
	if a.Patterns != nil {
		m[attrPatterns] = a.Patterns
	}
	if a.PatternID != "" {
		m[attrPatternID] = a.PatternID
	}
	if a.PatternName != "" {
		m[attrPatternName] = a.PatternName
	}
	if a.TicketKey != "" {
		m[attrTicketKey] = a.TicketKey
	}
	if a.TicketURL != "" {
		m[attrTicketURL] = a.TicketURL
	}
	if a.TicketStatus != "" {
		m[attrTicketStatus] = a.TicketStatus
	}
	if a.HostCritical != "" {
		m[attrHostCritical] = a.HostCritical
	}
	if a.AckedBy != "" {
		m[attrAckedBy] = a.AckedBy
	}
	if a.ExternalResolved {
		m[attrExternalResolved] = true
	}
	if a.StatusDurations != nil {
		m[attrStatusDurations] = a.StatusDurations
	}
	return json.Marshal(m)
}

// UnmarshalJSON picks out the known keys and keeps the rest in Extra.
func (a *AlertAttributes) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*a = AlertAttributes{}
	for k, v := range m {
		switch k {
		case attrIncident:
			a.Incident, _ = v.(bool)
		case attrWasIncident:
			a.WasIncident, _ = v.(bool)
		case attrDuplicateAlerts:
			a.DuplicateAlerts = toStringSlice(v)
		case attrPatterns:
			a.Patterns = toStringSlice(v)
		case attrPatternID:
			a.PatternID, _ = v.(string)
		case attrPatternName:
			a.PatternName, _ = v.(string)
		case attrTicketKey:
			a.TicketKey, _ = v.(string)
		case attrTicketURL:
			a.TicketURL, _ = v.(string)
		case attrTicketStatus:
			a.TicketStatus, _ = v.(string)
		case attrHostCritical:
			a.HostCritical, _ = v.(string)
		case attrAckedBy:
			a.AckedBy, _ = v.(string)
		case attrExternalResolved:
			a.ExternalResolved, _ = v.(bool)
		case attrStatusDurations:
			a.StatusDurations = toFloatMap(v)
		default:
			if a.Extra == nil {
				a.Extra = make(map[string]interface{})
			}
			a.Extra[k] = v
		}
	}
	return nil
}

// Scan implements the sql.Scanner interface
func (a *AlertAttributes) Scan(value interface{}) error {
	if value == nil {
		*a = AlertAttributes{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, a)
}

// Value implements the driver.Valuer interface
func (a AlertAttributes) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Get returns an attribute value by its wire key, typed fields included.
func (a *AlertAttributes) Get(key string) (interface{}, bool) {
	switch key {
	case attrIncident:
		return a.Incident, true
	case attrWasIncident:
		return a.WasIncident, true
	case attrDuplicateAlerts:
		return a.DuplicateAlerts, a.DuplicateAlerts != nil
	case attrPatterns:
		return a.Patterns, a.Patterns != nil
	case attrPatternID:
		return a.PatternID, a.PatternID != ""
	case attrPatternName:
		return a.PatternName, a.PatternName != ""
	case attrTicketKey:
		return a.TicketKey, a.TicketKey != ""
	case attrTicketURL:
		return a.TicketURL, a.TicketURL != ""
	case attrTicketStatus:
		return a.TicketStatus, a.TicketStatus != ""
	case attrHostCritical:
		return a.HostCritical, a.HostCritical != ""
	case attrAckedBy:
		return a.AckedBy, a.AckedBy != ""
	case attrExternalResolved:
		return a.ExternalResolved, true
	}
	v, ok := a.Extra[key]
	return v, ok
}

func toStringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toFloatMap(v interface{}) map[string]float64 {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, val := range m {
		if f, ok := val.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// HistoryEntry is one append-only record of an alert change.
type HistoryEntry struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	Severity   alarm.Severity `json:"severity"`
	Status     alarm.Status   `json:"status"`
	Value      string         `json:"value,omitempty"`
	Text       string         `json:"text,omitempty"`
	ChangeType string         `json:"type"`
	UpdateTime time.Time      `json:"updateTime"`
	User       string         `json:"user,omitempty"`
	Timeout    int            `json:"timeout,omitempty"`
}

// Change types recorded in alert history.
const (
	ChangeSeverity = "severity"
	ChangeStatus   = "status"
	ChangeAction   = "action"
	ChangeNew      = "new"
	ChangeValue    = "value"
)

// History is the newest-first change log of an alert, stored as JSONB.
type History []HistoryEntry

// Scan implements the sql.Scanner interface
func (h *History) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, h)
}

// Value implements the driver.Valuer interface
func (h History) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal([]HistoryEntry{})
	}
	return json.Marshal([]HistoryEntry(h))
}

// Prepend inserts a new entry at the head and truncates to limit entries.
func (h History) Prepend(entry HistoryEntry, limit int) History {
	out := make(History, 0, len(h)+1)
	out = append(out, entry)
	out = append(out, h...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Alert is a single received alert. An alert whose Attributes.Incident flag
// is set acts as the parent of a correlation group; its duplicate children
// reference it through the duplicate list.
type Alert struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	Resource         string          `gorm:"size:255;not null;index:idx_alerts_env_resource" json:"resource"`
	Event            string          `gorm:"size:255;not null;index" json:"event"`
	Environment      string          `gorm:"size:64;index:idx_alerts_env_resource" json:"environment"`
	Severity         alarm.Severity  `gorm:"size:32" json:"severity"`
	Correlate        StringArray     `gorm:"type:jsonb" json:"correlate"`
	Status           alarm.Status    `gorm:"size:32;index" json:"status"`
	Service          StringArray     `gorm:"type:jsonb" json:"service"`
	Group            string          `gorm:"size:255;column:group_name" json:"group"`
	Value            string          `gorm:"size:255" json:"value"`
	Text             string          `gorm:"type:text" json:"text"`
	Tags             StringArray     `gorm:"type:jsonb" json:"tags"`
	Attributes       AlertAttributes `gorm:"type:jsonb" json:"attributes"`
	Origin           string          `gorm:"size:255" json:"origin"`
	EventType        string          `gorm:"size:64;column:event_type" json:"type"`
	CreateTime       time.Time       `gorm:"index" json:"createTime"`
	Timeout          int             `json:"timeout"`
	RawData          string          `gorm:"type:text" json:"rawData,omitempty"`
	Customer         string          `gorm:"size:255" json:"customer,omitempty"`
	DuplicateCount   int             `json:"duplicateCount"`
	Repeat           bool            `json:"repeat"`
	PreviousSeverity alarm.Severity  `gorm:"size:32" json:"previousSeverity"`
	TrendIndication  alarm.Trend     `gorm:"size:32" json:"trendIndication"`
	ReceiveTime      time.Time       `json:"receiveTime"`
	LastReceiveID    string          `gorm:"size:36" json:"lastReceiveId"`
	LastReceiveTime  time.Time       `gorm:"index" json:"lastReceiveTime"`
	UpdateTime       time.Time       `json:"updateTime"`
	IssueID          *string         `gorm:"size:36;index" json:"issueId,omitempty"`
	History          History         `gorm:"type:jsonb" json:"history"`
}

func (Alert) TableName() string {
	return "alerts"
}

// IsIncident reports whether this alert is a correlation group parent.
func (a *Alert) IsIncident() bool {
	return a.Attributes.Incident
}

// HasChildren reports whether the alert groups any duplicates.
func (a *Alert) HasChildren() bool {
	return len(a.Attributes.DuplicateAlerts) > 0
}

// Pattern is a stored grouping rule evaluated against incoming alerts.
// Rules are evaluated in ascending Priority order.
type Pattern struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Name       string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Rule       string    `gorm:"type:text;not null" json:"rule"`
	Priority   int       `gorm:"not null;default:99;index" json:"priority"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	CreateTime time.Time `json:"create_time"`
	UpdateTime time.Time `json:"update_time"`
}

func (Pattern) TableName() string {
	return "patterns"
}

// IssueStatus is the lifecycle state of an issue.
type IssueStatus string

const (
	IssueStatusOpen   IssueStatus = "open"
	IssueStatusClosed IssueStatus = "closed"
)

// Issue groups incident alerts that concern the same outage.
// Its aggregate fields are recomputed from current members on every change.
type Issue struct {
	ID            string      `gorm:"primaryKey;size:36" json:"id"`
	Summary       string      `gorm:"size:512" json:"summary"`
	Severity      string      `gorm:"size:32" json:"severity"`
	HostCritical  string      `gorm:"size:8;default:'0'" json:"host_critical"`
	DutyAdmin     string      `gorm:"size:255" json:"duty_admin"`
	Description   string      `gorm:"type:text" json:"description"`
	Status        IssueStatus `gorm:"size:32;index" json:"status"`
	CreateTime    time.Time   `json:"create_time"`
	LastAlertTime *time.Time  `json:"last_alert_time,omitempty"`
	ResolveTime   *time.Time  `json:"resolve_time,omitempty"`
	TicketKey     string      `gorm:"size:64" json:"ticket_key,omitempty"`
	Alerts        StringArray `gorm:"type:jsonb" json:"alerts"`
	Hosts         StringArray `gorm:"type:jsonb" json:"hosts"`
	ProjectGroups StringArray `gorm:"type:jsonb" json:"project_groups"`
	InfoSystems   StringArray `gorm:"type:jsonb" json:"info_systems"`
	Attributes    JSONB       `gorm:"type:jsonb" json:"attributes"`
	History       History     `gorm:"type:jsonb" json:"history"`
}

func (Issue) TableName() string {
	return "issues"
}

// IsOpen reports whether the issue still accepts alerts.
func (i *Issue) IsOpen() bool {
	return i.Status != IssueStatusClosed
}

// PatternMatch is an audit record of a pattern attaching an alert to an
// incident.
type PatternMatch struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PatternID   string    `gorm:"size:36;index" json:"pattern_id"`
	PatternName string    `gorm:"size:255" json:"pattern_name"`
	IncidentID  string    `gorm:"size:36;index" json:"incident_id"`
	AlertID     string    `gorm:"size:36;index" json:"alert_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func (PatternMatch) TableName() string {
	return "pattern_matches"
}

// MoveRecord is an audit record of a move or merge between correlation
// groups. Updates holds the applied per-alert attribute changes.
type MoveRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	User      string    `gorm:"size:255" json:"user"`
	Updates   JSONB     `gorm:"type:jsonb" json:"updates"`
	CreatedAt time.Time `json:"created_at"`
}

func (MoveRecord) TableName() string {
	return "move_records"
}

// Blackout suppresses alerts matching its scope for a time window.
type Blackout struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Environment string    `gorm:"size:64;not null" json:"environment"`
	Resource    string    `gorm:"size:255" json:"resource,omitempty"`
	Event       string    `gorm:"size:255" json:"event,omitempty"`
	Group       string    `gorm:"size:255;column:group_name" json:"group,omitempty"`
	Tags        StringArray `gorm:"type:jsonb" json:"tags"`
	StartTime   time.Time `gorm:"index" json:"start_time"`
	EndTime     time.Time `gorm:"index" json:"end_time"`
	CreateTime  time.Time `json:"create_time"`
}

func (Blackout) TableName() string {
	return "blackouts"
}

// IsActiveAt reports whether the blackout window covers the given time.
func (b *Blackout) IsActiveAt(t time.Time) bool {
	return !t.Before(b.StartTime) && t.Before(b.EndTime)
}

// Matches reports whether an alert falls inside the blackout scope.
// Empty scope fields match everything.
func (b *Blackout) Matches(a *Alert) bool {
	if b.Environment != "" && b.Environment != a.Environment {
		return false
	}
	if b.Resource != "" && b.Resource != a.Resource {
		return false
	}
	if b.Event != "" && b.Event != a.Event {
		return false
	}
	if b.Group != "" && b.Group != a.Group {
		return false
	}
	for _, tag := range b.Tags {
		if !a.Tags.Contains(tag) {
			return false
		}
	}
	return true
}
