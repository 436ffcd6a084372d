package api

import (
	"time"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
)

// ========== Alert Types ==========

// DefaultTimeout is applied to received alerts that carry no timeout.
const DefaultTimeout = 86400

// DefaultEnvironment is applied to received alerts that carry no environment.
const DefaultEnvironment = "Production"

// ReceiveAlertRequest is the request body for POST /api/alerts.
type ReceiveAlertRequest struct {
	Resource    string                   `json:"resource" validate:"required,max=255"`
	Event       string                   `json:"event" validate:"required,max=255"`
	Environment string                   `json:"environment" validate:"omitempty,max=64"`
	Severity    string                   `json:"severity"`
	Correlate   []string                 `json:"correlate,omitempty"`
	Service     []string                 `json:"service,omitempty"`
	Group       string                   `json:"group,omitempty"`
	Value       string                   `json:"value,omitempty"`
	Text        string                   `json:"text,omitempty"`
	Tags        []string                 `json:"tags,omitempty"`
	Attributes  database.AlertAttributes `json:"attributes,omitempty"`
	Origin      string                   `json:"origin,omitempty"`
	Type        string                   `json:"type,omitempty"`
	Timeout     *int                     `json:"timeout,omitempty"`
	RawData     string                   `json:"rawData,omitempty"`
	Customer    string                   `json:"customer,omitempty"`
}

// AlertActionRequest is the request body for PUT /api/alerts/:id/action.
type AlertActionRequest struct {
	Action string `json:"action" validate:"required"`
	Text   string `json:"text,omitempty"`
	User   string `json:"user,omitempty"`
}

// ========== Move Types ==========

// MoveDirective is one alert entry of a move request.
type MoveDirective struct {
	ID         string `json:"id" validate:"required"`
	IsIncident bool   `json:"isIncident"`
	ParentID   string `json:"parentId,omitempty"`
	All        bool   `json:"all,omitempty"`
}

// MoveAlertsRequest is the request body for POST /api/alerts/move/:target.
type MoveAlertsRequest struct {
	Alerts []MoveDirective `json:"alerts" validate:"required,min=1,dive"`
	User   string          `json:"user,omitempty"`
}

// ========== Pattern Types ==========

// CreatePatternRequest is the request body for POST /api/patterns.
type CreatePatternRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	Rule     string `json:"rule" validate:"required,min=1"`
	Priority int    `json:"priority"`
	IsActive *bool  `json:"is_active"`
}

// UpdatePatternRequest is the request body for PUT /api/patterns/:id.
type UpdatePatternRequest struct {
	Name     *string `json:"name"`
	Rule     *string `json:"rule"`
	Priority *int    `json:"priority"`
	IsActive *bool   `json:"is_active"`
}

// ========== Issue Types ==========

// UpdateIssueRequest is the request body for PUT /api/issues/:id.
type UpdateIssueRequest struct {
	Summary     *string `json:"summary"`
	DutyAdmin   *string `json:"duty_admin"`
	Description *string `json:"description"`
}

// IssueAlertsRequest is the request body for PUT and DELETE
// /api/issues/:id/alerts.
type IssueAlertsRequest struct {
	Alerts []string `json:"alerts" validate:"required,min=1"`
	User   string   `json:"user,omitempty"`
}

// MergeIssuesRequest is the request body for POST /api/issues/merge.
type MergeIssuesRequest struct {
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
	User     string `json:"user,omitempty"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// ========== Mapper Output Types ==========

// AlertListItem is a compact representation of an alert for list views.
// It omits large fields like RawData and History to reduce response size.
type AlertListItem struct {
	ID              string         `json:"id"`
	Resource        string         `json:"resource"`
	Event           string         `json:"event"`
	Environment     string         `json:"environment"`
	Severity        alarm.Severity `json:"severity"`
	Status          alarm.Status   `json:"status"`
	Value           string         `json:"value,omitempty"`
	Text            string         `json:"text,omitempty"`
	Tags            []string       `json:"tags"`
	Incident        bool           `json:"incident"`
	DuplicateCount  int            `json:"duplicateCount"`
	ChildCount      int            `json:"childCount"`
	PatternName     string         `json:"patternName,omitempty"`
	TicketKey       string         `json:"ticketKey,omitempty"`
	IssueID         *string        `json:"issueId,omitempty"`
	CreateTime      time.Time      `json:"createTime"`
	LastReceiveTime time.Time      `json:"lastReceiveTime"`
}

// ReceiveOutcome is the response body for POST /api/alerts.
type ReceiveOutcome struct {
	ID      string          `json:"id"`
	Outcome string          `json:"outcome"`
	Alert   *database.Alert `json:"alert,omitempty"`
}
