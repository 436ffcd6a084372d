package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/alerts"
	"github.com/alerthub/alerthub/internal/database"
)

// PagerDutyAdapter parses PagerDuty v3 webhooks.
type PagerDutyAdapter struct{}

func NewPagerDutyAdapter() *PagerDutyAdapter {
	return &PagerDutyAdapter{}
}

type PagerDutyPayload struct {
	Event struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Data      struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Status      string `json:"status"`
			Urgency     string `json:"urgency"`
			Priority    struct {
				ID      string `json:"id"`
				Summary string `json:"summary"`
			} `json:"priority"`
			Service struct {
				ID      string `json:"id"`
				Name    string `json:"name"`
				Summary string `json:"summary"`
			} `json:"service"`
			Source string `json:"source"`
			Body   struct {
				Type    string `json:"type"`
				Details struct {
					Runbook string `json:"runbook"`
				} `json:"details"`
			} `json:"body"`
		} `json:"data"`
	} `json:"event"`
}

func (a *PagerDutyAdapter) Source() string {
	return "pagerduty"
}

func (a *PagerDutyAdapter) Parse(body []byte) ([]*database.Alert, error) {
	var payload PagerDutyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse pagerduty payload: %w", err)
	}
	data := payload.Event.Data
	if data.Title == "" {
		return nil, fmt.Errorf("pagerduty payload missing event.data.title")
	}

	severity := pagerdutySeverity(data.Urgency, data.Priority.Summary)
	if strings.Contains(payload.Event.EventType, "resolved") {
		severity = alarm.DefaultNormalSeverity
	}

	tags := database.StringArray{}
	if data.Urgency != "" {
		tags = append(tags, "urgency:"+data.Urgency)
	}
	if data.Priority.Summary != "" {
		tags = append(tags, "priority:"+data.Priority.Summary)
	}

	alert := &database.Alert{
		Resource: data.Source,
		Event:    data.Title,
		Severity: severity,
		Group:    "PagerDuty",
		Text:     data.Description,
		Tags:     tags,
	}
	if data.Service.Name != "" {
		alert.Service = database.StringArray{data.Service.Name}
	}
	if runbook := data.Body.Details.Runbook; runbook != "" {
		alert.Attributes.Extra = map[string]interface{}{"runbook_url": runbook}
	}

	return []*database.Alert{alerts.Finalize(alert, a.Source(), body)}, nil
}

// pagerdutySeverity maps incident priority, falling back to urgency,
// onto the alarm scale.
func pagerdutySeverity(urgency, priority string) alarm.Severity {
	priority = strings.ToLower(priority)
	if strings.Contains(priority, "p1") || strings.Contains(priority, "critical") {
		return alarm.SeverityCritical
	}
	if strings.Contains(priority, "p2") || strings.Contains(priority, "high") {
		return alarm.SeverityHigh
	}

	switch strings.ToLower(urgency) {
	case "high":
		return alarm.SeverityHigh
	case "low":
		return alarm.SeverityInformational
	default:
		return alarm.SeverityWarning
	}
}
