// Package adapters contains the per-source webhook payload parsers.
package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/alerts"
	"github.com/alerthub/alerthub/internal/database"
)

// ZabbixAdapter parses Zabbix webhook payloads.
type ZabbixAdapter struct{}

func NewZabbixAdapter() *ZabbixAdapter {
	return &ZabbixAdapter{}
}

// ZabbixPayload is the webhook body Zabbix media types send.
type ZabbixPayload struct {
	EventTime         string `json:"event_time"`
	AlertName         string `json:"alert_name"`
	Severity          string `json:"severity"`
	Priority          string `json:"priority"`
	MetricName        string `json:"metric_name"`
	MetricValue       string `json:"metric_value"`
	TriggerExpression string `json:"trigger_expression"`
	PendingDuration   string `json:"pending_duration"`
	EventID           string `json:"event_id"`
	Hardware          string `json:"hardware"`
	EventStatus       string `json:"event_status"`
	RunbookURL        string `json:"runbook_url"`
}

func (a *ZabbixAdapter) Source() string {
	return "zabbix"
}

func (a *ZabbixAdapter) Parse(body []byte) ([]*database.Alert, error) {
	var payload ZabbixPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse zabbix payload: %w", err)
	}
	if payload.AlertName == "" {
		return nil, fmt.Errorf("zabbix payload missing alert_name")
	}

	severity := zabbixSeverity(payload.Priority)
	if alerts.IsResolved(payload.EventStatus) {
		severity = alarm.DefaultNormalSeverity
	}

	tags := database.StringArray{}
	if payload.TriggerExpression != "" {
		tags = append(tags, "trigger:"+payload.TriggerExpression)
	}
	if payload.PendingDuration != "" {
		tags = append(tags, "pending:"+payload.PendingDuration)
	}

	alert := &database.Alert{
		Resource: payload.Hardware,
		Event:    payload.AlertName,
		Severity: severity,
		Group:    "Zabbix",
		Value:    payload.MetricValue,
		Text:     fmt.Sprintf("Metric: %s = %s", payload.MetricName, payload.MetricValue),
		Tags:     tags,
	}
	if payload.RunbookURL != "" {
		alert.Attributes.Extra = map[string]interface{}{"runbook_url": payload.RunbookURL}
	}

	return []*database.Alert{alerts.Finalize(alert, a.Source(), body)}, nil
}

// zabbixSeverity maps Zabbix trigger priority (1-5) onto the alarm scale.
func zabbixSeverity(priority string) alarm.Severity {
	switch priority {
	case "5": // Disaster
		return alarm.SeverityCritical
	case "4": // High
		return alarm.SeverityHigh
	case "3": // Average
		return alarm.SeverityMinor
	case "2": // Warning
		return alarm.SeverityWarning
	case "1": // Information
		return alarm.SeverityInformational
	default:
		return alarm.SeverityWarning
	}
}
