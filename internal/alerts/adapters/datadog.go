package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/alerts"
	"github.com/alerthub/alerthub/internal/database"
)

// DatadogAdapter parses Datadog monitor webhooks.
type DatadogAdapter struct{}

func NewDatadogAdapter() *DatadogAdapter {
	return &DatadogAdapter{}
}

type DatadogPayload struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	AlertType   string   `json:"alert_type"`
	EventType   string   `json:"event_type"`
	Priority    string   `json:"priority"`
	AlertID     string   `json:"alert_id"`
	AlertTitle  string   `json:"alert_title"`
	AlertStatus string   `json:"alert_status"`
	Hostname    string   `json:"hostname"`
	Date        int64    `json:"date"`
	Tags        []string `json:"tags"`
	AlertMetric string   `json:"alert_metric"`
	AlertQuery  string   `json:"alert_query"`
	AlertScope  string   `json:"alert_scope"`
	LastUpdated int64    `json:"last_updated"`
}

func (a *DatadogAdapter) Source() string {
	return "datadog"
}

func (a *DatadogAdapter) Parse(body []byte) ([]*database.Alert, error) {
	var payload DatadogPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse datadog payload: %w", err)
	}

	event := payload.AlertTitle
	if event == "" {
		event = payload.Title
	}
	if event == "" {
		return nil, fmt.Errorf("datadog payload missing title")
	}

	tagMap := datadogTagMap(payload.Tags)

	resource := payload.Hostname
	if resource == "" {
		resource = tagMap["host"]
	}

	severity := datadogSeverity(payload.AlertType, payload.Priority)
	if datadogRecovered(payload.AlertStatus) {
		severity = alarm.DefaultNormalSeverity
	}

	alert := &database.Alert{
		Resource:    resource,
		Event:       event,
		Environment: tagMap["environment"],
		Severity:    severity,
		Group:       "Datadog",
		Value:       payload.AlertMetric,
		Text:        payload.Body,
		Tags:        database.StringArray(payload.Tags),
	}
	if service := tagMap["service"]; service != "" {
		alert.Service = database.StringArray{service}
	}
	if payload.AlertQuery != "" {
		alert.Attributes.Extra = map[string]interface{}{"alert_query": payload.AlertQuery}
	}

	return []*database.Alert{alerts.Finalize(alert, a.Source(), body)}, nil
}

// datadogSeverity maps alert_type, falling back to priority, onto the
// alarm scale.
func datadogSeverity(alertType, priority string) alarm.Severity {
	switch strings.ToLower(alertType) {
	case "error":
		return alarm.SeverityCritical
	case "warning":
		return alarm.SeverityWarning
	case "info", "success":
		return alarm.SeverityInformational
	}

	switch strings.ToLower(priority) {
	case "low":
		return alarm.SeverityInformational
	}
	return alarm.SeverityWarning
}

func datadogRecovered(alertStatus string) bool {
	status := strings.ToLower(alertStatus)
	return strings.Contains(status, "recovered") ||
		strings.Contains(status, "resolved") ||
		strings.Contains(status, "ok")
}

// datadogTagMap indexes "key:value" tags; bare tags get value "true".
func datadogTagMap(tags []string) map[string]string {
	result := make(map[string]string, len(tags))
	for _, tag := range tags {
		parts := strings.SplitN(tag, ":", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		} else {
			result[tag] = "true"
		}
	}
	return result
}
