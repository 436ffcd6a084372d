package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/alerts"
	"github.com/alerthub/alerthub/internal/database"
)

// GrafanaAdapter parses Grafana alerting webhooks. Both the unified
// alerting format and the legacy one are accepted; the alerts array
// distinguishes them.
type GrafanaAdapter struct{}

func NewGrafanaAdapter() *GrafanaAdapter {
	return &GrafanaAdapter{}
}

type GrafanaPayload struct {
	// Unified alerting
	Receiver string         `json:"receiver"`
	Status   string         `json:"status"`
	Alerts   []GrafanaAlert `json:"alerts"`

	// Legacy alerting
	RuleName    string `json:"ruleName"`
	State       string `json:"state"`
	Message     string `json:"message"`
	RuleURL     string `json:"ruleUrl"`
	RuleID      int    `json:"ruleId"`
	Title       string `json:"title"`
	OrgID       int    `json:"orgId"`
	DashboardID int    `json:"dashboardId"`
	PanelID     int    `json:"panelId"`
	EvalMatches []struct {
		Value  float64           `json:"value"`
		Metric string            `json:"metric"`
		Tags   map[string]string `json:"tags"`
	} `json:"evalMatches"`
}

// GrafanaAlert is one alert in the unified alerting format.
type GrafanaAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     string            `json:"startsAt"`
	EndsAt       string            `json:"endsAt"`
	Fingerprint  string            `json:"fingerprint"`
	GeneratorURL string            `json:"generatorURL"`
}

func (a *GrafanaAdapter) Source() string {
	return "grafana"
}

func (a *GrafanaAdapter) Parse(body []byte) ([]*database.Alert, error) {
	var payload GrafanaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse grafana payload: %w", err)
	}

	if len(payload.Alerts) > 0 {
		out := make([]*database.Alert, 0, len(payload.Alerts))
		for i := range payload.Alerts {
			out = append(out, alerts.Finalize(a.parseUnified(payload.Alerts[i]), a.Source(), body))
		}
		return out, nil
	}

	if payload.RuleName == "" && payload.Title == "" {
		return nil, fmt.Errorf("grafana payload contains no alerts")
	}
	return []*database.Alert{alerts.Finalize(a.parseLegacy(payload), a.Source(), body)}, nil
}

func (a *GrafanaAdapter) parseUnified(ga GrafanaAlert) *database.Alert {
	event := ga.Labels["alertname"]
	if event == "" {
		event = "GrafanaAlert"
	}

	severity := alerts.NormalizeSeverity(ga.Labels["severity"])
	if alerts.IsResolved(ga.Status) {
		severity = alarm.DefaultNormalSeverity
	}

	alert := &database.Alert{
		Resource:    ga.Labels["instance"],
		Event:       event,
		Environment: environmentFromLabels(ga.Labels),
		Severity:    severity,
		Group:       "Grafana",
		Value:       ga.Annotations["summary"],
		Text:        ga.Annotations["description"],
		Tags:        alerts.LabelTags(ga.Labels),
	}
	if job := ga.Labels["job"]; job != "" {
		alert.Service = database.StringArray{job}
	}
	return alert
}

func (a *GrafanaAdapter) parseLegacy(payload GrafanaPayload) *database.Alert {
	event := payload.RuleName
	if event == "" {
		event = payload.Title
	}

	severity := legacyStateSeverity(payload.State)

	var resource, value string
	var tags database.StringArray
	if len(payload.EvalMatches) > 0 {
		match := payload.EvalMatches[0]
		resource = match.Tags["instance"]
		value = fmt.Sprintf("%v", match.Value)
		tags = alerts.LabelTags(match.Tags)
	}

	alert := &database.Alert{
		Resource: resource,
		Event:    event,
		Severity: severity,
		Group:    "Grafana",
		Value:    value,
		Text:     payload.Message,
		Tags:     tags,
	}
	if payload.RuleURL != "" {
		alert.Attributes.Extra = map[string]interface{}{"rule_url": payload.RuleURL}
	}
	return alert
}

// legacyStateSeverity maps the legacy rule state onto the alarm scale.
func legacyStateSeverity(state string) alarm.Severity {
	switch strings.ToLower(state) {
	case "alerting":
		return alarm.SeverityCritical
	case "pending":
		return alarm.SeverityWarning
	case "no_data":
		return alarm.SeverityIndeterminate
	case "ok", "paused":
		return alarm.DefaultNormalSeverity
	default:
		return alarm.SeverityWarning
	}
}
