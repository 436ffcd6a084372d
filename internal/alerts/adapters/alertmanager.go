package adapters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/alerts"
	"github.com/alerthub/alerthub/internal/database"
)

// AlertmanagerAdapter parses Prometheus Alertmanager webhooks. One
// webhook carries a group of alerts; each becomes its own alert.
type AlertmanagerAdapter struct{}

func NewAlertmanagerAdapter() *AlertmanagerAdapter {
	return &AlertmanagerAdapter{}
}

// AlertmanagerPayload is the v4 webhook body Alertmanager sends.
type AlertmanagerPayload struct {
	Alerts            []AlertmanagerAlert `json:"alerts"`
	Status            string              `json:"status"`
	GroupLabels       map[string]string   `json:"groupLabels"`
	CommonLabels      map[string]string   `json:"commonLabels"`
	CommonAnnotations map[string]string   `json:"commonAnnotations"`
	ExternalURL       string              `json:"externalURL"`
	Version           string              `json:"version"`
	GroupKey          string              `json:"groupKey"`
}

// AlertmanagerAlert is one alert inside the grouped payload.
type AlertmanagerAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

func (a *AlertmanagerAdapter) Source() string {
	return "alertmanager"
}

func (a *AlertmanagerAdapter) Parse(body []byte) ([]*database.Alert, error) {
	var payload AlertmanagerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse alertmanager payload: %w", err)
	}
	if len(payload.Alerts) == 0 {
		return nil, fmt.Errorf("alertmanager payload contains no alerts")
	}

	out := make([]*database.Alert, 0, len(payload.Alerts))
	for i := range payload.Alerts {
		out = append(out, alerts.Finalize(a.parseAlert(payload.Alerts[i]), a.Source(), body))
	}
	return out, nil
}

func (a *AlertmanagerAdapter) parseAlert(am AlertmanagerAlert) *database.Alert {
	severity := alerts.NormalizeSeverity(am.Labels["severity"])
	if alerts.IsResolved(am.Status) {
		severity = alarm.DefaultNormalSeverity
	}

	text := am.Annotations["description"]
	if text == "" {
		text = am.Annotations["summary"]
	}

	alert := &database.Alert{
		Resource:    am.Labels["instance"],
		Event:       am.Labels["alertname"],
		Environment: environmentFromLabels(am.Labels),
		Severity:    severity,
		Group:       "Prometheus",
		Value:       am.Annotations["summary"],
		Text:        text,
		Tags:        alerts.LabelTags(am.Labels),
	}
	if job := am.Labels["job"]; job != "" {
		alert.Service = database.StringArray{job}
	}
	if runbook := am.Annotations["runbook_url"]; runbook != "" {
		alert.Attributes.Extra = map[string]interface{}{"runbook_url": runbook}
	}
	return alert
}

// environmentFromLabels honors an explicit environment label when the
// rule carries one.
func environmentFromLabels(labels map[string]string) string {
	if env := labels["environment"]; env != "" {
		return env
	}
	return ""
}
