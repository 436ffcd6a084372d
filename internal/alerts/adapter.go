// Package alerts normalizes webhook payloads from external monitoring
// systems into alerts the correlation engine can receive.
package alerts

import (
	"sort"
	"strings"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
)

// Defaults applied to webhook alerts that carry no explicit values.
const (
	DefaultEnvironment = "Production"
	DefaultTimeout     = 86400
	EventTypeWebhook   = "webhookAlert"
)

// Adapter parses one monitoring system's webhook payload. A single
// webhook can carry multiple alerts (Alertmanager groups them).
type Adapter interface {
	// Source returns the source name used in the webhook URL
	// (e.g. "alertmanager", "zabbix").
	Source() string

	// Parse converts the raw request body into alerts.
	Parse(body []byte) ([]*database.Alert, error)
}

// severityAliases maps common source-specific severity spellings onto
// the alarm scale.
var severityAliases = map[string]alarm.Severity{
	"critical":      alarm.SeverityCritical,
	"disaster":      alarm.SeverityCritical,
	"emergency":     alarm.SeverityCritical,
	"fatal":         alarm.SeverityCritical,
	"p1":            alarm.SeverityCritical,
	"high":          alarm.SeverityHigh,
	"severe":        alarm.SeverityHigh,
	"error":         alarm.SeverityHigh,
	"p2":            alarm.SeverityHigh,
	"major":         alarm.SeverityMajor,
	"average":       alarm.SeverityMinor,
	"minor":         alarm.SeverityMinor,
	"warning":       alarm.SeverityWarning,
	"warn":          alarm.SeverityWarning,
	"p3":            alarm.SeverityWarning,
	"info":          alarm.SeverityInformational,
	"informational": alarm.SeverityInformational,
	"notice":        alarm.SeverityInformational,
	"low":           alarm.SeverityInformational,
	"p4":            alarm.SeverityInformational,
	"debug":         alarm.SeverityDebug,
	"ok":            alarm.SeverityNormal,
	"normal":        alarm.SeverityNormal,
	"success":       alarm.SeverityNormal,
}

// NormalizeSeverity maps a source-specific severity string onto the
// alarm scale. Unrecognized values come back as warning, the safe
// middle of the scale.
func NormalizeSeverity(severity string) alarm.Severity {
	if s, ok := severityAliases[strings.ToLower(strings.TrimSpace(severity))]; ok {
		return s
	}
	return alarm.SeverityWarning
}

// IsResolved reports whether a source status string means recovery.
// Resolved alerts are normalized to severity "normal" so the state
// machine closes the open row instead of re-raising it.
func IsResolved(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "resolved", "ok", "recovered", "recovery", "inactive":
		return true
	}
	return false
}

// LabelTags flattens a label map into sorted "key:value" tags.
func LabelTags(labels map[string]string) database.StringArray {
	if len(labels) == 0 {
		return nil
	}
	tags := make(database.StringArray, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			continue
		}
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags)
	return tags
}

// Finalize fills in the fields every webhook alert needs before it
// enters the correlation pipeline.
func Finalize(alert *database.Alert, source string, rawBody []byte) *database.Alert {
	if alert.Environment == "" {
		alert.Environment = DefaultEnvironment
	}
	if alert.Severity == "" {
		alert.Severity = alarm.DefaultNormalSeverity
	}
	if alert.Timeout == 0 {
		alert.Timeout = DefaultTimeout
	}
	alert.Origin = "webhook/" + source
	alert.EventType = EventTypeWebhook
	alert.RawData = string(rawBody)
	return alert
}
