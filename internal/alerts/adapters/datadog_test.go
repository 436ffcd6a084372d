package adapters

import (
	"testing"

	"github.com/alerthub/alerthub/internal/alarm"
)

func TestDatadogAdapter_Source(t *testing.T) {
	adapter := NewDatadogAdapter()
	if adapter.Source() != "datadog" {
		t.Errorf("Expected source 'datadog', got '%s'", adapter.Source())
	}
}

func TestDatadogAdapter_Parse_TriggeredMonitor(t *testing.T) {
	adapter := NewDatadogAdapter()

	payload := []byte(`{
		"id": "evt-99",
		"title": "[Triggered] Redis connection pool exhausted",
		"body": "Connection pool on cache-01 has no free slots",
		"alert_type": "error",
		"priority": "normal",
		"alert_id": "mon-812",
		"alert_title": "Redis connection pool exhausted",
		"alert_status": "Triggered",
		"hostname": "cache-01",
		"tags": ["service:cache", "environment:Production", "team:platform"],
		"alert_metric": "redis.pool.free",
		"alert_query": "avg(last_5m):avg:redis.pool.free{*} < 1"
	}`)

	parsed, err := adapter.Parse(payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(parsed))
	}

	alert := parsed[0]
	if alert.Event != "Redis connection pool exhausted" {
		t.Errorf("Unexpected Event: '%s'", alert.Event)
	}
	if alert.Resource != "cache-01" {
		t.Errorf("Expected Resource 'cache-01', got '%s'", alert.Resource)
	}
	if alert.Severity != alarm.SeverityCritical {
		t.Errorf("Expected 'error' to map to 'critical', got '%s'", alert.Severity)
	}
	if alert.Environment != "Production" {
		t.Errorf("Expected environment from tags, got '%s'", alert.Environment)
	}
	if len(alert.Service) != 1 || alert.Service[0] != "cache" {
		t.Errorf("Expected Service ['cache'], got %v", alert.Service)
	}
	if alert.Value != "redis.pool.free" {
		t.Errorf("Expected Value 'redis.pool.free', got '%s'", alert.Value)
	}
	if !alert.Tags.Contains("team:platform") {
		t.Errorf("Expected raw tags preserved, got %v", alert.Tags)
	}
	if alert.Origin != "webhook/datadog" {
		t.Errorf("Expected Origin 'webhook/datadog', got '%s'", alert.Origin)
	}
	if query, ok := alert.Attributes.Get("alert_query"); !ok || query != "avg(last_5m):avg:redis.pool.free{*} < 1" {
		t.Errorf("Expected alert_query attribute, got %v", query)
	}
}

func TestDatadogAdapter_Parse_RecoveredMonitor(t *testing.T) {
	adapter := NewDatadogAdapter()

	payload := []byte(`{
		"title": "[Recovered] Redis connection pool exhausted",
		"alert_type": "success",
		"alert_status": "Recovered",
		"hostname": "cache-01"
	}`)

	parsed, err := adapter.Parse(payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if parsed[0].Severity != alarm.SeverityNormal {
		t.Errorf("Expected recovered monitor to carry severity 'normal', got '%s'", parsed[0].Severity)
	}
}

func TestDatadogAdapter_Parse_HostFromTags(t *testing.T) {
	adapter := NewDatadogAdapter()

	payload := []byte(`{
		"title": "Disk almost full",
		"alert_type": "warning",
		"tags": ["host:db-07"]
	}`)

	parsed, err := adapter.Parse(payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if parsed[0].Resource != "db-07" {
		t.Errorf("Expected host tag as resource, got '%s'", parsed[0].Resource)
	}
}

func TestDatadogAdapter_Parse_SeverityMapping(t *testing.T) {
	tests := []struct {
		alertType string
		priority  string
		want      alarm.Severity
	}{
		{"error", "", alarm.SeverityCritical},
		{"warning", "", alarm.SeverityWarning},
		{"info", "", alarm.SeverityInformational},
		{"success", "", alarm.SeverityInformational},
		{"", "low", alarm.SeverityInformational},
		{"", "normal", alarm.SeverityWarning},
		{"", "", alarm.SeverityWarning},
	}

	for _, tt := range tests {
		if got := datadogSeverity(tt.alertType, tt.priority); got != tt.want {
			t.Errorf("datadogSeverity(%q, %q) = %s, want %s", tt.alertType, tt.priority, got, tt.want)
		}
	}
}

func TestDatadogAdapter_Parse_MissingTitle(t *testing.T) {
	adapter := NewDatadogAdapter()
	if _, err := adapter.Parse([]byte(`{"hostname": "cache-01"}`)); err == nil {
		t.Error("Expected error when title is missing")
	}
}

func TestDatadogAdapter_Parse_InvalidJSON(t *testing.T) {
	adapter := NewDatadogAdapter()
	if _, err := adapter.Parse([]byte(`null,`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestDatadogTagMap(t *testing.T) {
	m := datadogTagMap([]string{"service:web", "bare"})
	if m["service"] != "web" {
		t.Errorf("Expected service 'web', got '%s'", m["service"])
	}
	if m["bare"] != "true" {
		t.Errorf("Expected bare tag value 'true', got '%s'", m["bare"])
	}
}
