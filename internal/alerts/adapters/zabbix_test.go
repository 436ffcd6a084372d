package adapters

import (
	"testing"

	"github.com/alerthub/alerthub/internal/alarm"
)

func TestZabbixAdapter_Source(t *testing.T) {
	adapter := NewZabbixAdapter()
	if adapter.Source() != "zabbix" {
		t.Errorf("Expected source 'zabbix', got '%s'", adapter.Source())
	}
}

func TestZabbixAdapter_Parse_ProblemAlert(t *testing.T) {
	adapter := NewZabbixAdapter()

	payload := []byte(`{
		"event_time": "2024-01-15 10:30:00",
		"alert_name": "CPU Load High",
		"severity": "High",
		"priority": "4",
		"metric_name": "system.cpu.load[percpu,avg1]",
		"metric_value": "8.5",
		"trigger_expression": "{host:system.cpu.load[percpu,avg1].avg(5m)}>5",
		"pending_duration": "5m",
		"event_id": "12345",
		"hardware": "db-server-01",
		"event_status": "PROBLEM",
		"runbook_url": "https://runbooks.example.com/cpu-load"
	}`)

	parsed, err := adapter.Parse(payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(parsed))
	}

	alert := parsed[0]
	if alert.Event != "CPU Load High" {
		t.Errorf("Expected Event 'CPU Load High', got '%s'", alert.Event)
	}
	if alert.Resource != "db-server-01" {
		t.Errorf("Expected Resource 'db-server-01', got '%s'", alert.Resource)
	}
	if alert.Severity != alarm.SeverityHigh {
		t.Errorf("Expected severity 'high', got '%s'", alert.Severity)
	}
	if alert.Value != "8.5" {
		t.Errorf("Expected Value '8.5', got '%s'", alert.Value)
	}
	if alert.Origin != "webhook/zabbix" {
		t.Errorf("Expected Origin 'webhook/zabbix', got '%s'", alert.Origin)
	}
	if alert.Environment != "Production" {
		t.Errorf("Expected default environment, got '%s'", alert.Environment)
	}
	if alert.Timeout != 86400 {
		t.Errorf("Expected default timeout, got %d", alert.Timeout)
	}
	if runbook, ok := alert.Attributes.Get("runbook_url"); !ok || runbook != "https://runbooks.example.com/cpu-load" {
		t.Errorf("Expected runbook_url attribute, got %v", runbook)
	}
	if !alert.Tags.Contains("pending:5m") {
		t.Errorf("Expected pending tag, got %v", alert.Tags)
	}
	if alert.RawData == "" {
		t.Error("Expected RawData to carry the original payload")
	}
}

func TestZabbixAdapter_Parse_ResolvedAlert(t *testing.T) {
	adapter := NewZabbixAdapter()

	payload := []byte(`{
		"alert_name": "Disk Space Low",
		"priority": "3",
		"event_id": "54321",
		"hardware": "storage-01",
		"event_status": "RESOLVED"
	}`)

	parsed, err := adapter.Parse(payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if parsed[0].Severity != alarm.SeverityNormal {
		t.Errorf("Expected resolved alert to carry severity 'normal', got '%s'", parsed[0].Severity)
	}
}

func TestZabbixAdapter_Parse_PrioritySeverities(t *testing.T) {
	tests := []struct {
		priority string
		want     alarm.Severity
	}{
		{"5", alarm.SeverityCritical},
		{"4", alarm.SeverityHigh},
		{"3", alarm.SeverityMinor},
		{"2", alarm.SeverityWarning},
		{"1", alarm.SeverityInformational},
		{"", alarm.SeverityWarning},
		{"unknown", alarm.SeverityWarning},
	}

	for _, tt := range tests {
		if got := zabbixSeverity(tt.priority); got != tt.want {
			t.Errorf("zabbixSeverity(%q) = %s, want %s", tt.priority, got, tt.want)
		}
	}
}

func TestZabbixAdapter_Parse_InvalidJSON(t *testing.T) {
	adapter := NewZabbixAdapter()
	if _, err := adapter.Parse([]byte(`not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestZabbixAdapter_Parse_MissingAlertName(t *testing.T) {
	adapter := NewZabbixAdapter()
	if _, err := adapter.Parse([]byte(`{"hardware": "web-01"}`)); err == nil {
		t.Error("Expected error when alert_name is missing")
	}
}
