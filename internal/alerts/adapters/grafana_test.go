package adapters

import (
	"testing"

	"github.com/alerthub/alerthub/internal/alarm"
)

func TestGrafanaAdapter_Source(t *testing.T) {
	adapter := NewGrafanaAdapter()
	if adapter.Source() != "grafana" {
		t.Errorf("Expected source 'grafana', got '%s'", adapter.Source())
	}
}

func TestGrafanaAdapter_Parse_UnifiedFiring(t *testing.T) {
	adapter := NewGrafanaAdapter()

	payload := []byte(`{
		"receiver": "alerthub",
		"status": "firing",
		"alerts": [{
			"status": "firing",
			"labels": {
				"alertname": "MemoryPressure",
				"instance": "worker-03",
				"job": "node",
				"severity": "warning"
			},
			"annotations": {
				"summary": "Memory above 90%",
				"description": "worker-03 has been above 90% memory for 15 minutes"
			},
			"fingerprint": "a1b2c3"
		}]
	}`)

	parsed, err := adapter.Parse(payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(parsed))
	}

	alert := parsed[0]
	if alert.Event != "MemoryPressure" {
		t.Errorf("Expected Event 'MemoryPressure', got '%s'", alert.Event)
	}
	if alert.Resource != "worker-03" {
		t.Errorf("Expected Resource 'worker-03', got '%s'", alert.Resource)
	}
	if alert.Severity != alarm.SeverityWarning {
		t.Errorf("Expected severity 'warning', got '%s'", alert.Severity)
	}
	if alert.Group != "Grafana" {
		t.Errorf("Expected Group 'Grafana', got '%s'", alert.Group)
	}
	if alert.Value != "Memory above 90%" {
		t.Errorf("Unexpected Value: '%s'", alert.Value)
	}
	if len(alert.Service) != 1 || alert.Service[0] != "node" {
		t.Errorf("Expected Service ['node'], got %v", alert.Service)
	}
	if alert.Origin != "webhook/grafana" {
		t.Errorf("Expected Origin 'webhook/grafana', got '%s'", alert.Origin)
	}
}

func TestGrafanaAdapter_Parse_UnifiedResolved(t *testing.T) {
	adapter := NewGrafanaAdapter()

	payload := []byte(`{
		"alerts": [{
			"status": "resolved",
			"labels": {"alertname": "MemoryPressure", "severity": "warning"}
		}]
	}`)

	parsed, err := adapter.Parse(payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if parsed[0].Severity != alarm.SeverityNormal {
		t.Errorf("Expected resolved alert to carry severity 'normal', got '%s'", parsed[0].Severity)
	}
}

func TestGrafanaAdapter_Parse_UnifiedMissingAlertname(t *testing.T) {
	adapter := NewGrafanaAdapter()

	payload := []byte(`{"alerts": [{"status": "firing", "labels": {}}]}`)

	parsed, err := adapter.Parse(payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if parsed[0].Event != "GrafanaAlert" {
		t.Errorf("Expected fallback event name, got '%s'", parsed[0].Event)
	}
}

func TestGrafanaAdapter_Parse_LegacyAlerting(t *testing.T) {
	adapter := NewGrafanaAdapter()

	payload := []byte(`{
		"ruleName": "High CPU",
		"state": "alerting",
		"message": "CPU usage above threshold",
		"ruleUrl": "https://grafana.example.com/d/abc/dashboard",
		"ruleId": 42,
		"title": "[Alerting] High CPU",
		"evalMatches": [{
			"value": 97.2,
			"metric": "cpu.usage",
			"tags": {"instance": "app-02", "region": "us-east-1"}
		}]
	}`)

	parsed, err := adapter.Parse(payload)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(parsed))
	}

	alert := parsed[0]
	if alert.Event != "High CPU" {
		t.Errorf("Expected Event 'High CPU', got '%s'", alert.Event)
	}
	if alert.Resource != "app-02" {
		t.Errorf("Expected Resource 'app-02', got '%s'", alert.Resource)
	}
	if alert.Severity != alarm.SeverityCritical {
		t.Errorf("Expected severity 'critical', got '%s'", alert.Severity)
	}
	if alert.Value != "97.2" {
		t.Errorf("Expected Value '97.2', got '%s'", alert.Value)
	}
	if alert.Text != "CPU usage above threshold" {
		t.Errorf("Unexpected Text: '%s'", alert.Text)
	}
	if ruleURL, ok := alert.Attributes.Get("rule_url"); !ok || ruleURL != "https://grafana.example.com/d/abc/dashboard" {
		t.Errorf("Expected rule_url attribute, got %v", ruleURL)
	}
	if !alert.Tags.Contains("region:us-east-1") {
		t.Errorf("Expected tags from evalMatches, got %v", alert.Tags)
	}
}

func TestGrafanaAdapter_Parse_LegacyStates(t *testing.T) {
	tests := []struct {
		state string
		want  alarm.Severity
	}{
		{"alerting", alarm.SeverityCritical},
		{"pending", alarm.SeverityWarning},
		{"no_data", alarm.SeverityIndeterminate},
		{"ok", alarm.SeverityNormal},
		{"paused", alarm.SeverityNormal},
		{"weird", alarm.SeverityWarning},
	}

	for _, tt := range tests {
		if got := legacyStateSeverity(tt.state); got != tt.want {
			t.Errorf("legacyStateSeverity(%q) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestGrafanaAdapter_Parse_EmptyPayload(t *testing.T) {
	adapter := NewGrafanaAdapter()
	if _, err := adapter.Parse([]byte(`{}`)); err == nil {
		t.Error("Expected error for payload with no alerts")
	}
}

func TestGrafanaAdapter_Parse_InvalidJSON(t *testing.T) {
	adapter := NewGrafanaAdapter()
	if _, err := adapter.Parse([]byte(`[broken`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
