package testhelpers

import (
	"testing"
	"time"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
)

func TestAlertBuilder(t *testing.T) {
	alert := NewAlertBuilder().
		WithResource("db-01").
		WithEvent("DiskFull").
		WithEnvironment("Development").
		WithSeverity(alarm.SeverityCritical).
		Build()

	if alert.ID == "" {
		t.Error("expected generated ID")
	}
	if alert.Resource != "db-01" {
		t.Errorf("expected Resource 'db-01', got %s", alert.Resource)
	}
	if alert.Event != "DiskFull" {
		t.Errorf("expected Event 'DiskFull', got %s", alert.Event)
	}
	if alert.Environment != "Development" {
		t.Errorf("expected Environment 'Development', got %s", alert.Environment)
	}
	if alert.Severity != alarm.SeverityCritical {
		t.Errorf("expected Severity critical, got %s", alert.Severity)
	}
	if alert.Status != alarm.StatusOpen {
		t.Errorf("expected default Status open, got %s", alert.Status)
	}
	if alert.Timeout != 86400 {
		t.Errorf("expected default Timeout 86400, got %d", alert.Timeout)
	}
}

func TestAlertBuilder_AsIncident(t *testing.T) {
	alert := NewAlertBuilder().AsIncident().Build()

	if !alert.Attributes.Incident {
		t.Error("expected Incident true")
	}
}

func TestAlertBuilder_WithDuplicates(t *testing.T) {
	alert := NewAlertBuilder().WithDuplicates("child-1", "child-2").Build()

	if !alert.Attributes.Incident {
		t.Error("expected Incident true when duplicates are set")
	}
	if len(alert.Attributes.DuplicateAlerts) != 2 {
		t.Errorf("expected 2 duplicate alerts, got %d", len(alert.Attributes.DuplicateAlerts))
	}
}

func TestAlertBuilder_WithIssueID(t *testing.T) {
	alert := NewAlertBuilder().WithIssueID("issue-1").Build()

	if alert.IssueID == nil || *alert.IssueID != "issue-1" {
		t.Errorf("expected IssueID 'issue-1', got %v", alert.IssueID)
	}
}

func TestAlertBuilder_ReceivedAt(t *testing.T) {
	past := time.Now().Add(-time.Hour).UTC()
	alert := NewAlertBuilder().ReceivedAt(past).Build()

	if !alert.ReceiveTime.Equal(past) {
		t.Errorf("expected ReceiveTime %v, got %v", past, alert.ReceiveTime)
	}
	if !alert.LastReceiveTime.Equal(past) {
		t.Errorf("expected LastReceiveTime %v, got %v", past, alert.LastReceiveTime)
	}
}

func TestIssueBuilder(t *testing.T) {
	issue := NewIssueBuilder().
		WithSummary("Database outage").
		WithSeverity("critical").
		WithAlerts("a-1", "a-2").
		WithHosts("db-01").
		Build()

	if issue.Summary != "Database outage" {
		t.Errorf("expected Summary 'Database outage', got %s", issue.Summary)
	}
	if issue.Severity != "critical" {
		t.Errorf("expected Severity 'critical', got %s", issue.Severity)
	}
	if len(issue.Alerts) != 2 {
		t.Errorf("expected 2 alerts, got %d", len(issue.Alerts))
	}
	if issue.Status != database.IssueStatusOpen {
		t.Errorf("expected Status open, got %s", issue.Status)
	}
}

func TestIssueBuilder_Closed(t *testing.T) {
	issue := NewIssueBuilder().Closed().Build()

	if issue.Status != database.IssueStatusClosed {
		t.Errorf("expected Status closed, got %s", issue.Status)
	}
	if issue.ResolveTime == nil {
		t.Error("expected ResolveTime set")
	}
}

func TestIssueBuilder_WithTicketKey(t *testing.T) {
	issue := NewIssueBuilder().WithTicketKey("OPS-7").Build()

	if issue.TicketKey != "OPS-7" {
		t.Errorf("expected TicketKey 'OPS-7', got %s", issue.TicketKey)
	}
}

func TestPatternBuilder(t *testing.T) {
	pattern := NewPatternBuilder().
		WithName("prod-critical").
		WithRule("severity == 'critical'").
		WithPriority(1).
		Build()

	if pattern.Name != "prod-critical" {
		t.Errorf("expected Name 'prod-critical', got %s", pattern.Name)
	}
	if pattern.Rule != "severity == 'critical'" {
		t.Errorf("expected rule, got %s", pattern.Rule)
	}
	if pattern.Priority != 1 {
		t.Errorf("expected Priority 1, got %d", pattern.Priority)
	}
	if !pattern.IsActive {
		t.Error("expected IsActive true")
	}
}

func TestPatternBuilder_Inactive(t *testing.T) {
	pattern := NewPatternBuilder().Inactive().Build()

	if pattern.IsActive {
		t.Error("expected IsActive false")
	}
}

func TestBlackoutBuilder(t *testing.T) {
	blackout := NewBlackoutBuilder().
		WithEnvironment("Development").
		WithResource("web-01").
		Build()

	if blackout.Environment != "Development" {
		t.Errorf("expected Environment 'Development', got %s", blackout.Environment)
	}
	if blackout.Resource != "web-01" {
		t.Errorf("expected Resource 'web-01', got %s", blackout.Resource)
	}
	now := time.Now()
	if !blackout.StartTime.Before(now) || !blackout.EndTime.After(now) {
		t.Error("expected default window to cover the present")
	}
}

func TestBlackoutBuilder_Expired(t *testing.T) {
	blackout := NewBlackoutBuilder().Expired().Build()

	if !blackout.EndTime.Before(time.Now()) {
		t.Error("expected window entirely in the past")
	}
}
