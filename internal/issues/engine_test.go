package issues

import (
	"errors"
	"testing"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
	"github.com/alerthub/alerthub/internal/testhelpers"
)

func newEngine(t *testing.T) (*Engine, *database.AlertStore, *database.IssueStore) {
	db := testhelpers.OpenTestDB(t, &database.Alert{}, &database.Issue{})
	alerts := database.NewAlertStore(db)
	issues := database.NewIssueStore(db)
	return NewEngine(issues, alerts, 0, 0), alerts, issues
}

func makeAlert(t *testing.T, store *database.AlertStore, id, host string, severity alarm.Severity, tags ...string) *database.Alert {
	t.Helper()
	builder := testhelpers.NewAlertBuilder().
		WithID(id).
		WithResource("r1").
		WithEvent(host).
		WithSeverity(severity).
		AsIncident()
	for _, tag := range tags {
		builder = builder.WithTag(tag)
	}
	alert := builder.Build()
	if err := store.Create(&alert); err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}
	return &alert
}

func TestAssignCreatesIssue(t *testing.T) {
	engine, alerts, issues := newEngine(t)
	alert := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityCritical,
		"ProjectGroup:payments", "InfoSystem:billing")

	issue, err := engine.Assign(alert)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if issue == nil {
		t.Fatal("expected a new issue")
	}
	if issue.Severity != "critical" {
		t.Errorf("severity = %s, want critical", issue.Severity)
	}
	if !issue.Hosts.Contains("web-01") {
		t.Errorf("hosts = %v, want web-01", issue.Hosts)
	}
	if !issue.ProjectGroups.Contains("payments") || !issue.InfoSystems.Contains("billing") {
		t.Errorf("tag aggregates = %v / %v", issue.ProjectGroups, issue.InfoSystems)
	}

	got, err := alerts.Get("a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IssueID == nil || *got.IssueID != issue.ID {
		t.Error("alert must reference the issue it was assigned to")
	}

	open, err := issues.ListOpen()
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("open issues = %d, want 1", len(open))
	}
}

func TestAssignJoinsIssueBySharedHost(t *testing.T) {
	engine, alerts, _ := newEngine(t)
	first := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMinor)
	issue, err := engine.Assign(first)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	second := makeAlert(t, alerts, "a2", "web-01", alarm.SeverityCritical)
	got, err := engine.Assign(second)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.ID != issue.ID {
		t.Fatalf("same-host alert joined issue %s, want %s", got.ID, issue.ID)
	}
	if len(got.Alerts) != 2 {
		t.Errorf("issue members = %d, want 2", len(got.Alerts))
	}
	if got.Severity != "critical" {
		t.Errorf("severity after join = %s, want critical", got.Severity)
	}
}

func TestAssignJoinsIssueByProjectGroupAndInfoSystem(t *testing.T) {
	engine, alerts, _ := newEngine(t)
	first := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMinor,
		"ProjectGroup:payments", "InfoSystem:billing")
	issue, err := engine.Assign(first)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	// Different host, same project group and info system.
	second := makeAlert(t, alerts, "a2", "db-02", alarm.SeverityMajor,
		"ProjectGroup:payments", "InfoSystem:billing")
	got, err := engine.Assign(second)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.ID != issue.ID {
		t.Errorf("combined-tag alert joined issue %s, want %s", got.ID, issue.ID)
	}
}

func TestAssignPrefersSharedHostOverTags(t *testing.T) {
	engine, alerts, _ := newEngine(t)

	tagged := makeAlert(t, alerts, "a1", "db-01", alarm.SeverityMinor,
		"ProjectGroup:payments", "InfoSystem:billing")
	tagIssue, err := engine.Assign(tagged)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	hosted := makeAlert(t, alerts, "a2", "web-01", alarm.SeverityMinor)
	hostIssue, err := engine.Assign(hosted)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if tagIssue.ID == hostIssue.ID {
		t.Fatal("fixture issues must be distinct")
	}

	// Matches both: the host issue by host, the tag issue by tag pair.
	both := makeAlert(t, alerts, "a3", "web-01", alarm.SeverityCritical,
		"ProjectGroup:payments", "InfoSystem:billing")
	got, err := engine.Assign(both)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.ID != hostIssue.ID {
		t.Errorf("alert joined %s, want the shared-host issue %s", got.ID, hostIssue.ID)
	}
}

func TestRemoveAlertsRecomputesAggregates(t *testing.T) {
	engine, alerts, issues := newEngine(t)
	makeAlert(t, alerts, "a1", "web-01", alarm.SeverityCritical)
	second := makeAlert(t, alerts, "a2", "web-01", alarm.SeverityMinor)
	first, _ := alerts.Get("a1")
	issue, err := engine.Assign(first)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := engine.Assign(second); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	issue, err = issues.Get(issue.ID)
	if err != nil {
		t.Fatalf("Get issue: %v", err)
	}
	if err := engine.RemoveAlerts(issue, []string{"a1"}); err != nil {
		t.Fatalf("RemoveAlerts: %v", err)
	}

	got, err := issues.Get(issue.ID)
	if err != nil {
		t.Fatalf("Get issue: %v", err)
	}
	if len(got.Alerts) != 1 || got.Alerts[0] != "a2" {
		t.Errorf("members after removal = %v, want [a2]", got.Alerts)
	}
	if got.Severity != "normal" {
		t.Errorf("severity after removal = %s, want normal", got.Severity)
	}

	detached, err := alerts.Get("a1")
	if err != nil {
		t.Fatalf("Get alert: %v", err)
	}
	if detached.IssueID != nil {
		t.Error("removed alert must not reference the issue")
	}
}

func TestRemoveLastAlertResolvesIssue(t *testing.T) {
	engine, alerts, issues := newEngine(t)
	alert := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMajor)
	issue, err := engine.Assign(alert)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if err := engine.RemoveAlerts(issue, []string{"a1"}); err != nil {
		t.Fatalf("RemoveAlerts: %v", err)
	}
	got, err := issues.Get(issue.ID)
	if err != nil {
		t.Fatalf("Get issue: %v", err)
	}
	if got.Status != database.IssueStatusClosed {
		t.Errorf("emptied issue status = %s, want closed", got.Status)
	}
}

func TestRemoveLastAlertRejectedWithTicket(t *testing.T) {
	engine, alerts, issues := newEngine(t)
	alert := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMajor)
	issue, err := engine.Assign(alert)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	issue.TicketKey = "OPS-123"
	if err := issues.Save(issue); err != nil {
		t.Fatalf("Save: %v", err)
	}

	err = engine.RemoveAlerts(issue, []string{"a1"})
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RejectionError, got %v", err)
	}

	got, err := issues.Get(issue.ID)
	if err != nil {
		t.Fatalf("Get issue: %v", err)
	}
	if got.Status != database.IssueStatusOpen {
		t.Error("rejected removal must leave the issue open")
	}
}

func TestMerge(t *testing.T) {
	engine, alerts, issues := newEngine(t)
	a1 := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMinor)
	target, err := engine.Assign(a1)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	a2 := makeAlert(t, alerts, "a2", "db-01", alarm.SeverityCritical)
	source, err := engine.Assign(a2)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if err := engine.Merge(target, source); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	gotTarget, err := issues.Get(target.ID)
	if err != nil {
		t.Fatalf("Get target: %v", err)
	}
	if len(gotTarget.Alerts) != 2 {
		t.Errorf("target members = %v, want both alerts", gotTarget.Alerts)
	}
	if gotTarget.Severity != "critical" {
		t.Errorf("target severity = %s, want critical", gotTarget.Severity)
	}

	gotSource, err := issues.Get(source.ID)
	if err != nil {
		t.Fatalf("Get source: %v", err)
	}
	if gotSource.Status != database.IssueStatusClosed {
		t.Errorf("source status = %s, want closed", gotSource.Status)
	}

	moved, err := alerts.Get("a2")
	if err != nil {
		t.Fatalf("Get alert: %v", err)
	}
	if moved.IssueID == nil || *moved.IssueID != target.ID {
		t.Error("merged alert must reference the target issue")
	}

	if err := engine.Merge(target, target); err == nil {
		t.Error("self merge must be rejected")
	}
}

func TestHandleAlertClose(t *testing.T) {
	engine, alerts, issues := newEngine(t)
	a1 := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMajor)
	a2 := makeAlert(t, alerts, "a2", "web-01", alarm.SeverityMinor)
	issue, err := engine.Assign(a1)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := engine.Assign(a2); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	a1.Status = alarm.StatusClosed
	if err := alerts.Save(a1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := engine.HandleAlertClose(a1); err != nil {
		t.Fatalf("HandleAlertClose: %v", err)
	}
	got, _ := issues.Get(issue.ID)
	if got.Status != database.IssueStatusOpen {
		t.Error("issue with open members must stay open")
	}

	a2.Status = alarm.StatusClosed
	if err := alerts.Save(a2); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := engine.HandleAlertClose(a2); err != nil {
		t.Fatalf("HandleAlertClose: %v", err)
	}
	got, _ = issues.Get(issue.ID)
	if got.Status != database.IssueStatusClosed {
		t.Error("issue must resolve once every member closed")
	}
}

func TestReopen(t *testing.T) {
	engine, alerts, issues := newEngine(t)
	alert := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMajor)
	issue, err := engine.Assign(alert)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := engine.Resolve(issue, "test"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := engine.Reopen(issue, "back again"); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	got, err := issues.Get(issue.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != database.IssueStatusOpen {
		t.Errorf("status = %s, want open", got.Status)
	}
	if got.ResolveTime != nil {
		t.Error("reopened issue must clear its resolve time")
	}
}

func TestExpiredAlertsDoNotCount(t *testing.T) {
	engine, alerts, _ := newEngine(t)
	a1 := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityCritical)
	issue, err := engine.Assign(a1)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	a1.Status = alarm.StatusExpired
	if err := alerts.Save(a1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := engine.Refresh(issue); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if issue.Severity != "normal" {
		t.Errorf("severity with only expired members = %s, want normal", issue.Severity)
	}
	if len(issue.Hosts) != 0 {
		t.Errorf("hosts with only expired members = %v, want none", issue.Hosts)
	}
}

func TestAssignFiresOnOpenHook(t *testing.T) {
	engine, alerts, _ := newEngine(t)
	var opened []*database.Issue
	engine.OnOpen = func(issue *database.Issue) { opened = append(opened, issue) }

	first := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMajor)
	issue, err := engine.Assign(first)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(opened) != 1 || opened[0].ID != issue.ID {
		t.Fatalf("hook fired %d times, want once for the new issue", len(opened))
	}

	// Joining an existing issue is not an open.
	second := makeAlert(t, alerts, "a2", "web-01", alarm.SeverityMinor)
	if _, err := engine.Assign(second); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(opened) != 1 {
		t.Errorf("hook fired %d times after join, want 1", len(opened))
	}
}

func TestFindMatchingIssueBySeededHost(t *testing.T) {
	engine, alerts, issues := newEngine(t)
	seeded := testhelpers.NewIssueBuilder().
		WithSummary("web-01 trouble").
		WithHosts("web-01").
		WithAlerts("a0").
		Build()
	if err := issues.Create(&seeded); err != nil {
		t.Fatalf("Create issue: %v", err)
	}

	alert := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMajor)
	got, err := engine.FindMatchingIssue(alert)
	if err != nil {
		t.Fatalf("FindMatchingIssue: %v", err)
	}
	if got == nil || got.ID != seeded.ID {
		t.Errorf("matched %v, want the seeded issue", got)
	}
}

func TestFindMatchingIssueIgnoresClosed(t *testing.T) {
	engine, alerts, _ := newEngine(t)
	a1 := makeAlert(t, alerts, "a1", "web-01", alarm.SeverityMajor)
	issue, err := engine.Assign(a1)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := engine.Resolve(issue, "done"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	a2 := makeAlert(t, alerts, "a2", "web-01", alarm.SeverityMajor)
	got, err := engine.FindMatchingIssue(a2)
	if err != nil {
		t.Fatalf("FindMatchingIssue: %v", err)
	}
	if got != nil {
		t.Errorf("matched closed issue %s, want none", got.ID)
	}
}
