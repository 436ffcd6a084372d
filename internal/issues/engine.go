// Package issues groups incident alerts into operator-facing issues.
//
// An issue aggregates one or more incident parents that belong to the same
// outage: either the same host, or the same project group and info system
// pair. Membership is tracked both ways, on the issue (Alerts) and on the
// alert (IssueID).
package issues

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
)

// Matching weights. A shared host is a far stronger signal than a shared
// project group and info system pair.
const (
	DefaultHostWeight     = 100
	DefaultCombinedWeight = 10
)

// RejectionError reports an issue update that would leave it in an
// inconsistent state, such as emptying an issue that still tracks a ticket.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

// Engine assigns incident alerts to issues and keeps issue aggregates
// consistent as membership changes.
type Engine struct {
	issues *database.IssueStore
	alerts *database.AlertStore

	hostWeight     int
	combinedWeight int

	// OnOpen runs after a brand-new issue is created; it may be nil.
	OnOpen func(*database.Issue)
}

func NewEngine(issues *database.IssueStore, alerts *database.AlertStore, hostWeight, combinedWeight int) *Engine {
	if hostWeight <= 0 {
		hostWeight = DefaultHostWeight
	}
	if combinedWeight <= 0 {
		combinedWeight = DefaultCombinedWeight
	}
	return &Engine{
		issues:         issues,
		alerts:         alerts,
		hostWeight:     hostWeight,
		combinedWeight: combinedWeight,
	}
}

// FindMatchingIssue scores every open issue against the alert and returns
// the best match, or nil when nothing scores above zero. A shared host
// outweighs any number of project group and info system pairs; ties break
// toward the more severe issue.
func (e *Engine) FindMatchingIssue(alert *database.Alert) (*database.Issue, error) {
	open, err := e.issues.ListOpen()
	if err != nil {
		return nil, fmt.Errorf("failed to list open issues: %w", err)
	}
	if len(open) == 0 {
		return nil, nil
	}

	host := alert.Event
	projectGroups, infoSystems := tagPairs(alert.Tags)

	var best *database.Issue
	bestScore := 0
	for i := range open {
		issue := &open[i]
		score := 0
		if host != "" && issue.Hosts.Contains(host) {
			score += e.hostWeight
		}
		for _, pg := range projectGroups {
			for _, is := range infoSystems {
				if issue.ProjectGroups.Contains(pg) && issue.InfoSystems.Contains(is) {
					score += e.combinedWeight
				}
			}
		}
		if score == 0 {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && severityOutranks(issue.Severity, best.Severity)) {
			best = issue
			bestScore = score
		}
	}
	return best, nil
}

// Assign links an incident alert to the best matching open issue, creating
// a new issue when none matches. Returns the issue the alert ended up in.
func (e *Engine) Assign(alert *database.Alert) (*database.Issue, error) {
	issue, err := e.FindMatchingIssue(alert)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return e.createIssue(alert)
	}
	if err := e.AddAlerts(issue, []database.Alert{*alert}); err != nil {
		return nil, err
	}
	return issue, nil
}

func (e *Engine) createIssue(alert *database.Alert) (*database.Issue, error) {
	now := time.Now()
	issue := &database.Issue{
		ID:         uuid.New().String(),
		Summary:    alert.Event,
		Status:     database.IssueStatusOpen,
		Alerts:     database.StringArray{alert.ID},
		CreateTime: now,
		History: database.History{{
			ID:         uuid.New().String(),
			ChangeType: database.ChangeNew,
			Text:       "Issue created",
			UpdateTime: now,
		}},
	}
	if err := e.refreshAggregates(issue); err != nil {
		return nil, err
	}
	if err := e.issues.Create(issue); err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	if err := e.alerts.UpdateIssueID([]string{alert.ID}, &issue.ID); err != nil {
		return nil, err
	}
	if e.OnOpen != nil {
		e.OnOpen(issue)
	}
	return issue, nil
}

// AddAlerts links the given incident alerts to the issue and recomputes
// its aggregates. Alerts already in the issue are skipped. When any alert
// belongs to another issue it is removed from there first.
func (e *Engine) AddAlerts(issue *database.Issue, alerts []database.Alert) error {
	var added []string
	for i := range alerts {
		alert := &alerts[i]
		if issue.Alerts.Contains(alert.ID) {
			continue
		}
		if alert.IssueID != nil && *alert.IssueID != issue.ID {
			if err := e.detachFromIssue(alert); err != nil {
				log.Printf("Failed to detach alert %s from issue %s: %v", alert.ID, *alert.IssueID, err)
			}
		}
		issue.Alerts = append(issue.Alerts, alert.ID)
		added = append(added, alert.ID)
	}
	if len(added) == 0 {
		return nil
	}

	if err := e.refreshAggregates(issue); err != nil {
		return err
	}
	issue.History = issue.History.Prepend(database.HistoryEntry{
		ID:         uuid.New().String(),
		ChangeType: database.ChangeValue,
		Text:       fmt.Sprintf("Added %d alerts", len(added)),
		UpdateTime: time.Now(),
	}, 100)
	if err := e.issues.Save(issue); err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}
	return e.alerts.UpdateIssueID(added, &issue.ID)
}

// RemoveAlerts unlinks the given alert IDs from the issue and recomputes
// its aggregates. When the issue ends up empty it is resolved, unless it
// tracks an external ticket, in which case the removal is rejected.
func (e *Engine) RemoveAlerts(issue *database.Issue, alertIDs []string) error {
	var remaining database.StringArray
	removed := make(map[string]bool, len(alertIDs))
	for _, id := range alertIDs {
		removed[id] = true
	}
	var detached []string
	for _, id := range issue.Alerts {
		if removed[id] {
			detached = append(detached, id)
			continue
		}
		remaining = append(remaining, id)
	}
	if len(detached) == 0 {
		return nil
	}

	if len(remaining) == 0 {
		if issue.TicketKey != "" {
			return &RejectionError{
				Reason: fmt.Sprintf("cannot empty issue %s: ticket %s is still attached", issue.ID, issue.TicketKey),
			}
		}
		issue.Alerts = remaining
		if err := e.Resolve(issue, "Last alert removed"); err != nil {
			return err
		}
		return e.alerts.UpdateIssueID(detached, nil)
	}

	issue.Alerts = remaining
	if err := e.refreshAggregates(issue); err != nil {
		return err
	}
	issue.History = issue.History.Prepend(database.HistoryEntry{
		ID:         uuid.New().String(),
		ChangeType: database.ChangeValue,
		Text:       fmt.Sprintf("Removed %d alerts", len(detached)),
		UpdateTime: time.Now(),
	}, 100)
	if err := e.issues.Save(issue); err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}
	return e.alerts.UpdateIssueID(detached, nil)
}

// Refresh recomputes the issue aggregates from its current members and
// persists the result. Issues whose members have all expired or closed
// keep their last aggregates.
func (e *Engine) Refresh(issue *database.Issue) error {
	if err := e.refreshAggregates(issue); err != nil {
		return err
	}
	if err := e.issues.Save(issue); err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}
	return nil
}

// Resolve closes the issue, recording the reason in its history.
func (e *Engine) Resolve(issue *database.Issue, reason string) error {
	if !issue.IsOpen() {
		return nil
	}
	now := time.Now()
	issue.Status = database.IssueStatusClosed
	issue.ResolveTime = &now
	issue.History = issue.History.Prepend(database.HistoryEntry{
		ID:         uuid.New().String(),
		ChangeType: database.ChangeStatus,
		Status:     alarm.StatusClosed,
		Text:       reason,
		UpdateTime: now,
	}, 100)
	if err := e.issues.Save(issue); err != nil {
		return fmt.Errorf("failed to resolve issue: %w", err)
	}
	return nil
}

// Reopen reverts a resolved issue to open.
func (e *Engine) Reopen(issue *database.Issue, reason string) error {
	if issue.IsOpen() {
		return nil
	}
	now := time.Now()
	issue.Status = database.IssueStatusOpen
	issue.ResolveTime = nil
	issue.History = issue.History.Prepend(database.HistoryEntry{
		ID:         uuid.New().String(),
		ChangeType: database.ChangeStatus,
		Status:     alarm.StatusOpen,
		Text:       reason,
		UpdateTime: now,
	}, 100)
	if err := e.issues.Save(issue); err != nil {
		return fmt.Errorf("failed to reopen issue: %w", err)
	}
	return nil
}

// Merge moves every alert from source into target and resolves source.
func (e *Engine) Merge(target, source *database.Issue) error {
	if target.ID == source.ID {
		return &RejectionError{Reason: "cannot merge an issue into itself"}
	}
	alerts, err := e.alerts.GetMany([]string(source.Alerts))
	if err != nil {
		return err
	}
	moved := source.Alerts
	source.Alerts = nil
	if err := e.Resolve(source, fmt.Sprintf("Merged into issue %s", target.ID)); err != nil {
		return err
	}
	if err := e.AddAlerts(target, alerts); err != nil {
		return err
	}
	// Alerts whose rows disappeared still need their back references moved.
	if len(alerts) < len(moved) {
		present := make(map[string]bool, len(alerts))
		for i := range alerts {
			present[alerts[i].ID] = true
		}
		for _, id := range moved {
			if !present[id] {
				log.Printf("Alert %s listed in issue %s no longer exists", id, source.ID)
			}
		}
	}
	return nil
}

// HandleAlertClose resolves the issue when every member alert has closed
// or expired.
func (e *Engine) HandleAlertClose(alert *database.Alert) error {
	if alert.IssueID == nil {
		return nil
	}
	issue, err := e.issues.Get(*alert.IssueID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil
		}
		return err
	}
	members, err := e.alerts.GetMany([]string(issue.Alerts))
	if err != nil {
		return err
	}
	for i := range members {
		if members[i].Status != alarm.StatusClosed && members[i].Status != alarm.StatusExpired {
			return e.Refresh(issue)
		}
	}
	return e.Resolve(issue, "All alerts closed")
}

func (e *Engine) refreshAggregates(issue *database.Issue) error {
	members, err := e.alerts.GetMany([]string(issue.Alerts))
	if err != nil {
		return err
	}
	agg := database.AggregateAlerts(members)
	issue.Severity = agg.Severity
	issue.HostCritical = agg.HostCritical
	issue.Hosts = database.StringArray(agg.Hosts)
	issue.ProjectGroups = database.StringArray(agg.ProjectGroups)
	issue.InfoSystems = database.StringArray(agg.InfoSystems)
	if agg.LastAlertTime != nil {
		issue.LastAlertTime = agg.LastAlertTime
	}
	return nil
}

// DetachAlert removes the alert from whatever issue currently tracks it.
func (e *Engine) DetachAlert(alert *database.Alert) error {
	if alert.IssueID == nil {
		return nil
	}
	return e.detachFromIssue(alert)
}

func (e *Engine) detachFromIssue(alert *database.Alert) error {
	other, err := e.issues.Get(*alert.IssueID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil
		}
		return err
	}
	return e.RemoveAlerts(other, []string{alert.ID})
}

func severityOutranks(a, b string) bool {
	return issueSeverityRank(a) > issueSeverityRank(b)
}

func issueSeverityRank(s string) int {
	switch s {
	case "critical":
		return 5
	case "high":
		return 4
	case "medium":
		return 3
	default:
		return 1
	}
}

func tagPairs(tags database.StringArray) (projectGroups, infoSystems []string) {
	for _, tag := range tags {
		if v, ok := cutPrefix(tag, database.TagPrefixProjectGroup); ok {
			projectGroups = append(projectGroups, v)
		}
		if v, ok := cutPrefix(tag, database.TagPrefixInfoSystem); ok {
			infoSystems = append(infoSystems, v)
		}
	}
	return projectGroups, infoSystems
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}
