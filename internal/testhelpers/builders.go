// Package testhelpers provides additional data builders for testing
package testhelpers

import (
	"time"

	"github.com/google/uuid"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
)

// ========================================
// Alert Builder
// ========================================

// AlertBuilder builds Alert instances for testing
type AlertBuilder struct {
	alert database.Alert
}

// NewAlertBuilder creates a new alert builder with defaults
func NewAlertBuilder() *AlertBuilder {
	now := time.Now().UTC()
	return &AlertBuilder{
		alert: database.Alert{
			ID:               uuid.NewString(),
			Resource:         "web-01",
			Event:            "HighCPU",
			Environment:      "Production",
			Severity:         alarm.SeverityWarning,
			Status:           alarm.StatusOpen,
			Service:          database.StringArray{"web"},
			Group:            "Infrastructure",
			Text:             "Test alert",
			EventType:        "exceptionAlert",
			Origin:           "monitoring/zabbix",
			Timeout:          86400,
			DuplicateCount:   0,
			PreviousSeverity: alarm.SeverityIndeterminate,
			TrendIndication:  alarm.TrendNoChange,
			CreateTime:       now,
			ReceiveTime:      now,
			LastReceiveTime:  now,
			UpdateTime:       now,
		},
	}
}

// WithID sets the alert ID
func (b *AlertBuilder) WithID(id string) *AlertBuilder {
	b.alert.ID = id
	return b
}

// WithResource sets the resource
func (b *AlertBuilder) WithResource(resource string) *AlertBuilder {
	b.alert.Resource = resource
	return b
}

// WithEvent sets the event name
func (b *AlertBuilder) WithEvent(event string) *AlertBuilder {
	b.alert.Event = event
	return b
}

// WithEnvironment sets the environment
func (b *AlertBuilder) WithEnvironment(env string) *AlertBuilder {
	b.alert.Environment = env
	return b
}

// WithSeverity sets the severity
func (b *AlertBuilder) WithSeverity(severity alarm.Severity) *AlertBuilder {
	b.alert.Severity = severity
	return b
}

// WithStatus sets the status
func (b *AlertBuilder) WithStatus(status alarm.Status) *AlertBuilder {
	b.alert.Status = status
	return b
}

// WithCorrelate sets the correlated event names
func (b *AlertBuilder) WithCorrelate(events ...string) *AlertBuilder {
	b.alert.Correlate = events
	return b
}

// WithService sets the service list
func (b *AlertBuilder) WithService(services ...string) *AlertBuilder {
	b.alert.Service = services
	return b
}

// WithTag appends a tag
func (b *AlertBuilder) WithTag(tag string) *AlertBuilder {
	b.alert.Tags = append(b.alert.Tags, tag)
	return b
}

// WithOrigin sets the origin
func (b *AlertBuilder) WithOrigin(origin string) *AlertBuilder {
	b.alert.Origin = origin
	return b
}

// WithTimeout sets the timeout in seconds
func (b *AlertBuilder) WithTimeout(seconds int) *AlertBuilder {
	b.alert.Timeout = seconds
	return b
}

// WithText sets the alert text
func (b *AlertBuilder) WithText(text string) *AlertBuilder {
	b.alert.Text = text
	return b
}

// AsIncident marks the alert as an incident parent
func (b *AlertBuilder) AsIncident() *AlertBuilder {
	b.alert.Attributes.Incident = true
	return b
}

// WithDuplicates records grouped child alert ids
func (b *AlertBuilder) WithDuplicates(ids ...string) *AlertBuilder {
	b.alert.Attributes.Incident = true
	b.alert.Attributes.DuplicateAlerts = append(b.alert.Attributes.DuplicateAlerts, ids...)
	return b
}

// WithIssueID assigns the alert to an issue
func (b *AlertBuilder) WithIssueID(id string) *AlertBuilder {
	b.alert.IssueID = &id
	return b
}

// ReceivedAt sets receive and last-receive times
func (b *AlertBuilder) ReceivedAt(t time.Time) *AlertBuilder {
	b.alert.ReceiveTime = t
	b.alert.LastReceiveTime = t
	return b
}

// Build returns the constructed alert
func (b *AlertBuilder) Build() database.Alert {
	return b.alert
}

// ========================================
// Issue Builder
// ========================================

// IssueBuilder builds Issue instances for testing
type IssueBuilder struct {
	issue database.Issue
}

// NewIssueBuilder creates a new issue builder with defaults
func NewIssueBuilder() *IssueBuilder {
	now := time.Now().UTC()
	return &IssueBuilder{
		issue: database.Issue{
			ID:            uuid.NewString(),
			Summary:       "Test issue",
			Severity:      "normal",
			HostCritical:  "0",
			Status:        database.IssueStatusOpen,
			CreateTime:    now,
			LastAlertTime: &now,
		},
	}
}

// WithID sets the issue ID
func (b *IssueBuilder) WithID(id string) *IssueBuilder {
	b.issue.ID = id
	return b
}

// WithSummary sets the summary
func (b *IssueBuilder) WithSummary(summary string) *IssueBuilder {
	b.issue.Summary = summary
	return b
}

// WithSeverity sets the issue severity bucket
func (b *IssueBuilder) WithSeverity(severity string) *IssueBuilder {
	b.issue.Severity = severity
	return b
}

// WithAlerts sets the member alert ids
func (b *IssueBuilder) WithAlerts(ids ...string) *IssueBuilder {
	b.issue.Alerts = ids
	return b
}

// WithHosts sets the affected hosts
func (b *IssueBuilder) WithHosts(hosts ...string) *IssueBuilder {
	b.issue.Hosts = hosts
	return b
}

// WithTicketKey links a tracker ticket
func (b *IssueBuilder) WithTicketKey(key string) *IssueBuilder {
	b.issue.TicketKey = key
	return b
}

// Closed marks the issue as resolved
func (b *IssueBuilder) Closed() *IssueBuilder {
	now := time.Now().UTC()
	b.issue.Status = database.IssueStatusClosed
	b.issue.ResolveTime = &now
	return b
}

// Build returns the constructed issue
func (b *IssueBuilder) Build() database.Issue {
	return b.issue
}

// ========================================
// Pattern Builder
// ========================================

// PatternBuilder builds Pattern instances for testing
type PatternBuilder struct {
	pattern database.Pattern
}

// NewPatternBuilder creates a new pattern builder with defaults
func NewPatternBuilder() *PatternBuilder {
	now := time.Now().UTC()
	return &PatternBuilder{
		pattern: database.Pattern{
			ID:         uuid.NewString(),
			Name:       "test-pattern",
			Rule:       "environment == 'Production'",
			Priority:   99,
			IsActive:   true,
			CreateTime: now,
			UpdateTime: now,
		},
	}
}

// WithName sets the pattern name
func (b *PatternBuilder) WithName(name string) *PatternBuilder {
	b.pattern.Name = name
	return b
}

// WithRule sets the rule expression
func (b *PatternBuilder) WithRule(rule string) *PatternBuilder {
	b.pattern.Rule = rule
	return b
}

// WithPriority sets the evaluation priority
func (b *PatternBuilder) WithPriority(priority int) *PatternBuilder {
	b.pattern.Priority = priority
	return b
}

// Inactive disables the pattern
func (b *PatternBuilder) Inactive() *PatternBuilder {
	b.pattern.IsActive = false
	return b
}

// Build returns the constructed pattern
func (b *PatternBuilder) Build() database.Pattern {
	return b.pattern
}

// ========================================
// Blackout Builder
// ========================================

// BlackoutBuilder builds Blackout instances for testing
type BlackoutBuilder struct {
	blackout database.Blackout
}

// NewBlackoutBuilder creates a new blackout builder active for the next hour
func NewBlackoutBuilder() *BlackoutBuilder {
	now := time.Now().UTC()
	return &BlackoutBuilder{
		blackout: database.Blackout{
			ID:          uuid.NewString(),
			Environment: "Production",
			StartTime:   now.Add(-time.Minute),
			EndTime:     now.Add(time.Hour),
			CreateTime:  now,
		},
	}
}

// WithEnvironment sets the environment
func (b *BlackoutBuilder) WithEnvironment(env string) *BlackoutBuilder {
	b.blackout.Environment = env
	return b
}

// WithResource restricts the blackout to a resource
func (b *BlackoutBuilder) WithResource(resource string) *BlackoutBuilder {
	b.blackout.Resource = resource
	return b
}

// WithEvent restricts the blackout to an event
func (b *BlackoutBuilder) WithEvent(event string) *BlackoutBuilder {
	b.blackout.Event = event
	return b
}

// WithWindow sets the active window
func (b *BlackoutBuilder) WithWindow(start, end time.Time) *BlackoutBuilder {
	b.blackout.StartTime = start
	b.blackout.EndTime = end
	return b
}

// Expired shifts the window entirely into the past
func (b *BlackoutBuilder) Expired() *BlackoutBuilder {
	now := time.Now().UTC()
	b.blackout.StartTime = now.Add(-2 * time.Hour)
	b.blackout.EndTime = now.Add(-time.Hour)
	return b
}

// Build returns the constructed blackout
func (b *BlackoutBuilder) Build() database.Blackout {
	return b.blackout
}
