package database

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/alerthub/alerthub/internal/alarm"
)

// Tag prefixes carrying issue grouping metadata.
const (
	TagPrefixProjectGroup = "ProjectGroup:"
	TagPrefixInfoSystem   = "InfoSystem:"
)

// IssueStore provides issue persistence operations.
type IssueStore struct {
	db *gorm.DB
}

// NewIssueStore creates an issue store backed by the given database.
func NewIssueStore(db *gorm.DB) *IssueStore {
	return &IssueStore{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *IssueStore) WithTx(tx *gorm.DB) *IssueStore {
	return &IssueStore{db: tx}
}

// Create inserts a new issue.
func (s *IssueStore) Create(issue *Issue) error {
	if err := s.db.Create(issue).Error; err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

// Get loads an issue by id.
func (s *IssueStore) Get(id string) (*Issue, error) {
	var issue Issue
	if err := s.db.First(&issue, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}

// List returns issues, optionally filtered by status.
func (s *IssueStore) List(status IssueStatus) ([]Issue, error) {
	var issues []Issue
	q := s.db.Order("create_time DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&issues).Error; err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

// ListOpen returns all issues that still accept alerts.
func (s *IssueStore) ListOpen() ([]Issue, error) {
	return s.List(IssueStatusOpen)
}

// Save persists all fields of an already-loaded issue.
func (s *IssueStore) Save(issue *Issue) error {
	if err := s.db.Save(issue).Error; err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}
	return nil
}

// Delete removes an issue row.
func (s *IssueStore) Delete(id string) error {
	return s.db.Delete(&Issue{}, "id = ?", id).Error
}

// IssueAggregates holds the values recomputed from an issue's current
// member alerts.
type IssueAggregates struct {
	Severity           string
	HostCritical       string
	Hosts              []string
	ProjectGroups      []string
	InfoSystems        []string
	LastAlertTime      *time.Time
	EarliestCreateTime *time.Time
}

// AggregateAlerts derives issue aggregate fields from member alerts.
// Expired alerts do not contribute.
func AggregateAlerts(alerts []Alert) IssueAggregates {
	agg := IssueAggregates{
		Severity:      "normal",
		HostCritical:  "0",
		Hosts:         []string{},
		ProjectGroups: []string{},
		InfoSystems:   []string{},
	}
	severityWeight := 1
	hostSeen := map[string]bool{}
	pgSeen := map[string]bool{}
	isSeen := map[string]bool{}

	for i := range alerts {
		a := &alerts[i]
		if a.Status == alarm.StatusExpired {
			continue
		}
		if w, name := issueSeverityOf(a.Severity); w > severityWeight {
			severityWeight = w
			agg.Severity = name
		}
		if a.Attributes.HostCritical == "1" {
			agg.HostCritical = "1"
		}
		if a.Event != "" && !hostSeen[a.Event] {
			hostSeen[a.Event] = true
			agg.Hosts = append(agg.Hosts, a.Event)
		}
		for _, tag := range a.Tags {
			if v, ok := strings.CutPrefix(tag, TagPrefixProjectGroup); ok && v != "" && !pgSeen[v] {
				pgSeen[v] = true
				agg.ProjectGroups = append(agg.ProjectGroups, v)
			}
			if v, ok := strings.CutPrefix(tag, TagPrefixInfoSystem); ok && v != "" && !isSeen[v] {
				isSeen[v] = true
				agg.InfoSystems = append(agg.InfoSystems, v)
			}
		}
		created := a.CreateTime
		if agg.EarliestCreateTime == nil || created.Before(*agg.EarliestCreateTime) {
			t := created
			agg.EarliestCreateTime = &t
		}
		if agg.LastAlertTime == nil || created.After(*agg.LastAlertTime) {
			t := created
			agg.LastAlertTime = &t
		}
	}
	return agg
}

// issueSeverityOf collapses the full severity scale into the four issue
// severity buckets and their ordering weight.
func issueSeverityOf(s alarm.Severity) (int, string) {
	switch s {
	case alarm.SeverityCritical, alarm.SeveritySecurity:
		return 5, "critical"
	case alarm.SeverityHigh:
		return 4, "high"
	case alarm.SeverityMedium, alarm.SeverityMajor:
		return 3, "medium"
	default:
		return 1, "normal"
	}
}
