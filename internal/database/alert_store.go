package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/alerthub/alerthub/internal/alarm"
)

// AlertStore provides alert persistence operations.
type AlertStore struct {
	db *gorm.DB
}

// NewAlertStore creates an alert store backed by the given database.
func NewAlertStore(db *gorm.DB) *AlertStore {
	return &AlertStore{db: db}
}

// DB exposes the underlying handle for transactional callers.
func (s *AlertStore) DB() *gorm.DB {
	return s.db
}

// WithTx returns a store bound to the given transaction.
func (s *AlertStore) WithTx(tx *gorm.DB) *AlertStore {
	return &AlertStore{db: tx}
}

// Create inserts a new alert row.
func (s *AlertStore) Create(alert *Alert) error {
	if err := s.db.Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// Get loads an alert by id. Returns gorm.ErrRecordNotFound when missing.
func (s *AlertStore) Get(id string) (*Alert, error) {
	var alert Alert
	if err := s.db.First(&alert, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// GetMany loads a batch of alerts by id.
func (s *AlertStore) GetMany(ids []string) ([]Alert, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var alerts []Alert
	if err := s.db.Where("id IN ?", ids).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}
	return alerts, nil
}

// Save persists all fields of an already-loaded alert.
func (s *AlertStore) Save(alert *Alert) error {
	if err := s.db.Save(alert).Error; err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// Delete removes an alert row.
func (s *AlertStore) Delete(id string) error {
	return s.db.Delete(&Alert{}, "id = ?", id).Error
}

// MatchKind distinguishes how an incoming alert relates to a stored one.
type MatchKind int

const (
	MatchNone MatchKind = iota
	// MatchDuplicate means same environment, resource, event and severity.
	MatchDuplicate
	// MatchCorrelated means same environment and resource with either the
	// same event at a different severity, or an event listed in the stored
	// alert's correlate set.
	MatchCorrelated
)

// FindRelated looks for a stored alert the incoming one duplicates or
// correlates with. Candidates share environment and resource and must
// still be live: closed and expired alerts never absorb a recurrence,
// it opens a fresh alert instead. The match kind is decided in one pass
// so a duplicate always wins over a correlate.
func (s *AlertStore) FindRelated(incoming *Alert) (*Alert, MatchKind, error) {
	var candidates []Alert
	err := s.db.
		Where("environment = ? AND resource = ?", incoming.Environment, incoming.Resource).
		Where("status NOT IN ?", []alarm.Status{alarm.StatusClosed, alarm.StatusExpired}).
		Order("last_receive_time DESC").
		Find(&candidates).Error
	if err != nil {
		return nil, MatchNone, fmt.Errorf("failed to query related alerts: %w", err)
	}

	var correlated *Alert
	for i := range candidates {
		cand := &candidates[i]
		if cand.ID == incoming.ID {
			continue
		}
		if cand.Event == incoming.Event {
			if cand.Severity == incoming.Severity {
				return cand, MatchDuplicate, nil
			}
			if correlated == nil {
				correlated = cand
			}
			continue
		}
		if cand.Correlate.Contains(incoming.Event) && correlated == nil {
			correlated = cand
		}
	}
	if correlated != nil {
		return correlated, MatchCorrelated, nil
	}
	return nil, MatchNone, nil
}

// TouchLastReceive bumps only the last receive bookkeeping of an alert.
// This is the whole of deduplication, so repeated duplicates are idempotent
// apart from the timestamp.
func (s *AlertStore) TouchLastReceive(id string, receiveTime time.Time) error {
	return s.db.Model(&Alert{}).Where("id = ?", id).
		Update("last_receive_time", receiveTime).Error
}

// AlertFilter narrows List results. Zero-value fields are ignored.
type AlertFilter struct {
	Status      alarm.Status
	Environment string
	Resource    string
	Event       string
	Severity    alarm.Severity
	Limit       int
	Offset      int
}

// List returns alerts matching the filter, newest last-receive first, plus
// the total match count before pagination.
func (s *AlertStore) List(f AlertFilter) ([]Alert, int64, error) {
	q := s.db.Model(&Alert{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Environment != "" {
		q = q.Where("environment = ?", f.Environment)
	}
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if f.Event != "" {
		q = q.Where("event = ?", f.Event)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	q = q.Order("last_receive_time DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var alerts []Alert
	if err := q.Find(&alerts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, total, nil
}

// FindIncidentParents returns all correlation group parents, newest first.
func (s *AlertStore) FindIncidentParents() ([]Alert, error) {
	var alerts []Alert
	err := s.db.
		Order("create_time DESC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query incident parents: %w", err)
	}
	parents := alerts[:0]
	for _, a := range alerts {
		if a.Attributes.Incident {
			parents = append(parents, a)
		}
	}
	return parents, nil
}

// MassUpdateAttributes overwrites the attributes of many alerts in one
// transaction. A failure rolls back every update.
func (s *AlertStore) MassUpdateAttributes(updates map[string]AlertAttributes) error {
	if len(updates) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for id, attrs := range updates {
			if err := tx.Model(&Alert{}).Where("id = ?", id).
				Update("attributes", attrs).Error; err != nil {
				return fmt.Errorf("failed to update attributes for %s: %w", id, err)
			}
		}
		return nil
	})
}

// MassUpdateLastReceiveTime sets last receive times for many alerts in one
// transaction.
func (s *AlertStore) MassUpdateLastReceiveTime(updates map[string]time.Time) error {
	if len(updates) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for id, t := range updates {
			if err := tx.Model(&Alert{}).Where("id = ?", id).
				Update("last_receive_time", t).Error; err != nil {
				return fmt.Errorf("failed to update last receive time for %s: %w", id, err)
			}
		}
		return nil
	})
}

// MassUpdateStatus sets the status of many alerts at once.
func (s *AlertStore) MassUpdateStatus(ids []string, status alarm.Status, updateTime time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&Alert{}).Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":      status,
			"update_time": updateTime,
		}).Error
}

// UpdateIssueID links or unlinks a batch of alerts to an issue. A nil
// issueID clears the link.
func (s *AlertStore) UpdateIssueID(ids []string, issueID *string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&Alert{}).Where("id IN ?", ids).
		Update("issue_id", issueID).Error
}

// ByIssue returns all alerts linked to an issue.
func (s *AlertStore) ByIssue(issueID string) ([]Alert, error) {
	var alerts []Alert
	if err := s.db.Where("issue_id = ?", issueID).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to load alerts for issue %s: %w", issueID, err)
	}
	return alerts, nil
}

// DueForExpiry returns alerts whose timeout has elapsed since the last
// receive time. Closed and already-expired alerts are left alone.
func (s *AlertStore) DueForExpiry(now time.Time) ([]Alert, error) {
	var alerts []Alert
	err := s.db.
		Where("status NOT IN ?", []alarm.Status{alarm.StatusClosed, alarm.StatusExpired}).
		Where("timeout > 0").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts for expiry: %w", err)
	}
	due := alerts[:0]
	for _, a := range alerts {
		deadline := a.LastReceiveTime.Add(time.Duration(a.Timeout) * time.Second)
		if now.After(deadline) {
			due = append(due, a)
		}
	}
	return due, nil
}

// DueForStatusTimeout returns alerts sitting in the given status longer
// than maxAge.
func (s *AlertStore) DueForStatusTimeout(status alarm.Status, maxAge time.Duration, now time.Time) ([]Alert, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	var alerts []Alert
	err := s.db.
		Where("status = ? AND update_time < ?", status, now.Add(-maxAge)).
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query %s alerts for timeout: %w", status, err)
	}
	return alerts, nil
}

// IsFlapping reports whether the alert's severity changed more than
// threshold times inside the window.
func IsFlapping(alert *Alert, window time.Duration, threshold int, now time.Time) bool {
	if threshold <= 0 {
		return false
	}
	cutoff := now.Add(-window)
	changes := 0
	for _, h := range alert.History {
		if h.ChangeType != ChangeSeverity {
			continue
		}
		if h.UpdateTime.Before(cutoff) {
			break
		}
		changes++
	}
	return changes > threshold
}

// ActiveBlackout returns a blackout window covering the alert right now,
// or nil when none applies.
func (s *AlertStore) ActiveBlackout(alert *Alert, now time.Time) (*Blackout, error) {
	var blackouts []Blackout
	err := s.db.
		Where("start_time <= ? AND end_time > ?", now, now).
		Find(&blackouts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query blackouts: %w", err)
	}
	for i := range blackouts {
		if blackouts[i].Matches(alert) {
			return &blackouts[i], nil
		}
	}
	return nil, nil
}

// CreateBlackout stores a suppression window.
func (s *AlertStore) CreateBlackout(b *Blackout) error {
	return s.db.Create(b).Error
}

// ErrNotFound is returned by lookups for missing rows.
var ErrNotFound = gorm.ErrRecordNotFound

// IsNotFound reports whether the error is a missing-row lookup error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
