// Package testhelpers provides the shared in-memory test database
// opener, data builders and mock implementations used by the package
// tests.
package testhelpers

import (
	"strconv"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/alerthub/alerthub/internal/alarm"
	"github.com/alerthub/alerthub/internal/database"
)

// OpenTestDB opens an in-memory sqlite database and migrates the given
// models.
func OpenTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// ========================================
// Mock Rate Limiter
// ========================================

// MockRateLimiter implements the ingest rate limiter for testing.
// It records the origins it was asked about and denies the ones listed
// in Denied.
type MockRateLimiter struct {
	mu      sync.Mutex
	Denied  map[string]bool
	Origins []string
}

// NewMockRateLimiter creates a mock limiter that allows everything
func NewMockRateLimiter() *MockRateLimiter {
	return &MockRateLimiter{Denied: map[string]bool{}}
}

// Deny configures an origin to be rejected
func (m *MockRateLimiter) Deny(origin string) *MockRateLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Denied[origin] = true
	return m
}

// Allow records the origin and reports whether it is admitted
func (m *MockRateLimiter) Allow(origin string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Origins = append(m.Origins, origin)
	return !m.Denied[origin]
}

// CallCount returns how many times Allow was invoked
func (m *MockRateLimiter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Origins)
}

// ========================================
// Mock Ticket Tracker
// ========================================

// MockTracker stands in for the external issue tracker. It implements
// both ticket creation and workflow transitions.
type MockTracker struct {
	mu            sync.Mutex
	CreateErr     error
	TransitionErr error
	Created       []string
	Transitions   map[string]alarm.TicketTransition
	nextKey       int
}

// NewMockTracker creates a mock tracker
func NewMockTracker() *MockTracker {
	return &MockTracker{Transitions: map[string]alarm.TicketTransition{}}
}

// CreateTicket records the alert and returns a synthetic ticket key
func (m *MockTracker) CreateTicket(alert *database.Alert) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", "", m.CreateErr
	}
	m.nextKey++
	key := "TEST-" + strconv.Itoa(m.nextKey)
	m.Created = append(m.Created, alert.ID)
	return key, "https://tracker.test/" + key, nil
}

// TransitionTicket records the requested workflow transition
func (m *MockTracker) TransitionTicket(ticketKey string, transition alarm.TicketTransition) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TransitionErr != nil {
		return "", m.TransitionErr
	}
	m.Transitions[ticketKey] = transition
	return string(transition), nil
}

// CreatedCount returns how many tickets were opened
func (m *MockTracker) CreatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Created)
}
