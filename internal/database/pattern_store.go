package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// PatternStore provides pattern persistence and audit-trail operations.
type PatternStore struct {
	db *gorm.DB
}

// NewPatternStore creates a pattern store backed by the given database.
func NewPatternStore(db *gorm.DB) *PatternStore {
	return &PatternStore{db: db}
}

// List returns every stored pattern ordered by ascending priority.
func (s *PatternStore) List() ([]Pattern, error) {
	var patterns []Pattern
	if err := s.db.Order("priority ASC, name ASC").Find(&patterns).Error; err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	return patterns, nil
}

// Get loads a pattern by id.
func (s *PatternStore) Get(id string) (*Pattern, error) {
	var pattern Pattern
	if err := s.db.First(&pattern, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &pattern, nil
}

// Create inserts a new pattern.
func (s *PatternStore) Create(p *Pattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.CreateTime = now
	p.UpdateTime = now
	if err := s.db.Create(p).Error; err != nil {
		return fmt.Errorf("failed to create pattern: %w", err)
	}
	return nil
}

// Update saves changed pattern fields.
func (s *PatternStore) Update(p *Pattern) error {
	p.UpdateTime = time.Now()
	if err := s.db.Save(p).Error; err != nil {
		return fmt.Errorf("failed to update pattern: %w", err)
	}
	return nil
}

// Delete removes a pattern.
func (s *PatternStore) Delete(id string) error {
	return s.db.Delete(&Pattern{}, "id = ?", id).Error
}

// RecordMatch appends a pattern-match audit row.
func (s *PatternStore) RecordMatch(m *PatternMatch) error {
	if err := s.db.Create(m).Error; err != nil {
		return fmt.Errorf("failed to record pattern match: %w", err)
	}
	return nil
}

// MatchHistory returns pattern-match audit rows, newest first.
func (s *PatternStore) MatchHistory(limit int) ([]PatternMatch, error) {
	var matches []PatternMatch
	q := s.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("failed to list pattern matches: %w", err)
	}
	return matches, nil
}

// RecordMove appends a move audit row.
func (s *PatternStore) RecordMove(m *MoveRecord) error {
	if err := s.db.Create(m).Error; err != nil {
		return fmt.Errorf("failed to record move: %w", err)
	}
	return nil
}

// MoveHistory returns move audit rows, newest first.
func (s *PatternStore) MoveHistory(limit int) ([]MoveRecord, error) {
	var moves []MoveRecord
	q := s.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&moves).Error; err != nil {
		return nil, fmt.Errorf("failed to list move records: %w", err)
	}
	return moves, nil
}

// seedPattern is one entry of the YAML pattern seed file.
type seedPattern struct {
	Name     string `yaml:"name"`
	Rule     string `yaml:"rule"`
	Priority int    `yaml:"priority"`
	IsActive *bool  `yaml:"is_active"`
}

// SeedFromFile loads default patterns from a YAML file when the patterns
// table is empty. A missing file is not an error.
func (s *PatternStore) SeedFromFile(path string) error {
	if path == "" {
		return nil
	}

	var count int64
	if err := s.db.Model(&Pattern{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count patterns: %w", err)
	}
	if count > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("No pattern seed file at %s, starting with an empty pattern set", path)
			return nil
		}
		return fmt.Errorf("failed to read pattern seed file: %w", err)
	}

	var seeds []seedPattern
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("failed to parse pattern seed file: %w", err)
	}

	for _, seed := range seeds {
		if seed.Name == "" || seed.Rule == "" {
			log.Printf("Skipping seed pattern with missing name or rule: %+v", seed)
			continue
		}
		active := true
		if seed.IsActive != nil {
			active = *seed.IsActive
		}
		p := &Pattern{
			Name:     seed.Name,
			Rule:     seed.Rule,
			Priority: seed.Priority,
			IsActive: active,
		}
		if err := s.Create(p); err != nil {
			return err
		}
	}
	log.Printf("Seeded %d patterns from %s", len(seeds), path)
	return nil
}
