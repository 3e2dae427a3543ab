// Package progress records per-grade lesson completion and stars for a learner.
//
// All of a learner's progress lives in one JSON document stored under a
// single namespaced key, e.g.
//
//	{"g1": {"completed": {"g1-salutations": 100}, "stars": 1}}
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
)

// DefaultKeyPrefix namespaces progress documents in the backend.
const DefaultKeyPrefix = "fr_k12_progress_v1"

var (
	// ErrNotFound is returned by a Backend when no document exists for a key.
	ErrNotFound = errors.New("progress not found")
	// ErrInvalidPercent is returned for a completion percentage outside 0..100.
	ErrInvalidPercent = errors.New("percent must be between 0 and 100")
)

// Policy decides how a new completion percentage combines with the stored one.
type Policy string

const (
	// PolicyMax keeps the best percentage ever reached and awards a lesson's
	// star once, the first time it reaches 100.
	PolicyMax Policy = "max"
	// PolicyLatest stores the latest percentage and awards a star every time
	// 100 is recorded.
	PolicyLatest Policy = "latest"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyMax, PolicyLatest:
		return p, nil
	}
	return "", fmt.Errorf("unknown progress policy %q", s)
}

// GradeProgress is a learner's record for one grade.
type GradeProgress struct {
	Completed map[string]int `json:"completed"`
	Stars     int            `json:"stars"`
}

// NewGradeProgress returns the empty record.
func NewGradeProgress() GradeProgress {
	return GradeProgress{Completed: map[string]int{}}
}

// Database maps grade IDs to progress records.
type Database map[string]GradeProgress

// Grade returns the record of a grade, or the empty record.
func (db Database) Grade(id string) GradeProgress {
	gp, ok := db[id]
	if !ok {
		return NewGradeProgress()
	}
	if gp.Completed == nil {
		gp.Completed = map[string]int{}
	}
	return gp
}

// Backend persists raw progress documents by key.
type Backend interface {
	// Read returns the document stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write replaces the document stored under key.
	Write(ctx context.Context, key string, data []byte) error
	// Update atomically replaces the document under key with the result of
	// fn. fn receives nil when no document exists and may be called more
	// than once if a concurrent writer interferes.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
	HealthCheck(ctx context.Context) error
}

// Key returns the backend key of a learner's progress document.
func Key(prefix, learnerID string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if learnerID == "" {
		return prefix
	}
	return prefix + ":" + learnerID
}

// Store reads and updates the progress document under one key.
type Store struct {
	backend Backend
	key     string
	policy  Policy
	logger  *slog.Logger
}

// NewStore binds a backend key. An empty policy means PolicyMax.
func NewStore(backend Backend, key string, policy Policy) *Store {
	if policy == "" {
		policy = PolicyMax
	}
	return &Store{
		backend: backend,
		key:     key,
		policy:  policy,
		logger:  slog.Default().With("progress_key", key),
	}
}

// Key returns the backend key the store is bound to.
func (s *Store) Key() string { return s.key }

// Load returns the full progress database. A missing or unreadable
// document yields an empty database.
func (s *Store) Load(ctx context.Context) (Database, error) {
	data, err := s.backend.Read(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Database{}, nil
		}
		return nil, fmt.Errorf("reading progress: %w", err)
	}
	return s.parse(data), nil
}

// Save persists the whole database.
func (s *Store) Save(ctx context.Context, db Database) error {
	if db == nil {
		db = Database{}
	}
	data, err := json.Marshal(db)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	if err := s.backend.Write(ctx, s.key, data); err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	return nil
}

// GetGrade returns the record of one grade.
func (s *Store) GetGrade(ctx context.Context, gradeID string) (GradeProgress, error) {
	db, err := s.Load(ctx)
	if err != nil {
		return GradeProgress{}, err
	}
	return db.Grade(gradeID), nil
}

// SetLessonProgress records a lesson's completion percentage and returns
// the updated grade record.
func (s *Store) SetLessonProgress(ctx context.Context, gradeID, lessonID string, percent int) (GradeProgress, error) {
	if percent < 0 || percent > 100 {
		return GradeProgress{}, fmt.Errorf("%w: %d", ErrInvalidPercent, percent)
	}

	var updated GradeProgress
	err := s.backend.Update(ctx, s.key, func(current []byte) ([]byte, error) {
		db := Database{}
		if current != nil {
			db = s.parse(current)
		}
		gp := db.Grade(gradeID)
		gp.Completed = maps.Clone(gp.Completed)
		apply(&gp, s.policy, lessonID, percent)
		db[gradeID] = gp
		updated = gp
		return json.Marshal(db)
	})
	if err != nil {
		return GradeProgress{}, fmt.Errorf("updating progress: %w", err)
	}

	s.logger.Debug("lesson progress recorded",
		"grade_id", gradeID,
		"lesson_id", lessonID,
		"percent", updated.Completed[lessonID],
		"stars", updated.Stars,
	)
	return updated, nil
}

func apply(gp *GradeProgress, policy Policy, lessonID string, percent int) {
	prev, seen := gp.Completed[lessonID]
	switch policy {
	case PolicyLatest:
		gp.Completed[lessonID] = percent
		if percent == 100 {
			gp.Stars++
		}
	default:
		if !seen || percent > prev {
			gp.Completed[lessonID] = percent
		}
		if percent == 100 && prev < 100 {
			gp.Stars++
		}
	}
}

func (s *Store) parse(data []byte) Database {
	var db Database
	if err := json.Unmarshal(data, &db); err != nil || db == nil {
		if err != nil {
			s.logger.Warn("discarding unreadable progress", "error", err)
		}
		return Database{}
	}
	return db
}
