// Package lesson drives the grade → lesson → player flow: it lists grades
// and lessons with the learner's progress and sequences the activities of
// an opened lesson.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/p-n-ai/fr-k12/internal/activity"
	"github.com/p-n-ai/fr-k12/internal/catalog"
	"github.com/p-n-ai/fr-k12/internal/progress"
)

// DefaultAdvanceDelay is how long a correct answer stays on screen before
// the player moves to the next activity.
const DefaultAdvanceDelay = 300 * time.Millisecond

// ErrEmptyLesson is returned when opening a lesson without activities.
var ErrEmptyLesson = errors.New("lesson has no activities")

// Config configures a Service.
type Config struct {
	Catalog   *catalog.Loader
	Backend   progress.Backend
	KeyPrefix string
	Policy    progress.Policy
	Events    EventLogger
	// AdvanceDelay defaults to DefaultAdvanceDelay when zero.
	AdvanceDelay time.Duration
	// NewRand returns the random source of each opened player. A randomly
	// seeded source is used when nil.
	NewRand func() *rand.Rand
	Logger  *slog.Logger
}

// Service is the entry point of the lesson controller.
type Service struct {
	catalog      *catalog.Loader
	backend      progress.Backend
	keyPrefix    string
	policy       progress.Policy
	events       EventLogger
	advanceDelay time.Duration
	newRand      func() *rand.Rand
	logger       *slog.Logger
}

// NewService creates a lesson service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("progress backend is required")
	}

	s := &Service{
		catalog:      cfg.Catalog,
		backend:      cfg.Backend,
		keyPrefix:    cfg.KeyPrefix,
		policy:       cfg.Policy,
		events:       cfg.Events,
		advanceDelay: cfg.AdvanceDelay,
		newRand:      cfg.NewRand,
		logger:       cfg.Logger,
	}
	if s.events == nil {
		s.events = NopEventLogger{}
	}
	if s.advanceDelay <= 0 {
		s.advanceDelay = DefaultAdvanceDelay
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Grades returns the grade list view.
func (s *Service) Grades() []catalog.Grade {
	return s.catalog.Grades()
}

// Catalog returns the loader the service reads lessons from.
func (s *Service) Catalog() *catalog.Loader {
	return s.catalog
}

// Progress returns the progress store of a learner.
func (s *Service) Progress(learnerID string) *progress.Store {
	return progress.NewStore(s.backend, progress.Key(s.keyPrefix, learnerID), s.policy)
}

// HealthCheck reports whether the progress backend is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

// LessonSummary is a lesson list row.
type LessonSummary struct {
	catalog.LessonMeta
	Percent int `json:"percent"`
}

// GradeLessons is the lesson list view of one grade.
type GradeLessons struct {
	Grade   catalog.Grade   `json:"grade"`
	Lessons []LessonSummary `json:"lessons"`
	Stars   int             `json:"stars"`
}

// Lessons returns the lessons of a grade with the learner's stored
// percentages.
func (s *Service) Lessons(ctx context.Context, learnerID, gradeID string) (GradeLessons, error) {
	grade, ok := s.catalog.Grade(gradeID)
	if !ok {
		return GradeLessons{}, fmt.Errorf("%w: %s", catalog.ErrGradeNotFound, gradeID)
	}
	metas, err := s.catalog.Lessons(gradeID)
	if err != nil {
		return GradeLessons{}, err
	}

	gp, err := s.Progress(learnerID).GetGrade(ctx, gradeID)
	if err != nil {
		return GradeLessons{}, fmt.Errorf("loading progress: %w", err)
	}

	view := GradeLessons{
		Grade:   grade,
		Lessons: make([]LessonSummary, 0, len(metas)),
		Stars:   gp.Stars,
	}
	for _, m := range metas {
		view.Lessons = append(view.Lessons, LessonSummary{LessonMeta: m, Percent: gp.Completed[m.ID]})
	}
	return view, nil
}

// OpenRequest identifies the lesson to play.
type OpenRequest struct {
	LearnerID string
	GradeID   string
	LessonID  string
	// Speaker plays flashcards and speak phrases. Speech is unavailable
	// when nil.
	Speaker activity.Speaker
}

// Open reads the lesson document and returns a player positioned on the
// first activity.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Player, error) {
	if _, ok := s.catalog.Grade(req.GradeID); !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrGradeNotFound, req.GradeID)
	}
	meta, ok := s.catalog.LessonMeta(req.GradeID, req.LessonID)
	if !ok {
		return nil, fmt.Errorf("%w: %s in grade %s", catalog.ErrLessonNotFound, req.LessonID, req.GradeID)
	}

	l, err := s.catalog.Lesson(ctx, req.LessonID)
	if err != nil {
		return nil, err
	}
	if len(l.Activities) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyLesson, req.LessonID)
	}
	if l.ID != "" && l.ID != meta.ID {
		s.logger.Warn("lesson file id differs from index", "lesson_id", meta.ID, "file_id", l.ID)
	}
	// Progress and events are keyed by the index id.
	l.ID = meta.ID
	if meta.Title != "" {
		l.Title = meta.Title
	}
	if l.Type == "" {
		l.Type = meta.Type
	}

	var r *rand.Rand
	if s.newRand != nil {
		r = s.newRand()
	}
	logger := s.logger.With("learner_id", req.LearnerID, "grade_id", req.GradeID, "lesson_id", l.ID)

	p := &Player{
		learnerID:    req.LearnerID,
		gradeID:      req.GradeID,
		lesson:       l,
		engine:       activity.NewEngine(activity.Options{Rand: r, Speaker: req.Speaker, Logger: logger}),
		store:        s.Progress(req.LearnerID),
		events:       s.events,
		logger:       logger,
		advanceDelay: s.advanceDelay,
		best:         make([]int, len(l.Activities)),
	}
	p.SetActivity(0)

	p.logEvent(EventLessonOpened, map[string]any{"activities": len(l.Activities)})
	logger.Info("lesson opened", "activities", len(l.Activities))
	return p, nil
}
