// Package catalog loads the grade index and lesson documents of the French
// curriculum from a filesystem.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/fr-k12/internal/activity"
)

const (
	// IndexName is the base name of the grade/lesson index document.
	IndexName = "lessons_index"
	// LessonDir holds one document per lesson, named after the lesson ID.
	LessonDir = "lessons"
)

var (
	ErrGradeNotFound  = errors.New("grade not found")
	ErrLessonNotFound = errors.New("lesson not found")
)

// documentExts are tried in order when looking up a document.
var documentExts = []string{".json", ".yaml", ".yml"}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidationError reports every schema violation found in a document.
type ValidationError struct {
	Document string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid document %s: %s", e.Document, strings.Join(e.Problems, "; "))
}

// Loader reads catalog documents from a filesystem. The index is cached and
// refreshed by Reload; lesson documents are read on every Lesson call.
type Loader struct {
	fsys    fs.FS
	schemas *schemas

	mu    sync.RWMutex
	index Index
}

// NewLoader creates a catalog loader and loads the index.
func NewLoader(fsys fs.FS) (*Loader, error) {
	s, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	l := &Loader{fsys: fsys, schemas: s}
	if err := l.Reload(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	idx := l.Index()
	lessons := 0
	for _, ls := range idx.Lessons {
		lessons += len(ls)
	}
	slog.Info("catalog loaded", "grades", len(idx.Grades), "lessons", lessons)
	return l, nil
}

// Reload re-reads and re-validates the index document.
func (l *Loader) Reload() error {
	name, data, err := l.findDocument(IndexName)
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}

	var idx Index
	if err := l.decode(name, data, l.schemas.index, &idx); err != nil {
		return err
	}
	if idx.Lessons == nil {
		idx.Lessons = make(map[string][]LessonMeta)
	}

	l.mu.Lock()
	l.index = idx
	l.mu.Unlock()
	return nil
}

// Index returns a copy of the loaded index.
func (l *Loader) Index() Index {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := Index{
		Grades:  slices.Clone(l.index.Grades),
		Lessons: make(map[string][]LessonMeta, len(l.index.Lessons)),
	}
	for g, ls := range l.index.Lessons {
		idx.Lessons[g] = slices.Clone(ls)
	}
	return idx
}

// Grades returns the grades in index order.
func (l *Loader) Grades() []Grade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.index.Grades)
}

// Grade returns a grade by ID.
func (l *Loader) Grade(id string) (Grade, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, g := range l.index.Grades {
		if g.ID == id {
			return g, true
		}
	}
	return Grade{}, false
}

// Lessons returns the lessons listed for a grade.
func (l *Loader) Lessons(gradeID string) ([]LessonMeta, error) {
	if _, ok := l.Grade(gradeID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrGradeNotFound, gradeID)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.index.Lessons[gradeID]), nil
}

// LessonMeta returns the index entry of a lesson within a grade.
func (l *Loader) LessonMeta(gradeID, lessonID string) (LessonMeta, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.index.Lessons[gradeID] {
		if m.ID == lessonID {
			return m, true
		}
	}
	return LessonMeta{}, false
}

// Lesson reads, validates and decodes the document of a lesson.
func (l *Loader) Lesson(ctx context.Context, id string) (Lesson, error) {
	if err := ctx.Err(); err != nil {
		return Lesson{}, err
	}
	if !validID.MatchString(id) {
		return Lesson{}, fmt.Errorf("%w: %q", ErrLessonNotFound, id)
	}

	name, data, err := l.findDocument(path.Join(LessonDir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Lesson{}, fmt.Errorf("%w: %s", ErrLessonNotFound, id)
		}
		return Lesson{}, fmt.Errorf("reading lesson %s: %w", id, err)
	}

	var lesson Lesson
	if err := l.decode(name, data, l.schemas.lesson, &lesson); err != nil {
		return Lesson{}, err
	}
	if lesson.ID == "" {
		lesson.ID = id
	}
	if err := checkAnswers(name, lesson.Activities); err != nil {
		return Lesson{}, err
	}
	return lesson, nil
}

// ReadFile returns the raw bytes of a catalog document for static serving.
// Only the index and files directly under the lesson directory are exposed.
func (l *Loader) ReadFile(name string) ([]byte, error) {
	dir, file := path.Split(name)
	base := strings.TrimSuffix(file, path.Ext(file))
	switch {
	case dir == "" && base == IndexName:
	case dir == LessonDir+"/" && validID.MatchString(base):
	default:
		return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	if !slices.Contains(documentExts, path.Ext(file)) {
		return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	return fs.ReadFile(l.fsys, name)
}

func (l *Loader) findDocument(base string) (string, []byte, error) {
	for _, ext := range documentExts {
		name := base + ext
		data, err := fs.ReadFile(l.fsys, name)
		if err == nil {
			return name, data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("%s: %w", base, fs.ErrNotExist)
}

// decode parses a JSON or YAML document, validates it against schema and
// decodes it into v.
func (l *Loader) decode(name string, data []byte, schema validator, v any) error {
	var doc any
	switch path.Ext(name) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return &ValidationError{Document: name, Problems: []string{err.Error()}}
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return &ValidationError{Document: name, Problems: []string{err.Error()}}
		}
	}

	if problems, err := schema.validate(doc); err != nil {
		return fmt.Errorf("validating %s: %w", name, err)
	} else if len(problems) > 0 {
		return &ValidationError{Document: name, Problems: problems}
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encoding %s: %w", name, err)
	}
	if err := json.Unmarshal(normalized, v); err != nil {
		return &ValidationError{Document: name, Problems: []string{err.Error()}}
	}
	return nil
}

// checkAnswers catches what the schema cannot express: mcq answers must
// point at an existing option.
func checkAnswers(name string, acts []activity.Activity) error {
	var problems []string
	for i, a := range acts {
		if a.Type == activity.KindMCQ && (a.AnswerIndex < 0 || a.AnswerIndex >= len(a.Options)) {
			problems = append(problems, fmt.Sprintf("activities.%d.answer: index %d outside %d options", i, a.AnswerIndex, len(a.Options)))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Document: name, Problems: problems}
	}
	return nil
}
