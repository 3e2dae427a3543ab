// Package httpapi exposes the lesson catalogue, learner progress and the
// interactive lesson player over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/p-n-ai/fr-k12/internal/catalog"
	"github.com/p-n-ai/fr-k12/internal/lesson"
	"github.com/p-n-ai/fr-k12/internal/progress"
)

var validLearner = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

var errInvalidLearner = errors.New("invalid learner id")

// Server serves the JSON API, the static catalogue files and the player.
type Server struct {
	lessons *lesson.Service
	logger  *slog.Logger
}

// New creates an API server backed by a lesson service.
func New(lessons *lesson.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{lessons: lessons, logger: logger}
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/grades", s.handleGrades)
	mux.HandleFunc("GET /api/grades/{grade}/lessons", s.handleLessons)
	mux.HandleFunc("GET /api/progress/{learner}", s.handleProgress)
	mux.HandleFunc("GET /api/progress/{learner}/grades/{grade}", s.handleGradeProgress)
	mux.HandleFunc("PUT /api/progress/{learner}/grades/{grade}/lessons/{lesson}", s.handleSetLessonProgress)
	mux.HandleFunc("GET /api/progress/{learner}/export.xlsx", s.handleExport)
	mux.HandleFunc("GET /data/lessons_index.json", s.handleStatic)
	mux.HandleFunc("GET /data/lessons/{file}", s.handleStatic)
	mux.HandleFunc("GET /ws/play", s.handlePlay)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses and writes {"error": ...}.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, catalog.ErrGradeNotFound),
		errors.Is(err, catalog.ErrLessonNotFound):
		return http.StatusNotFound
	case errors.Is(err, progress.ErrInvalidPercent),
		errors.Is(err, errInvalidLearner),
		errors.Is(err, errBadBody):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// learner returns the learner id of a request. An empty id selects the
// shared anonymous progress document.
func learner(id string) (string, error) {
	if id == "" {
		return "", nil
	}
	if !validLearner.MatchString(id) {
		return "", errInvalidLearner
	}
	return id, nil
}
