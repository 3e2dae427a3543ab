package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/p-n-ai/fr-k12/internal/catalog"
	"github.com/p-n-ai/fr-k12/internal/report"
)

const maxBodyBytes = 1 << 10

var errBadBody = errors.New("invalid request body")

func (s *Server) handleGrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"grades": s.lessons.Grades()})
}

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	id, err := learner(r.URL.Query().Get("learner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.lessons.Lessons(r.Context(), id, r.PathValue("grade"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, err := learner(r.PathValue("learner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	db, err := s.lessons.Progress(id).Load(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, db)
}

func (s *Server) handleGradeProgress(w http.ResponseWriter, r *http.Request) {
	id, err := learner(r.PathValue("learner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	gp, err := s.lessons.Progress(id).GetGrade(r.Context(), r.PathValue("grade"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gp)
}

type setProgressRequest struct {
	Percent *int `json:"percent"`
}

func (s *Server) handleSetLessonProgress(w http.ResponseWriter, r *http.Request) {
	id, err := learner(r.PathValue("learner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	gradeID, lessonID := r.PathValue("grade"), r.PathValue("lesson")
	if _, ok := s.lessons.Catalog().LessonMeta(gradeID, lessonID); !ok {
		s.writeError(w, r, fmt.Errorf("%w: %s in grade %s", catalog.ErrLessonNotFound, lessonID, gradeID))
		return
	}

	var req setProgressRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadBody, err))
		return
	}
	if req.Percent == nil {
		s.writeError(w, r, fmt.Errorf("%w: percent is required", errBadBody))
		return
	}

	gp, err := s.lessons.Progress(id).SetLessonProgress(r.Context(), gradeID, lessonID, *req.Percent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := learner(r.PathValue("learner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	db, err := s.lessons.Progress(id).Load(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, s.lessons.Catalog().Index(), db); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="progress-%s.xlsx"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleStatic serves the raw catalogue documents with a content ETag so
// clients can revalidate cached copies.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/data/")
	data, err := s.lessons.Catalog().ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		s.writeError(w, r, err)
		return
	}

	etag := catalog.ETag(data)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	switch path.Ext(name) {
	case ".yaml", ".yml":
		w.Header().Set("Content-Type", "application/yaml")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
