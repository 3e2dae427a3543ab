package httpapi_test

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/fr-k12/data"
	"github.com/p-n-ai/fr-k12/internal/catalog"
	"github.com/p-n-ai/fr-k12/internal/httpapi"
	"github.com/p-n-ai/fr-k12/internal/lesson"
	"github.com/p-n-ai/fr-k12/internal/progress"
	"github.com/p-n-ai/fr-k12/internal/report"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	return newTestMuxWithDelay(t, 10*time.Millisecond)
}

func newTestMuxWithDelay(t *testing.T, delay time.Duration) *http.ServeMux {
	t.Helper()
	loader, err := catalog.NewLoader(data.Catalog)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	svc, err := lesson.NewService(lesson.Config{
		Catalog:      loader,
		Backend:      progress.NewMemoryBackend(),
		AdvanceDelay: delay,
		NewRand:      func() *rand.Rand { return rand.New(rand.NewPCG(7, 7)) },
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	mux := http.NewServeMux()
	httpapi.New(svc, nil).Register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGrades(t *testing.T) {
	rec := do(t, newTestMux(t), http.MethodGet, "/api/grades", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Grades []catalog.Grade `json:"grades"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Grades) != 3 || body.Grades[0].ID != "g1" {
		t.Errorf("grades = %+v", body.Grades)
	}
}

func TestLessons(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, http.MethodPut, "/api/progress/ana/grades/g1/lessons/g1-animaux", `{"percent": 100}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(t, mux, http.MethodGet, "/api/grades/g1/lessons?learner=ana", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view lesson.GradeLessons
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Stars != 1 || len(view.Lessons) != 2 {
		t.Fatalf("view = %+v", view)
	}
	for _, l := range view.Lessons {
		want := 0
		if l.ID == "g1-animaux" {
			want = 100
		}
		if l.Percent != want {
			t.Errorf("%s percent = %d, want %d", l.ID, l.Percent, want)
		}
	}
}

func TestErrors(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{"unknown grade", http.MethodGet, "/api/grades/g9/lessons", "", http.StatusNotFound},
		{"invalid learner", http.MethodGet, "/api/grades/g1/lessons?learner=a:b", "", http.StatusBadRequest},
		{"percent too high", http.MethodPut, "/api/progress/ana/grades/g1/lessons/g1-animaux", `{"percent": 120}`, http.StatusBadRequest},
		{"percent missing", http.MethodPut, "/api/progress/ana/grades/g1/lessons/g1-animaux", `{}`, http.StatusBadRequest},
		{"malformed body", http.MethodPut, "/api/progress/ana/grades/g1/lessons/g1-animaux", `{`, http.StatusBadRequest},
		{"lesson not in grade", http.MethodPut, "/api/progress/ana/grades/g2/lessons/g1-animaux", `{"percent": 10}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, tt.method, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("body = %s, want JSON error", rec.Body)
			}
		})
	}
}

func TestProgress(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, http.MethodGet, "/api/progress/bob/grades/g2", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"completed":{},"stars":0}` {
		t.Errorf("empty grade = %d %s", rec.Code, rec.Body)
	}

	do(t, mux, http.MethodPut, "/api/progress/bob/grades/g2/lessons/g2-couleurs", `{"percent": 60}`)
	do(t, mux, http.MethodPut, "/api/progress/bob/grades/g2/lessons/g2-couleurs", `{"percent": 30}`)

	rec = do(t, mux, http.MethodGet, "/api/progress/bob", "")
	var db progress.Database
	if err := json.Unmarshal(rec.Body.Bytes(), &db); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if db["g2"].Completed["g2-couleurs"] != 60 {
		t.Errorf("stored percent = %d, want best 60", db["g2"].Completed["g2-couleurs"])
	}
}

func TestExport(t *testing.T) {
	mux := newTestMux(t)
	do(t, mux, http.MethodPut, "/api/progress/ana/grades/g3/lessons/g3-etre", `{"percent": 100}`)

	rec := do(t, mux, http.MethodGet, "/api/progress/ana/export.xlsx", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Content-Type") != report.ContentType {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(report.SummarySheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 4 || rows[3][0] != "g3" || rows[3][3] != "1" {
		t.Errorf("summary = %v", rows)
	}
}

func TestStatic(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, http.MethodGet, "/data/lessons_index.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	if !strings.HasPrefix(etag, `"`) || rec.Header().Get("Cache-Control") != "no-cache" {
		t.Errorf("headers = %v", rec.Header())
	}
	if !json.Valid(rec.Body.Bytes()) {
		t.Error("index body is not JSON")
	}

	req := httptest.NewRequest(http.MethodGet, "/data/lessons_index.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified || rec.Body.Len() != 0 {
		t.Errorf("revalidation = %d with %d bytes, want 304 empty", rec.Code, rec.Body.Len())
	}

	rec = do(t, mux, http.MethodGet, "/data/lessons/g2-couleurs.json", "")
	if rec.Code != http.StatusOK || rec.Header().Get("ETag") == etag {
		t.Errorf("lesson file = %d etag %s", rec.Code, rec.Header().Get("ETag"))
	}

	for _, target := range []string{"/data/lessons/missing.json", "/data/lessons/g1-animaux.txt"} {
		if rec := do(t, mux, http.MethodGet, target, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", target, rec.Code)
		}
	}
}
