package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/fr-k12/internal/activity"
	"github.com/p-n-ai/fr-k12/internal/progress"
)

type frame struct {
	Type     string        `json:"type"`
	Index    int           `json:"index"`
	Total    int           `json:"total"`
	Position int           `json:"position"`
	Percent  int           `json:"percent"`
	Correct  bool          `json:"correct"`
	Score    int           `json:"score"`
	Advance  bool          `json:"advance"`
	Text     string        `json:"text"`
	Lang     string        `json:"lang"`
	Message  string        `json:"message"`
	View     activity.View `json:"view"`
}

type client struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, query string) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/play?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return &client{t: t, ctx: ctx, conn: conn}
}

func (c *client) send(cmd map[string]any) {
	c.t.Helper()
	if err := wsjson.Write(c.ctx, c.conn, cmd); err != nil {
		c.t.Fatalf("write %v: %v", cmd, err)
	}
}

func (c *client) recv(wantType string) frame {
	c.t.Helper()
	var f frame
	if err := wsjson.Read(c.ctx, c.conn, &f); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	if f.Type != wantType {
		c.t.Fatalf("frame type = %q (%+v), want %q", f.Type, f, wantType)
	}
	return f
}

func TestPlay_FullLesson(t *testing.T) {
	mux := newTestMux(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := dial(t, srv, "learner=ana&grade=g1&lesson=g1-salutations")

	f := c.recv("activity")
	if f.Index != 0 || f.Total != 4 || f.View.Widget.Kind != activity.KindFlashcards {
		t.Fatalf("first frame = %+v", f)
	}

	c.send(map[string]any{"action": "speak", "index": 0})
	f = c.recv("speak")
	if f.Text != "bonjour" || f.Lang != "fr-FR" {
		t.Errorf("speak frame = %+v", f)
	}

	c.send(map[string]any{"action": "check"})
	f = c.recv("result")
	if !f.Correct || f.Score != 100 || f.Percent != 25 || !f.Advance {
		t.Errorf("flashcards result = %+v", f)
	}
	f = c.recv("activity")
	if f.Index != 1 || f.Position != 25 || f.View.Widget.Kind != activity.KindMCQ {
		t.Fatalf("auto-advanced frame = %+v", f)
	}

	c.send(map[string]any{"action": "select", "index": 1})
	f = c.recv("activity")
	if f.View.Input.Selected == nil || *f.View.Input.Selected != 1 {
		t.Errorf("selection not reflected: %+v", f.View.Input)
	}
	c.send(map[string]any{"action": "check"})
	f = c.recv("result")
	if !f.Correct || f.Percent != 50 {
		t.Errorf("mcq result = %+v", f)
	}
	c.recv("activity")

	c.send(map[string]any{"action": "goto", "index": 3})
	f = c.recv("activity")
	if f.View.Widget.Kind != activity.KindBuild {
		t.Fatalf("goto frame = %+v", f)
	}
	bank := f.View.Input.Bank
	for _, letter := range []string{"s", "a", "l", "u", "t"} {
		c.send(map[string]any{"action": "place", "index": slices.Index(bank, letter)})
		bank = c.recv("activity").View.Input.Bank
	}
	c.send(map[string]any{"action": "check"})
	f = c.recv("result")
	if !f.Correct || f.Percent != 75 || f.Advance {
		t.Errorf("build result = %+v", f)
	}

	rec := do(t, mux, http.MethodGet, "/api/progress/ana/grades/g1", "")
	var gp progress.GradeProgress
	if err := json.Unmarshal(rec.Body.Bytes(), &gp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gp.Completed["g1-salutations"] != 75 {
		t.Errorf("stored percent = %d, want 75", gp.Completed["g1-salutations"])
	}
}

func TestPlay_InputErrorsKeepSession(t *testing.T) {
	srv := httptest.NewServer(newTestMux(t))
	defer srv.Close()

	c := dial(t, srv, "learner=ana&grade=g1&lesson=g1-salutations")
	c.recv("activity")

	c.send(map[string]any{"action": "select", "index": 0})
	if f := c.recv("error"); f.Message == "" {
		t.Error("wrong-kind input should report a message")
	}

	c.send(map[string]any{"action": "dance"})
	c.recv("error")

	if err := c.conn.Write(c.ctx, websocket.MessageText, []byte("{")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.recv("error")

	c.send(map[string]any{"action": "next"})
	if f := c.recv("activity"); f.Index != 1 {
		t.Errorf("Index = %d, want 1", f.Index)
	}
}

func TestPlay_StaleAdvanceIgnored(t *testing.T) {
	srv := httptest.NewServer(newTestMuxWithDelay(t, 200*time.Millisecond))
	defer srv.Close()

	c := dial(t, srv, "learner=ana&grade=g1&lesson=g1-salutations")
	c.recv("activity")

	c.send(map[string]any{"action": "check"})
	c.recv("result")
	// Navigate before the advance delay elapses.
	c.send(map[string]any{"action": "goto", "index": 2})
	if f := c.recv("activity"); f.Index != 2 {
		t.Fatalf("Index = %d, want 2", f.Index)
	}

	time.Sleep(300 * time.Millisecond)
	c.send(map[string]any{"action": "prev"})
	if f := c.recv("activity"); f.Index != 1 {
		t.Errorf("Index = %d, want 1 (no stale advance)", f.Index)
	}
}

func TestPlay_AdvanceCancelled(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *client)
		want  int
	}{
		{
			name: "wrong recheck after correct check",
			setup: func(c *client) {
				c.send(map[string]any{"action": "goto", "index": 1})
				c.recv("activity")
				c.send(map[string]any{"action": "select", "index": 1})
				c.recv("activity")
				c.send(map[string]any{"action": "check"})
				if f := c.recv("result"); !f.Advance {
					c.t.Fatalf("first check = %+v, want advance", f)
				}
				c.send(map[string]any{"action": "select", "index": 0})
				c.recv("activity")
				c.send(map[string]any{"action": "check"})
				if f := c.recv("result"); f.Correct || f.Advance {
					c.t.Fatalf("second check = %+v, want wrong without advance", f)
				}
			},
			want: 1,
		},
		{
			name: "answer changed after correct check",
			setup: func(c *client) {
				c.send(map[string]any{"action": "goto", "index": 1})
				c.recv("activity")
				c.send(map[string]any{"action": "select", "index": 1})
				c.recv("activity")
				c.send(map[string]any{"action": "check"})
				c.recv("result")
				c.send(map[string]any{"action": "select", "index": 2})
				c.recv("activity")
			},
			want: 1,
		},
		{
			name: "left and returned before the delay",
			setup: func(c *client) {
				c.send(map[string]any{"action": "check"})
				c.recv("result")
				c.send(map[string]any{"action": "goto", "index": 2})
				c.recv("activity")
				c.send(map[string]any{"action": "goto", "index": 0})
				c.recv("activity")
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(newTestMuxWithDelay(t, 200*time.Millisecond))
			defer srv.Close()

			c := dial(t, srv, "learner=ana&grade=g1&lesson=g1-salutations")
			c.recv("activity")
			tt.setup(c)

			time.Sleep(300 * time.Millisecond)
			c.send(map[string]any{"action": "goto", "index": tt.want})
			if f := c.recv("activity"); f.Index != tt.want {
				t.Errorf("Index = %d, want %d (advance should have been cancelled)", f.Index, tt.want)
			}
		})
	}
}

func TestPlay_UnknownLesson(t *testing.T) {
	srv := httptest.NewServer(newTestMux(t))
	defer srv.Close()

	c := dial(t, srv, "learner=ana&grade=g1&lesson=nope")
	f := c.recv("error")
	if !strings.Contains(f.Message, "lesson not found") {
		t.Errorf("message = %q", f.Message)
	}

	_, _, err := c.conn.Read(c.ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", websocket.CloseStatus(err))
	}
}

func TestPlay_InvalidLearner(t *testing.T) {
	mux := newTestMux(t)
	rec := do(t, mux, http.MethodGet, "/ws/play?learner=a%20b&grade=g1&lesson=g1-salutations", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
