package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/fr-k12/internal/activity"
	"github.com/p-n-ai/fr-k12/internal/catalog"
	"github.com/p-n-ai/fr-k12/internal/lesson"
)

const writeTimeout = 5 * time.Second

// command is a client → server player message.
type command struct {
	Action string `json:"action"`
	Index  int    `json:"index"`
	Right  string `json:"right"`
	Text   string `json:"text"`
}

type activityFrame struct {
	Type     string        `json:"type"`
	Index    int           `json:"index"`
	Total    int           `json:"total"`
	Position int           `json:"position"`
	Percent  int           `json:"percent"`
	Title    string        `json:"title"`
	View     activity.View `json:"view"`
}

type resultFrame struct {
	Type    string        `json:"type"`
	Index   int           `json:"index"`
	Correct bool          `json:"correct"`
	Score   int           `json:"score"`
	Percent int           `json:"percent"`
	Advance bool          `json:"advance"`
	View    activity.View `json:"view"`
}

type speakFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Lang string `json:"lang"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsSpeaker delegates speech to the client by sending a speak frame.
type wsSpeaker struct {
	conn *websocket.Conn
}

func (s wsSpeaker) Speak(ctx context.Context, text, lang string) error {
	if err := writeFrame(ctx, s.conn, speakFrame{Type: "speak", Text: text, Lang: lang}); err != nil {
		return fmt.Errorf("%w: %v", activity.ErrSpeechUnavailable, err)
	}
	return nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// handlePlay upgrades to a WebSocket and runs one lesson player for the
// lifetime of the connection.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := learner(q.Get("learner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	logger := s.logger.With("learner_id", id, "grade_id", q.Get("grade"), "lesson_id", q.Get("lesson"))

	player, err := s.lessons.Open(ctx, lesson.OpenRequest{
		LearnerID: id,
		GradeID:   q.Get("grade"),
		LessonID:  q.Get("lesson"),
		Speaker:   wsSpeaker{conn: conn},
	})
	if err != nil {
		logger.Warn("lesson load failed", "error", err)
		_ = writeFrame(ctx, conn, errorFrame{Type: "error", Message: err.Error()})
		status := websocket.StatusInternalError
		if errors.Is(err, catalog.ErrGradeNotFound) || errors.Is(err, catalog.ErrLessonNotFound) {
			status = websocket.StatusPolicyViolation
		}
		conn.Close(status, "lesson unavailable")
		return
	}

	err = (&playLoop{conn: conn, player: player, logger: logger}).run(ctx)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		logger.Debug("player closed")
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		if ctx.Err() == nil {
			logger.Warn("player connection ended", "error", err)
		}
	}
}

// playLoop owns the player. Only run touches it; the reader goroutine
// forwards decoded commands.
type playLoop struct {
	conn   *websocket.Conn
	player *lesson.Player
	logger *slog.Logger

	pending *lesson.Outcome
	timer   *time.Timer
}

type incoming struct {
	cmd command
	err error
}

func (l *playLoop) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan incoming)
	readErr := make(chan error, 1)
	go l.read(ctx, msgs, readErr)
	defer l.stopTimer()

	if err := l.sendActivity(ctx); err != nil {
		return err
	}

	for {
		var advance <-chan time.Time
		if l.timer != nil {
			advance = l.timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-advance:
			l.timer = nil
			out := l.pending
			l.pending = nil
			if out != nil && l.player.AdvanceFrom(*out) {
				if err := l.sendActivity(ctx); err != nil {
					return err
				}
			}
		case m := <-msgs:
			if m.err != nil {
				if err := l.sendError(ctx, m.err); err != nil {
					return err
				}
				continue
			}
			if err := l.handle(ctx, m.cmd); err != nil {
				return err
			}
		}
	}
}

func (l *playLoop) read(ctx context.Context, msgs chan<- incoming, readErr chan<- error) {
	for {
		_, data, err := l.conn.Read(ctx)
		if err != nil {
			readErr <- err
			return
		}

		var m incoming
		if err := json.Unmarshal(data, &m.cmd); err != nil {
			m.err = fmt.Errorf("malformed message: %w", err)
		}
		select {
		case msgs <- m:
		case <-ctx.Done():
			return
		}
	}
}

// handle applies one command. Input errors are reported to the client and
// do not end the session; only write failures are returned. Any command
// other than speak cancels a pending auto-advance.
func (l *playLoop) handle(ctx context.Context, c command) error {
	p := l.player
	s := p.Session()
	if c.Action != "speak" {
		l.stopTimer()
	}

	var inputErr error
	switch c.Action {
	case "select":
		inputErr = s.Select(c.Index)
	case "pair":
		inputErr = s.Pair(c.Index, c.Right)
	case "type":
		inputErr = s.Type(c.Text)
	case "place":
		inputErr = s.Place(c.Index)
	case "remove":
		inputErr = s.Remove(c.Index)
	case "check":
		return l.check(ctx)
	case "next":
		p.Next()
	case "prev":
		p.Prev()
	case "goto":
		p.SetActivity(c.Index)
	case "speak":
		p.Speak(ctx, c.Index)
		return nil
	default:
		inputErr = fmt.Errorf("unknown action %q", c.Action)
	}

	if inputErr != nil {
		return l.sendError(ctx, inputErr)
	}
	return l.sendActivity(ctx)
}

func (l *playLoop) check(ctx context.Context) error {
	out := l.player.Check(ctx)
	frame := resultFrame{
		Type:    "result",
		Index:   out.Index,
		Correct: out.Result.Correct,
		Score:   out.Result.Score,
		Percent: out.Percent,
		Advance: out.Advance,
		View:    l.player.Session().View(),
	}
	if err := writeFrame(ctx, l.conn, frame); err != nil {
		return err
	}

	if out.Advance {
		l.pending = &out
		l.timer = time.NewTimer(out.AdvanceAfter)
	}
	return nil
}

func (l *playLoop) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.pending = nil
}

func (l *playLoop) sendActivity(ctx context.Context) error {
	p := l.player
	return writeFrame(ctx, l.conn, activityFrame{
		Type:     "activity",
		Index:    p.Index(),
		Total:    p.Total(),
		Position: p.Position(),
		Percent:  p.Percent(),
		Title:    p.Lesson().Title,
		View:     p.Session().View(),
	})
}

func (l *playLoop) sendError(ctx context.Context, err error) error {
	l.logger.Debug("player input rejected", "error", err)
	return writeFrame(ctx, l.conn, errorFrame{Type: "error", Message: err.Error()})
}
