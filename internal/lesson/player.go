package lesson

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/p-n-ai/fr-k12/internal/activity"
	"github.com/p-n-ai/fr-k12/internal/catalog"
	"github.com/p-n-ai/fr-k12/internal/progress"
)

// Player sequences the activities of one opened lesson and keeps the best
// score reached on each. A Player is owned by a single goroutine.
type Player struct {
	learnerID    string
	gradeID      string
	lesson       catalog.Lesson
	engine       *activity.Engine
	store        *progress.Store
	events       EventLogger
	logger       *slog.Logger
	advanceDelay time.Duration

	index     int
	session   *activity.Session
	best      []int
	completed bool
}

// Outcome is the result of checking the current activity.
type Outcome struct {
	// Index is the activity that was checked.
	Index   int
	Result  activity.Result
	Percent int
	// Advance is set when the answer is correct and a next activity exists.
	Advance      bool
	AdvanceAfter time.Duration
}

// Lesson returns the lesson being played.
func (p *Player) Lesson() catalog.Lesson { return p.lesson }

// GradeID returns the grade the lesson was opened from.
func (p *Player) GradeID() string { return p.gradeID }

// Index returns the current activity index.
func (p *Player) Index() int { return p.index }

// Total returns the number of activities.
func (p *Player) Total() int { return len(p.lesson.Activities) }

// Session returns the rendering session of the current activity.
func (p *Player) Session() *activity.Session { return p.session }

// SetActivity clamps i to the activity range and renders that activity.
func (p *Player) SetActivity(i int) {
	p.index = max(0, min(i, p.Total()-1))
	p.session = p.engine.Render(p.lesson.Activities[p.index])
}

// Next moves to the following activity, staying on the last one.
func (p *Player) Next() { p.SetActivity(p.index + 1) }

// Prev moves to the previous activity, staying on the first one.
func (p *Player) Prev() { p.SetActivity(p.index - 1) }

// Position is the navigation progress bar value.
func (p *Player) Position() int {
	return int(math.Round(float64(p.index) / float64(p.Total()) * 100))
}

// Percent is the lesson completion: the mean of the best activity scores.
func (p *Player) Percent() int {
	sum := 0
	for _, b := range p.best {
		sum += b
	}
	return int(math.Round(float64(sum) / float64(len(p.best)*100) * 100))
}

// Best returns the best score of activity i.
func (p *Player) Best(i int) int {
	if i < 0 || i >= len(p.best) {
		return 0
	}
	return p.best[i]
}

// Check grades the current activity, records the best score and persists
// the lesson percentage. Persistence failures are logged only.
func (p *Player) Check(ctx context.Context) Outcome {
	res := p.session.Check()
	p.best[p.index] = max(p.best[p.index], res.Score)
	pct := p.Percent()

	if _, err := p.store.SetLessonProgress(ctx, p.gradeID, p.lesson.ID, pct); err != nil {
		p.logger.Error("failed to save lesson progress", "error", err, "percent", pct)
	}

	p.logEvent(EventActivityChecked, map[string]any{
		"activity_index": p.index,
		"activity_type":  string(p.session.Activity().Type),
		"correct":        res.Correct,
		"score":          res.Score,
		"percent":        pct,
	})
	if pct == 100 && !p.completed {
		p.completed = true
		p.logEvent(EventLessonCompleted, map[string]any{"percent": pct})
		p.logger.Info("lesson completed")
	}

	out := Outcome{
		Index:   p.index,
		Result:  res,
		Percent: pct,
		Advance: res.Correct && p.index < p.Total()-1,
	}
	if out.Advance {
		out.AdvanceAfter = p.advanceDelay
	}
	return out
}

// AdvanceFrom moves to the next activity if the player is still on the
// activity that was checked. It reports whether the player moved.
func (p *Player) AdvanceFrom(o Outcome) bool {
	if !o.Advance || p.index != o.Index {
		return false
	}
	p.Next()
	return true
}

// Speak plays item i of the current activity.
func (p *Player) Speak(ctx context.Context, i int) {
	p.session.Speak(ctx, i)
}

func (p *Player) logEvent(eventType string, data map[string]any) {
	err := p.events.LogEvent(Event{
		LearnerID: p.learnerID,
		GradeID:   p.gradeID,
		LessonID:  p.lesson.ID,
		EventType: eventType,
		Data:      data,
	})
	if err != nil {
		p.logger.Warn("failed to log event", "type", eventType, "error", err)
	}
}
