package lesson

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Event types recorded by the player.
const (
	EventLessonOpened    = "lesson_opened"
	EventActivityChecked = "activity_checked"
	EventLessonCompleted = "lesson_completed"
)

// Event represents a learning analytics event.
type Event struct {
	LearnerID string
	GradeID   string
	LessonID  string
	EventType string
	Data      map[string]any
	CreatedAt time.Time
}

// EventLogger defines event logging behavior.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

const eventsSchema = `
CREATE TABLE IF NOT EXISTS learning_events (
	id         BIGSERIAL PRIMARY KEY,
	learner_id TEXT NOT NULL,
	grade_id   TEXT NOT NULL,
	lesson_id  TEXT NOT NULL,
	event_type TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresEventLogger inserts events into the learning_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

// NewPostgresEventLogger creates the event table if needed.
func NewPostgresEventLogger(ctx context.Context, pool *pgxpool.Pool) (*PostgresEventLogger, error) {
	if pool == nil {
		return nil, fmt.Errorf("event logger pool is nil")
	}
	if _, err := pool.Exec(ctx, eventsSchema); err != nil {
		return nil, fmt.Errorf("create learning_events table: %w", err)
	}
	return &PostgresEventLogger{pool: pool}, nil
}

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.LessonID == "" {
		return fmt.Errorf("lesson_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO learning_events (learner_id, grade_id, lesson_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		event.LearnerID,
		event.GradeID,
		event.LessonID,
		event.EventType,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"learner_id", event.LearnerID,
		"lesson_id", event.LessonID,
	)
	return nil
}

// Count returns the number of stored events of a type for a learner.
func (l *PostgresEventLogger) Count(ctx context.Context, learnerID, eventType string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var n int
	err := l.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM learning_events WHERE learner_id = $1 AND event_type = $2`,
		learnerID,
		eventType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
