package lesson_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/fr-k12/internal/lesson"
)

func TestMemoryEventLogger_LogEvent(t *testing.T) {
	logger := lesson.NewMemoryEventLogger()

	err := logger.LogEvent(lesson.Event{
		LearnerID: "ana",
		LessonID:  "g1-salutations",
		EventType: lesson.EventActivityChecked,
		Data: map[string]any{
			"score": 100,
		},
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].EventType != lesson.EventActivityChecked {
		t.Errorf("EventType = %q, want activity_checked", events[0].EventType)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestMemoryEventLogger_RequiresType(t *testing.T) {
	if err := lesson.NewMemoryEventLogger().LogEvent(lesson.Event{}); err == nil {
		t.Error("expected error for missing event type")
	}
}

func TestPostgresEventLogger_NilPool(t *testing.T) {
	if _, err := lesson.NewPostgresEventLogger(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil pool")
	}

	var logger *lesson.PostgresEventLogger
	if err := logger.LogEvent(lesson.Event{EventType: lesson.EventLessonOpened, LessonID: "l1"}); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestPostgresEventLogger_LogEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("frk12"),
		postgres.WithUsername("frk12"),
		postgres.WithPassword("frk12"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New() error = %v", err)
	}
	t.Cleanup(pool.Close)

	logger, err := lesson.NewPostgresEventLogger(ctx, pool)
	if err != nil {
		t.Fatalf("NewPostgresEventLogger() error = %v", err)
	}

	for range 2 {
		err := logger.LogEvent(lesson.Event{
			LearnerID: "ana",
			GradeID:   "g1",
			LessonID:  "g1-salutations",
			EventType: lesson.EventActivityChecked,
			Data:      map[string]any{"score": 50},
		})
		if err != nil {
			t.Fatalf("LogEvent() error = %v", err)
		}
	}

	n, err := logger.Count(ctx, "ana", lesson.EventActivityChecked)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}

	if err := logger.LogEvent(lesson.Event{EventType: lesson.EventLessonOpened}); err == nil {
		t.Error("expected error for missing lesson id")
	}
}
