package progress_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/fr-k12/internal/progress"
)

func newPostgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
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
	return pool
}

func TestPostgresBackend(t *testing.T) {
	pool := newPostgresPool(t)
	ctx := context.Background()

	backend, err := progress.NewPostgresBackend(ctx, pool)
	if err != nil {
		t.Fatalf("NewPostgresBackend() error = %v", err)
	}

	t.Run("read missing", func(t *testing.T) {
		_, err := backend.Read(ctx, "absent")
		if !errors.Is(err, progress.ErrNotFound) {
			t.Errorf("Read() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("store round trip", func(t *testing.T) {
		store := progress.NewStore(backend, progress.Key("", "ana"), progress.PolicyMax)
		if _, err := store.SetLessonProgress(ctx, "g1", "g1-animaux", 50); err != nil {
			t.Fatalf("SetLessonProgress() error = %v", err)
		}
		if _, err := store.SetLessonProgress(ctx, "g1", "g1-animaux", 100); err != nil {
			t.Fatalf("SetLessonProgress() error = %v", err)
		}
		gp, err := store.GetGrade(ctx, "g1")
		if err != nil {
			t.Fatalf("GetGrade() error = %v", err)
		}
		if gp.Completed["g1-animaux"] != 100 || gp.Stars != 1 {
			t.Errorf("GetGrade() = %+v", gp)
		}
	})

	t.Run("concurrent updates serialize", func(t *testing.T) {
		store := progress.NewStore(backend, "concurrent", progress.PolicyMax)
		var wg sync.WaitGroup
		for _, lesson := range []string{"a", "b", "c", "d", "e"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.SetLessonProgress(ctx, "g2", lesson, 100); err != nil {
					t.Errorf("SetLessonProgress(%s) error = %v", lesson, err)
				}
			}()
		}
		wg.Wait()

		gp, _ := store.GetGrade(ctx, "g2")
		if len(gp.Completed) != 5 || gp.Stars != 5 {
			t.Errorf("got %d lessons and %d stars, want 5 and 5", len(gp.Completed), gp.Stars)
		}
	})

	t.Run("health", func(t *testing.T) {
		if err := backend.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck() error = %v", err)
		}
	})
}

func TestNewPostgresBackend_NilPool(t *testing.T) {
	if _, err := progress.NewPostgresBackend(context.Background(), nil); err == nil {
		t.Error("NewPostgresBackend(nil) should return error")
	}
}
