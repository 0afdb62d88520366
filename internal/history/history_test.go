package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/history"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/database"
	_ "github.com/johnschieferleuhlenbrock/ha-snapshot/migrations"
)

func setupRepo(t *testing.T) *history.SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return history.NewSQLiteRepository(db.DB)
}

func TestStartFinishGet(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	run := &history.Run{Operation: "import_data", Source: "mqtt", DryRun: true}
	if err := repo.Start(ctx, run); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if run.ID == "" || run.Status != history.StatusRunning || run.StartedAt.IsZero() {
		t.Fatalf("started run = %+v", run)
	}

	got, err := repo.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != history.StatusRunning || got.FinishedAt != nil || !got.DryRun {
		t.Errorf("running run = %+v", got)
	}

	run.Total, run.Updated, run.Skipped = 3, 2, 1
	run.Details = map[string]any{"changes": float64(2)}
	if err := repo.Finish(ctx, run); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err = repo.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != history.StatusSucceeded || got.Updated != 2 || got.Skipped != 1 || got.Source != "mqtt" {
		t.Errorf("finished run = %+v", got)
	}
	if got.FinishedAt == nil || got.Duration() < 0 {
		t.Errorf("FinishedAt = %v", got.FinishedAt)
	}
	if got.Details["changes"] != float64(2) {
		t.Errorf("Details = %v", got.Details)
	}
}

func TestFinishWithError(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	run := &history.Run{Operation: "export_data", Filename: "out.json"}
	if err := repo.Start(ctx, run); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	run.Error = "disk full"
	if err := repo.Finish(ctx, run); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	got, err := repo.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != history.StatusFailed || got.Error != "disk full" || got.Filename != "out.json" || got.Source != "api" {
		t.Errorf("run = %+v", got)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	if _, err := repo.Get(ctx, "run-missing"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := repo.Finish(ctx, &history.Run{ID: "run-missing"}); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("Finish() error = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	ops := []string{"export_data", "import_data", "export_data"}
	var ids []string
	for i, op := range ops {
		run := &history.Run{Operation: op, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Start(ctx, run); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		ids = append(ids, run.ID)
	}

	all, err := repo.List(ctx, history.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || all.Limit != 50 || len(all.Runs) != 3 {
		t.Fatalf("List() = total %d limit %d runs %d", all.Total, all.Limit, len(all.Runs))
	}
	if all.Runs[0].ID != ids[2] {
		t.Errorf("first run = %s, want newest %s", all.Runs[0].ID, ids[2])
	}

	exports, err := repo.List(ctx, history.Filter{Operation: "export_data", Limit: 1})
	if err != nil {
		t.Fatalf("List(export_data) error = %v", err)
	}
	if exports.Total != 2 || len(exports.Runs) != 1 {
		t.Errorf("List(export_data) = total %d runs %d, want 2/1", exports.Total, len(exports.Runs))
	}

	clamped, err := repo.List(ctx, history.Filter{Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if clamped.Limit != 200 || clamped.Offset != 0 {
		t.Errorf("clamped = limit %d offset %d", clamped.Limit, clamped.Offset)
	}

	empty, err := repo.List(ctx, history.Filter{Status: history.StatusFailed})
	if err != nil {
		t.Fatalf("List(failed) error = %v", err)
	}
	if empty.Runs == nil || len(empty.Runs) != 0 {
		t.Errorf("List(failed) runs = %v, want empty non-nil", empty.Runs)
	}
}
