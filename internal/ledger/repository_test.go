package ledger

import (
	"context"
	"testing"
	"time"
)

func seedRun(t *testing.T, repo Repository, id string, createdAt time.Time) {
	t.Helper()
	err := repo.CreateRun(context.Background(), &Run{
		ID:        id,
		Mode:      "commercial",
		Basename:  "clip",
		OutputDir: "/tmp/out",
		Status:    RunStatusRunning,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("CreateRun(%s) error = %v", id, err)
	}
}

func TestRepository_RunLifecycle(t *testing.T) {
	repo := NewRepository(newTestDB(t).Conn())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	seedRun(t, repo, "r1", now)

	run, err := repo.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run == nil {
		t.Fatal("GetRun() returned nil for existing run")
	}
	if run.Mode != "commercial" || run.Status != RunStatusRunning {
		t.Errorf("run = %+v, want commercial/running", run)
	}
	if !run.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", run.CreatedAt, now)
	}

	if err := repo.UpdateRunStatus(ctx, "r1", RunStatusCompleted, "", "/tmp/out/clip.mp4"); err != nil {
		t.Fatalf("UpdateRunStatus() error = %v", err)
	}
	run, err = repo.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun() after update error = %v", err)
	}
	if run.Status != RunStatusCompleted {
		t.Errorf("status = %s, want %s", run.Status, RunStatusCompleted)
	}
	if run.FinalPath != "/tmp/out/clip.mp4" {
		t.Errorf("final_path = %s", run.FinalPath)
	}
}

func TestRepository_GetRunMissing(t *testing.T) {
	repo := NewRepository(newTestDB(t).Conn())

	run, err := repo.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run != nil {
		t.Errorf("GetRun() = %+v, want nil for missing run", run)
	}
}

func TestRepository_ListRunsNewestFirst(t *testing.T) {
	repo := NewRepository(newTestDB(t).Conn())

	base := time.Now().UTC().Truncate(time.Second)
	seedRun(t, repo, "old", base.Add(-2*time.Hour))
	seedRun(t, repo, "mid", base.Add(-time.Hour))
	seedRun(t, repo, "new", base)

	runs, err := repo.ListRuns(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("order = %s, %s; want new, mid", runs[0].ID, runs[1].ID)
	}
}

func TestRepository_Chunks(t *testing.T) {
	repo := NewRepository(newTestDB(t).Conn())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	seedRun(t, repo, "r1", now)

	for i := 1; i <= 3; i++ {
		err := repo.CreateChunk(ctx, &Chunk{
			ID:        string(rune('a' + i)),
			RunID:     "r1",
			Index:     i,
			Seed:      int64(10 + i),
			VideoPath: "/tmp/out/clip_chunk000" + string(rune('0'+i)) + ".mp4",
			CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("CreateChunk(%d) error = %v", i, err)
		}
	}

	chunks, err := repo.ListChunksByRun(ctx, "r1")
	if err != nil {
		t.Fatalf("ListChunksByRun() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i+1 {
			t.Errorf("chunks[%d].Index = %d, want %d", i, c.Index, i+1)
		}
	}

	count, err := repo.CountChunks(ctx, "r1")
	if err != nil {
		t.Fatalf("CountChunks() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountChunks() = %d, want 3", count)
	}

	count, err = repo.CountChunks(ctx, "other")
	if err != nil {
		t.Fatalf("CountChunks(other) error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountChunks(other) = %d, want 0", count)
	}
}

func TestRepository_ForeignKeyEnforced(t *testing.T) {
	repo := NewRepository(newTestDB(t).Conn())

	err := repo.CreateChunk(context.Background(), &Chunk{
		ID: "c1", RunID: "ghost", Index: 1, Seed: 1,
		VideoPath: "/tmp/x.mp4", CreatedAt: time.Now().UTC(),
	})
	if err == nil {
		t.Error("CreateChunk() with unknown run succeeded, want foreign key error")
	}
}
