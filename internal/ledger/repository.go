package ledger

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	UpdateRunStatus(ctx context.Context, id, status, errorMsg, finalPath string) error

	CreateChunk(ctx context.Context, chunk *Chunk) error
	ListChunksByRun(ctx context.Context, runID string) ([]*Chunk, error)
	CountChunks(ctx context.Context, runID string) (int, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, basename, output_dir, status, error, final_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Mode, run.Basename, run.OutputDir, run.Status, run.Error, run.FinalPath,
		run.CreatedAt.Format(time.RFC3339), run.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, mode, basename, output_dir, status, error, final_path, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)

	var run Run
	var createdAt, updatedAt string
	err := row.Scan(&run.ID, &run.Mode, &run.Basename, &run.OutputDir, &run.Status,
		&run.Error, &run.FinalPath, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &run, nil
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, mode, basename, output_dir, status, error, final_path, created_at, updated_at
		FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var createdAt, updatedAt string
		if err := rows.Scan(&run.ID, &run.Mode, &run.Basename, &run.OutputDir, &run.Status,
			&run.Error, &run.FinalPath, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, id, status, errorMsg, finalPath string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, final_path = ?, updated_at = datetime('now') WHERE id = ?
	`, status, errorMsg, finalPath, id)
	return err
}

func (r *SQLiteRepository) CreateChunk(ctx context.Context, chunk *Chunk) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chunks (id, run_id, idx, seed, video_path, audio_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, chunk.ID, chunk.RunID, chunk.Index, chunk.Seed, chunk.VideoPath, chunk.AudioPath,
		chunk.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListChunksByRun(ctx context.Context, runID string) ([]*Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, idx, seed, video_path, audio_path, created_at
		FROM chunks WHERE run_id = ? ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		var createdAt string
		if err := rows.Scan(&c.ID, &c.RunID, &c.Index, &c.Seed, &c.VideoPath, &c.AudioPath, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (r *SQLiteRepository) CountChunks(ctx context.Context, runID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE run_id = ?", runID).Scan(&count)
	return count, err
}
