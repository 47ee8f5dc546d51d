package generate

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/longtake/longtake-agent/internal/ledger"
)

var (
	ErrRunActive    = errors.New("a run is already active")
	ErrRunNotActive = errors.New("run is not active")
	ErrNotStoppable = errors.New("only continuous runs accept a stop request")
)

// DispatchFunc resolves the dispatcher for one run. Resolution happens at
// run start so per-run service overrides take effect.
type DispatchFunc func(req Request) (Dispatcher, error)

// RunState is a read-only snapshot of the active run.
type RunState struct {
	ID         string    `json:"id"`
	Mode       Mode      `json:"mode"`
	Basename   string    `json:"basename"`
	OutputDir  string    `json:"output_dir"`
	StopFile   string    `json:"stop_file,omitempty"`
	ChunksDone int       `json:"chunks_done"`
	StartedAt  time.Time `json:"started_at"`
}

// Runner executes at most one generation run at a time. Start is
// non-blocking; the run proceeds on its own goroutine and lands its
// terminal status in the ledger.
type Runner struct {
	dispatch  DispatchFunc
	assembler Assembler
	repo      ledger.Repository
	logger    *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	current *RunState
	cancel  context.CancelFunc
}

func NewRunner(dispatch DispatchFunc, assembler Assembler, repo ledger.Repository, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dispatch:  dispatch,
		assembler: assembler,
		repo:      repo,
		logger:    logger,
	}
}

// Start validates the request and launches the run. It returns ErrRunActive
// while another run is in flight.
func (r *Runner) Start(req Request) (string, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return "", err
	}

	if r.running.Swap(true) {
		return "", ErrRunActive
	}

	id := NewID()

	if req.Mode == ModeContinuous && req.StopFile == "" {
		req.StopFile = filepath.Join(req.OutputDir, req.Basename+".stop")
		// A marker left behind by an earlier run would stop this one
		// before it produced anything. Only self-assigned markers are
		// cleared; caller-provided paths are honoured as-is.
		os.Remove(req.StopFile)
	}

	now := time.Now().UTC()
	if r.repo != nil {
		err := r.repo.CreateRun(context.Background(), &ledger.Run{
			ID:        id,
			Mode:      string(req.Mode),
			Basename:  req.Basename,
			OutputDir: req.OutputDir,
			Status:    ledger.RunStatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			r.logger.Warn("failed to record run", "run_id", id, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.current = &RunState{
		ID:        id,
		Mode:      req.Mode,
		Basename:  req.Basename,
		OutputDir: req.OutputDir,
		StopFile:  req.StopFile,
		StartedAt: now,
	}
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.execute(ctx, id, req)
	}()

	return id, nil
}

func (r *Runner) execute(ctx context.Context, id string, req Request) {
	logger := r.logger.With("run_id", id)
	defer func() {
		r.mu.Lock()
		r.current = nil
		r.cancel = nil
		r.mu.Unlock()
		r.running.Store(false)
	}()

	dispatcher, err := r.dispatch(req)
	if err != nil {
		logger.Error("dispatch resolution failed", "error", err)
		r.finish(id, ledger.RunStatusFailed, err.Error(), "")
		return
	}

	controller := &Controller{
		Dispatcher: dispatcher,
		Assembler:  r.assembler,
		Logger:     logger,
		Recorder:   &runRecorder{runner: r, runID: id},
	}

	res, err := controller.Run(ctx, req)
	switch {
	case err != nil:
		logger.Error("run failed", "error", err)
		r.finish(id, ledger.RunStatusFailed, err.Error(), "")
	case res.Status == StatusStopped:
		logger.Info("run stopped", "chunks", len(res.ChunkPaths))
		r.finish(id, ledger.RunStatusStopped, "", res.FinalPath)
	default:
		logger.Info("run completed", "chunks", len(res.ChunkPaths), "final", res.FinalPath)
		r.finish(id, ledger.RunStatusCompleted, "", res.FinalPath)
	}
}

func (r *Runner) finish(id, status, errorMsg, finalPath string) {
	if r.repo == nil {
		return
	}
	if err := r.repo.UpdateRunStatus(context.Background(), id, status, errorMsg, finalPath); err != nil {
		r.logger.Warn("failed to update run status", "run_id", id, "error", err)
	}
}

// Stop requests a graceful stop of the active continuous run by touching
// its stop marker. The run ends at the next loop boundary.
func (r *Runner) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil || r.current.ID != id {
		return ErrRunNotActive
	}
	if r.current.Mode != ModeContinuous {
		return ErrNotStoppable
	}
	return os.WriteFile(r.current.StopFile, []byte("stop\n"), 0644)
}

// Current returns a snapshot of the active run, or nil when idle.
func (r *Runner) Current() *RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	snapshot := *r.current
	return &snapshot
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Shutdown cancels the active run and waits for it to unwind, bounded by
// ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runRecorder lands produced chunks in the ledger and advances the run
// snapshot. Persistence failures are logged, never surfaced.
type runRecorder struct {
	runner *Runner
	runID  string
}

func (rec *runRecorder) RecordChunk(ctx context.Context, job ChunkJob, res ChunkResult) {
	r := rec.runner

	r.mu.Lock()
	if r.current != nil && r.current.ID == rec.runID {
		r.current.ChunksDone++
	}
	r.mu.Unlock()

	if r.repo == nil {
		return
	}
	err := r.repo.CreateChunk(ctx, &ledger.Chunk{
		ID:        NewID(),
		RunID:     rec.runID,
		Index:     job.Index,
		Seed:      job.Seed,
		VideoPath: res.VideoPath,
		AudioPath: res.AudioPath,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("failed to record chunk", "run_id", rec.runID, "chunk", job.Index, "error", err)
	}
}
