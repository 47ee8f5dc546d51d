package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/longtake/longtake-agent/internal/generate"
	"github.com/longtake/longtake-agent/internal/ledger"
)

// fakeRepo is an in-memory ledger.Repository.
type fakeRepo struct {
	mu     sync.Mutex
	runs   []*ledger.Run
	chunks []*ledger.Chunk
}

func (f *fakeRepo) CreateRun(_ context.Context, run *ledger.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs = append(f.runs, &cp)
	return nil
}

func (f *fakeRepo) GetRun(_ context.Context, id string) (*ledger.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.ID == id {
			cp := *run
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListRuns(_ context.Context, limit int) ([]*ledger.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*ledger.Run, 0, len(f.runs))
	// Newest first.
	for i := len(f.runs) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *f.runs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRepo) UpdateRunStatus(_ context.Context, id, status, errorMsg, finalPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.ID == id {
			run.Status = status
			run.Error = errorMsg
			run.FinalPath = finalPath
			return nil
		}
	}
	return fmt.Errorf("no run %s", id)
}

func (f *fakeRepo) CreateChunk(_ context.Context, chunk *ledger.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *chunk
	f.chunks = append(f.chunks, &cp)
	return nil
}

func (f *fakeRepo) ListChunksByRun(_ context.Context, runID string) ([]*ledger.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ledger.Chunk
	for _, c := range f.chunks {
		if c.RunID == runID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) CountChunks(_ context.Context, runID string) (int, error) {
	chunks, _ := f.ListChunksByRun(context.Background(), runID)
	return len(chunks), nil
}

// chunkWriter produces one dummy chunk file per job. An optional gate
// channel blocks every job until released.
type chunkWriter struct {
	gate chan struct{}
}

func (d *chunkWriter) ProduceChunk(ctx context.Context, job generate.ChunkJob, req generate.Request) (generate.ChunkResult, error) {
	video := filepath.Join(req.OutputDir, fmt.Sprintf("%s_chunk%04d.mp4", req.Basename, job.Index))
	if err := os.WriteFile(video, []byte("v"), 0644); err != nil {
		return generate.ChunkResult{}, err
	}
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return generate.ChunkResult{}, ctx.Err()
		}
	}
	return generate.ChunkResult{VideoPath: video}, nil
}

type nopAssembler struct{}

func (nopAssembler) ConcatVideos(_ context.Context, _ []string, out string) error {
	return os.WriteFile(out, []byte("concat"), 0644)
}

func (nopAssembler) ConcatAndMux(_ context.Context, _, _ []string, _ int, out string) error {
	return os.WriteFile(out, []byte("mux"), 0644)
}

func newTestRouter(t *testing.T, disp generate.Dispatcher) (http.Handler, *generate.Runner, *fakeRepo) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &fakeRepo{}
	runner := generate.NewRunner(func(generate.Request) (generate.Dispatcher, error) {
		return disp, nil
	}, nopAssembler{}, repo, logger)

	router := NewRouter(ServerConfig{
		Runner:     runner,
		Repository: repo,
		Logger:     logger,
		StartTime:  time.Now(),
	})
	return router, runner, repo
}

func waitRunnerIdle(t *testing.T, runner *generate.Runner) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for runner.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("runner did not go idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	return body
}

func TestHealthHandler(t *testing.T) {
	router, _, _ := newTestRouter(t, &chunkWriter{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestStartRun_Lifecycle(t *testing.T) {
	router, runner, _ := newTestRouter(t, &chunkWriter{})
	dir := t.TempDir()

	payload := fmt.Sprintf(`{"mode":"commercial","target_seconds":3,"output_dir":%q,"basename":"clip"}`, dir)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(payload)))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	runID, _ := decodeJSONBody(t, rr)["run_id"].(string)
	if runID == "" {
		t.Fatal("run_id missing from response")
	}
	waitRunnerIdle(t, runner)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /runs/{id} status code = %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != ledger.RunStatusCompleted {
		t.Errorf("run status = %v, want %s (error %v)", body["status"], ledger.RunStatusCompleted, body["error"])
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/"+runID+"/chunks", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /runs/{id}/chunks status code = %d", rr.Code)
	}
	chunks, _ := decodeJSONBody(t, rr)["chunks"].([]interface{})
	if len(chunks) != 1 {
		t.Errorf("len(chunks) = %d, want 1", len(chunks))
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs", nil))
	runs, _ := decodeJSONBody(t, rr)["runs"].([]interface{})
	if len(runs) != 1 {
		t.Errorf("len(runs) = %d, want 1", len(runs))
	}
}

func TestStartRun_ConflictWhileActive(t *testing.T) {
	gate := make(chan struct{})
	router, runner, _ := newTestRouter(t, &chunkWriter{gate: gate})
	dir := t.TempDir()

	payload := fmt.Sprintf(`{"mode":"commercial","target_seconds":3,"output_dir":%q,"basename":"a"}`, dir)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(payload)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("first run status code = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(payload)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("second run status code = %d, want %d", rr.Code, http.StatusConflict)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "RUN_ACTIVE" {
		t.Errorf("error code = %v, want RUN_ACTIVE", code)
	}

	close(gate)
	waitRunnerIdle(t, runner)
}

func TestStartRun_InvalidBody(t *testing.T) {
	router, _, _ := newTestRouter(t, &chunkWriter{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader("{not json")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestStartRun_ValidationError(t *testing.T) {
	router, _, _ := newTestRouter(t, &chunkWriter{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs",
		strings.NewReader(`{"mode":"sideways"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t, &chunkWriter{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestStatus_ReflectsActiveRun(t *testing.T) {
	gate := make(chan struct{})
	router, runner, _ := newTestRouter(t, &chunkWriter{gate: gate})
	dir := t.TempDir()

	payload := fmt.Sprintf(`{"mode":"continuous","output_dir":%q,"basename":"live"}`, dir)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(payload)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start status code = %d", rr.Code)
	}
	runID := decodeJSONBody(t, rr)["run_id"].(string)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	body := decodeJSONBody(t, rr)
	if body["state"] != "generating" {
		t.Errorf("state = %v, want generating", body["state"])
	}
	active, _ := body["active_run"].(map[string]interface{})
	if active == nil || active["id"] != runID {
		t.Errorf("active_run = %v, want id %s", active, runID)
	}

	// Stop the run, then release the in-flight chunk.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/"+runID+"/stop", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("stop status code = %d: %s", rr.Code, rr.Body.String())
	}
	close(gate)
	waitRunnerIdle(t, runner)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if state := decodeJSONBody(t, rr)["state"]; state != "idle" {
		t.Errorf("state after stop = %v, want idle", state)
	}
}

func TestStopRun_NotActive(t *testing.T) {
	router, _, _ := newTestRouter(t, &chunkWriter{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/ghost/stop", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestStopRun_CommercialRejected(t *testing.T) {
	gate := make(chan struct{})
	router, runner, _ := newTestRouter(t, &chunkWriter{gate: gate})
	dir := t.TempDir()

	payload := fmt.Sprintf(`{"mode":"commercial","target_seconds":3,"output_dir":%q,"basename":"clip"}`, dir)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(payload)))
	runID := decodeJSONBody(t, rr)["run_id"].(string)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs/"+runID+"/stop", nil))
	if rr.Code != http.StatusConflict {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusConflict)
	}

	close(gate)
	waitRunnerIdle(t, runner)
}
