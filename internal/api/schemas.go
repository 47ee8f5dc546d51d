package api

import (
	"time"

	"github.com/longtake/longtake-agent/internal/generate"
	"github.com/longtake/longtake-agent/internal/ledger"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State     string             `json:"state"`
	LastError string             `json:"last_error,omitempty"`
	ActiveRun *generate.RunState `json:"active_run,omitempty"`
}

type StartRunResponse struct {
	RunID string `json:"run_id"`
}

type StopRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type RunResponse struct {
	ID        string `json:"id"`
	Mode      string `json:"mode"`
	Basename  string `json:"basename"`
	OutputDir string `json:"output_dir"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	FinalPath string `json:"final_path,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ChunkResponse struct {
	Index     int    `json:"index"`
	Seed      int64  `json:"seed"`
	VideoPath string `json:"video_path"`
	AudioPath string `json:"audio_path,omitempty"`
	CreatedAt string `json:"created_at"`
}

type ChunksResponse struct {
	RunID  string          `json:"run_id"`
	Chunks []ChunkResponse `json:"chunks"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(run *ledger.Run) RunResponse {
	return RunResponse{
		ID:        run.ID,
		Mode:      run.Mode,
		Basename:  run.Basename,
		OutputDir: run.OutputDir,
		Status:    run.Status,
		Error:     run.Error,
		FinalPath: run.FinalPath,
		CreatedAt: run.CreatedAt.Format(time.RFC3339),
		UpdatedAt: run.UpdatedAt.Format(time.RFC3339),
	}
}

func ChunkToResponse(c *ledger.Chunk) ChunkResponse {
	return ChunkResponse{
		Index:     c.Index,
		Seed:      c.Seed,
		VideoPath: c.VideoPath,
		AudioPath: c.AudioPath,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}
