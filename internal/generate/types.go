// Package generate implements the long-horizon generation controller: the
// sequential loop that produces bounded chunks through a dispatcher and
// assembles them into a continuous output.
package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Mode selects how a run terminates.
type Mode string

const (
	// ModeCommercial runs a fixed target duration and stops after a
	// predetermined number of chunks.
	ModeCommercial Mode = "commercial"
	// ModeContinuous runs until a stop marker file appears.
	ModeContinuous Mode = "continuous"
)

// Status is the terminal state of a successful run. Failures are returned
// as errors, not statuses.
type Status string

const (
	StatusOk      Status = "ok"
	StatusStopped Status = "stopped"
)

// Request describes one generation run.
type Request struct {
	// Opaque capability handles forwarded to an in-process generator.
	// They never cross the HTTP API.
	Model    any `json:"-"`
	VAE      any `json:"-"`
	AudioVAE any `json:"-"`
	Positive any `json:"-"`
	Negative any `json:"-"`

	FPS            int     `json:"fps"`
	FramesPerChunk int     `json:"frames_per_chunk"`
	Mode           Mode    `json:"mode"`
	TargetSeconds  float64 `json:"target_seconds"`
	SeedBase       int64   `json:"seed_base"`
	SeedStride     int64   `json:"seed_stride"`

	// Chaining knobs forwarded opaquely to the generator.
	ChainStrength float64 `json:"chain_strength"`
	ChainFrames   int     `json:"chain_frames"`
	DropPrefix    int     `json:"drop_prefix"`
	BlendFrames   int     `json:"blend_frames"`
	ResetInterval int     `json:"reset_interval"`

	OutputDir     string `json:"output_dir"`
	Basename      string `json:"basename"`
	KeepChunks    bool   `json:"keep_chunks"`
	RollingChunks int    `json:"rolling_chunks"`
	StopFile      string `json:"stop_file,omitempty"`

	// Remote-service overrides. Empty values fall back to agent config.
	WorkflowText     string `json:"workflow_text,omitempty"`
	WorkflowPath     string `json:"workflow_path,omitempty"`
	ServiceURL       string `json:"service_url,omitempty"`
	ServiceOutputDir string `json:"service_output_dir,omitempty"`
	TimeoutSec       int    `json:"timeout_sec,omitempty"`
}

// ApplyDefaults fills zero-valued fields with run defaults.
func (r *Request) ApplyDefaults() {
	if r.FPS == 0 {
		r.FPS = 24
	}
	if r.FramesPerChunk == 0 {
		r.FramesPerChunk = 73
	}
	if r.Mode == "" {
		r.Mode = ModeCommercial
	}
	if r.TargetSeconds == 0 && r.Mode == ModeCommercial {
		r.TargetSeconds = 35.0
	}
	if r.SeedBase == 0 {
		r.SeedBase = 10
	}
	if r.SeedStride == 0 {
		r.SeedStride = 1
	}
	if r.ChainStrength == 0 {
		r.ChainStrength = 0.35
	}
	if r.ChainFrames == 0 {
		r.ChainFrames = 3
	}
	if r.OutputDir == "" {
		r.OutputDir = "outputs"
	}
	if r.Basename == "" {
		r.Basename = "longtake"
	}
	if r.RollingChunks < 1 {
		r.RollingChunks = 8
	}
}

// Validate checks the request invariants.
func (r *Request) Validate() error {
	if r.FPS < 1 {
		return errors.New("fps must be positive")
	}
	if r.FramesPerChunk < 1 {
		return errors.New("frames_per_chunk must be positive")
	}
	if r.Mode != ModeCommercial && r.Mode != ModeContinuous {
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
	if r.TargetSeconds < 0 {
		return errors.New("target_seconds must not be negative")
	}
	if r.SeedBase < 0 {
		return errors.New("seed_base must not be negative")
	}
	if r.SeedStride < 1 {
		return errors.New("seed_stride must be at least 1")
	}
	if r.ChainStrength < 0 || r.ChainStrength > 1 {
		return errors.New("chain_strength must be within [0,1]")
	}
	if r.ChainFrames < 1 || r.ChainFrames > 8 {
		return errors.New("chain_frames must be within [1,8]")
	}
	if r.DropPrefix < 0 || r.DropPrefix > 8 {
		return errors.New("drop_prefix must be within [0,8]")
	}
	if r.BlendFrames < 0 || r.BlendFrames > 16 {
		return errors.New("blend_frames must be within [0,16]")
	}
	if r.ResetInterval < 0 {
		return errors.New("reset_interval must not be negative")
	}
	if r.Basename == "" {
		return errors.New("basename is required")
	}
	if r.RollingChunks < 1 {
		return errors.New("rolling_chunks must be at least 1")
	}
	return nil
}

// ChunkJob carries one iteration's derived parameters. Immutable once
// computed.
type ChunkJob struct {
	Index  int   // 1-based
	Seed   int64 // SeedBase + (Index-1)*SeedStride
	FPS    int
	Frames int
}

// ChunkResult is a dispatcher's outcome for one chunk.
type ChunkResult struct {
	VideoPath string
	AudioPath string // optional, empty when the chunk has no audio
}

// Result is a finished run's outcome.
type Result struct {
	FinalPath  string   `json:"final_path"`
	ChunkPaths []string `json:"chunk_paths"`
	Status     Status   `json:"status"`
}

// Dispatcher produces one chunk. Implementations are resolved once per run,
// never per chunk.
type Dispatcher interface {
	ProduceChunk(ctx context.Context, job ChunkJob, req Request) (ChunkResult, error)
}

// Assembler concatenates chunk files into run artifacts.
type Assembler interface {
	// ConcatVideos concatenates existing inputs into out with no audio mux.
	ConcatVideos(ctx context.Context, paths []string, out string) error
	// ConcatAndMux concatenates videos, re-encodes at fps and muxes the
	// concatenated audio inputs if any exist.
	ConcatAndMux(ctx context.Context, videoPaths, audioPaths []string, fps int, out string) error
}

// ChunkRecorder observes produced chunks. Recording failures are the
// recorder's problem; the controller never sees them.
type ChunkRecorder interface {
	RecordChunk(ctx context.Context, job ChunkJob, res ChunkResult)
}

// NewID returns a fresh run identifier.
func NewID() string {
	return uuid.NewString()
}
