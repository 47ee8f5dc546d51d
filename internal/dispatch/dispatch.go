// Package dispatch selects and implements the two chunk-production
// strategies: a direct in-process generator call and the remote generation
// service. The strategy is resolved once per run; a resolvable local
// generator always wins over the remote fallback.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/longtake/longtake-agent/internal/generate"
	"github.com/longtake/longtake-agent/internal/remote"
)

// Params is the full parameter set handed to an in-process generator.
type Params struct {
	Model    any
	VAE      any
	AudioVAE any
	Positive any
	Negative any

	FPS       int
	NumFrames int
	Seed      int64

	ChainStrength float64
	ChainFrames   int
	DropPrefix    int
	BlendFrames   int
	ResetInterval int

	OutputPath string
}

// GeneratorFunc is an in-process chunk generator. Its result may be a
// sequence (video path, optional audio path), a mapping with
// video_path/audio_path keys, or nil, in which case the OutputPath it was
// given is assumed correct.
type GeneratorFunc func(ctx context.Context, p Params) (any, error)

// Registry holds named generator capabilities registered by the host.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]GeneratorFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]GeneratorFunc)}
}

func (r *Registry) Register(name string, fn GeneratorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

func (r *Registry) Lookup(name string) (GeneratorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// DefaultRegistry is the process-wide generator registry.
var DefaultRegistry = NewRegistry()

// Candidates are probed in order when no explicit generator override is
// configured.
var Candidates = []string{"render_chunk", "one_clip", "generate"}

// Config controls strategy resolution for a run.
type Config struct {
	Override string    // explicit generator name; fatal when not registered
	Registry *Registry // nil = DefaultRegistry
	Remote   remote.Options
	Logger   *slog.Logger
}

// Resolve picks the strategy for a whole run. Per-run remote overrides from
// the request are merged over the agent-level remote options.
func Resolve(cfg Config, req generate.Request) (generate.Dispatcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = DefaultRegistry
	}

	if cfg.Override != "" {
		fn, ok := reg.Lookup(cfg.Override)
		if !ok {
			return nil, fmt.Errorf("configured generator %q is not registered", cfg.Override)
		}
		logger.Info("dispatch strategy resolved", "strategy", "local", "generator", cfg.Override)
		return &LocalDispatcher{fn: fn, logger: logger}, nil
	}

	for _, name := range Candidates {
		if fn, ok := reg.Lookup(name); ok {
			logger.Info("dispatch strategy resolved", "strategy", "local", "generator", name)
			return &LocalDispatcher{fn: fn, logger: logger}, nil
		}
	}

	opts := mergeRemoteOptions(cfg.Remote, req)
	opts.Logger = logger

	logger.Info("dispatch strategy resolved", "strategy", "remote")
	return &RemoteDispatcher{client: remote.NewClient(opts)}, nil
}

// mergeRemoteOptions layers per-run overrides from the request over the
// agent-level remote options. WorkflowPath carries only the per-run
// override; the agent's configured path stays in DefaultWorkflowPath so
// the client falls back to it when the request names none.
func mergeRemoteOptions(base remote.Options, req generate.Request) remote.Options {
	opts := base
	if req.WorkflowText != "" {
		opts.WorkflowText = req.WorkflowText
	}
	if req.WorkflowPath != "" {
		opts.WorkflowPath = req.WorkflowPath
	}
	if req.ServiceURL != "" {
		opts.BaseURL = req.ServiceURL
	}
	if req.ServiceOutputDir != "" {
		opts.OutputDir = req.ServiceOutputDir
	}
	if req.TimeoutSec > 0 {
		opts.PollTimeout = time.Duration(req.TimeoutSec) * time.Second
	}
	return opts
}

// LocalDispatcher produces chunks through a single synchronous call into an
// in-process generator.
type LocalDispatcher struct {
	fn     GeneratorFunc
	logger *slog.Logger
}

func NewLocalDispatcher(fn GeneratorFunc, logger *slog.Logger) *LocalDispatcher {
	return &LocalDispatcher{fn: fn, logger: logger}
}

func (d *LocalDispatcher) ProduceChunk(ctx context.Context, job generate.ChunkJob, req generate.Request) (generate.ChunkResult, error) {
	expected := filepath.Join(req.OutputDir, fmt.Sprintf("%s_chunk%04d.mp4", req.Basename, job.Index))

	res, err := d.fn(ctx, Params{
		Model:         req.Model,
		VAE:           req.VAE,
		AudioVAE:      req.AudioVAE,
		Positive:      req.Positive,
		Negative:      req.Negative,
		FPS:           job.FPS,
		NumFrames:     job.Frames,
		Seed:          job.Seed,
		ChainStrength: req.ChainStrength,
		ChainFrames:   req.ChainFrames,
		DropPrefix:    req.DropPrefix,
		BlendFrames:   req.BlendFrames,
		ResetInterval: req.ResetInterval,
		OutputPath:    expected,
	})
	if err != nil {
		return generate.ChunkResult{}, fmt.Errorf("generator call: %w", err)
	}

	video, audio := interpretResult(res, expected)
	return generate.ChunkResult{VideoPath: video, AudioPath: audio}, nil
}

// interpretResult accepts the three result shapes a generator may return.
func interpretResult(res any, fallback string) (video, audio string) {
	switch v := res.(type) {
	case nil:
		return fallback, ""
	case []string:
		if len(v) == 0 {
			return fallback, ""
		}
		video = v[0]
		if len(v) > 1 {
			audio = v[1]
		}
		return video, audio
	case []any:
		if len(v) == 0 {
			return fallback, ""
		}
		video, _ = v[0].(string)
		if video == "" {
			video = fallback
		}
		if len(v) > 1 {
			audio, _ = v[1].(string)
		}
		return video, audio
	case map[string]string:
		video = v["video_path"]
		if video == "" {
			video = fallback
		}
		return video, v["audio_path"]
	case map[string]any:
		video, _ = v["video_path"].(string)
		if video == "" {
			video = fallback
		}
		audio, _ = v["audio_path"].(string)
		return video, audio
	default:
		return fallback, ""
	}
}

// RemoteDispatcher produces chunks by submitting jobs to the remote
// generation service and blocking on its history.
type RemoteDispatcher struct {
	client *remote.Client
}

func NewRemoteDispatcher(client *remote.Client) *RemoteDispatcher {
	return &RemoteDispatcher{client: client}
}

func (d *RemoteDispatcher) ProduceChunk(ctx context.Context, job generate.ChunkJob, req generate.Request) (generate.ChunkResult, error) {
	video, audio, err := d.client.RunChunk(ctx, remote.ChunkSpec{
		Seed:     job.Seed,
		FPS:      job.FPS,
		Frames:   job.Frames,
		Basename: req.Basename,
		Index:    job.Index,
	})
	if err != nil {
		return generate.ChunkResult{}, err
	}
	return generate.ChunkResult{VideoPath: video, AudioPath: audio}, nil
}
