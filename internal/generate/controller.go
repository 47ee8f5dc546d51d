package generate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/longtake/longtake-agent/internal/frames"
)

// Controller owns a single run: it normalises the request, iterates the
// chunk loop, maintains the accumulated outputs and triggers assembly.
// A Controller value may be reused, but each Run owns its state
// exclusively; concurrent runs need distinct output dirs and basenames.
type Controller struct {
	Dispatcher Dispatcher
	Assembler  Assembler
	Logger     *slog.Logger
	Recorder   ChunkRecorder // optional
}

// runState is the run's mutable accumulator. Created at run start,
// discarded when Run returns.
type runState struct {
	chunkPaths []string
	wavPaths   []string
	status     Status
}

// Run executes the request to completion. The returned error is fatal for
// the whole run; there is no per-chunk retry.
func (c *Controller) Run(ctx context.Context, req Request) (Result, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid request: %w", err)
	}
	req.FramesPerChunk = frames.Align(req.FramesPerChunk)

	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return Result{}, fmt.Errorf("cannot create output dir: %w", err)
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	state := &runState{status: StatusOk}
	latestPath := filepath.Join(req.OutputDir, req.Basename+"_latest.mp4")

	totalChunks := 1
	if req.Mode == ModeCommercial {
		totalChunks = commercialChunkCount(req.TargetSeconds, req.FPS, req.FramesPerChunk)
	}

	logger.Info("run starting",
		"mode", req.Mode,
		"fps", req.FPS,
		"frames_per_chunk", req.FramesPerChunk,
		"total_chunks", totalChunks,
		"basename", req.Basename,
	)

	for index := 1; ; index++ {
		if req.Mode == ModeCommercial && index > totalChunks {
			break
		}
		if req.Mode == ModeContinuous && stopRequested(req.StopFile) {
			state.status = StatusStopped
			break
		}

		job := ChunkJob{
			Index:  index,
			Seed:   req.SeedBase + int64(index-1)*req.SeedStride,
			FPS:    req.FPS,
			Frames: req.FramesPerChunk,
		}

		res, err := c.Dispatcher.ProduceChunk(ctx, job, req)
		if err != nil {
			return Result{}, fmt.Errorf("chunk %d: %w", index, err)
		}
		if !fileExists(res.VideoPath) {
			return Result{}, fmt.Errorf("chunk %d: chunk mp4 missing: %s", index, res.VideoPath)
		}

		state.chunkPaths = append(state.chunkPaths, res.VideoPath)
		if res.AudioPath != "" && fileExists(res.AudioPath) {
			state.wavPaths = append(state.wavPaths, res.AudioPath)
		}

		if c.Recorder != nil {
			c.Recorder.RecordChunk(ctx, job, res)
		}

		logger.Info("chunk produced",
			"chunk_index", index,
			"seed", job.Seed,
			"video", res.VideoPath,
			"has_audio", res.AudioPath != "",
		)

		if req.Mode == ModeContinuous {
			// Best-effort rolling preview; a failed concat never aborts
			// the run.
			ring := lastN(state.chunkPaths, req.RollingChunks)
			if err := c.Assembler.ConcatVideos(ctx, ring, latestPath); err != nil {
				logger.Warn("rolling preview concat failed", "error", err)
			}
			if stopRequested(req.StopFile) {
				state.status = StatusStopped
				break
			}
		}
	}

	finalPath := latestPath
	var muxErr error
	if req.Mode == ModeCommercial {
		finalPath = filepath.Join(req.OutputDir, req.Basename+".mp4")
		muxErr = c.Assembler.ConcatAndMux(ctx, state.chunkPaths, state.wavPaths, req.FPS, finalPath)
	}

	if !req.KeepChunks {
		// Best-effort cleanup; deletion failures are swallowed.
		removeAll(state.chunkPaths)
		removeAll(state.wavPaths)
	}

	if muxErr != nil {
		return Result{}, fmt.Errorf("final assembly: %w", muxErr)
	}

	logger.Info("run finished",
		"status", state.status,
		"chunks", len(state.chunkPaths),
		"final", finalPath,
	)

	return Result{
		FinalPath:  finalPath,
		ChunkPaths: state.chunkPaths,
		Status:     state.status,
	}, nil
}

// commercialChunkCount computes ceil(targetSeconds*fps/framesPerChunk),
// floored at 1.
func commercialChunkCount(targetSeconds float64, fps, framesPerChunk int) int {
	n := int(math.Ceil(targetSeconds * float64(fps) / float64(framesPerChunk)))
	if n < 1 {
		return 1
	}
	return n
}

func stopRequested(stopFile string) bool {
	return stopFile != "" && fileExists(stopFile)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func lastN(paths []string, n int) []string {
	if n < 1 {
		n = 1
	}
	if len(paths) <= n {
		return paths
	}
	return paths[len(paths)-n:]
}

func removeAll(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.Remove(p)
	}
}
