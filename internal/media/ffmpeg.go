// Package media assembles chunk files into run artifacts. The primary path
// drives the ffmpeg binary; when it is missing a slower frame-copy
// fallback keeps runs usable.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	probeTimeout   = 2 * time.Second
	toolTimeout    = 300 * time.Second
	maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics
)

// ErrNoInputs means every candidate input was filtered out because it does
// not exist on disk.
var ErrNoInputs = errors.New("no existing input files")

// commandFunc runs one ffmpeg invocation. Swapped out in tests.
type commandFunc func(ctx context.Context, args ...string) error

// FFmpeg is the media assembler. The binary is probed once per process and
// the result cached.
type FFmpeg struct {
	bin    string
	logger *slog.Logger
	run    commandFunc

	probeOnce sync.Once
	available bool
}

// NewFFmpeg creates an assembler that shells out to ffmpeg on PATH.
func NewFFmpeg(logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FFmpeg{bin: "ffmpeg", logger: logger}
	f.run = f.execCmd
	return f
}

// Available reports whether the ffmpeg binary responds to a version check.
// Probed once, cached for the process lifetime.
func (f *FFmpeg) Available(ctx context.Context) bool {
	f.probeOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		f.available = f.run(probeCtx, "-version") == nil
		if !f.available {
			f.logger.Warn("ffmpeg not available, falling back to frame-copy assembly")
		}
	})
	return f.available
}

// ConcatVideos concatenates the existing inputs into out without touching
// audio. Stream copy is tried first; a failed copy is retried with a
// normalised re-encode. The transient concat list is removed on every exit
// path.
func (f *FFmpeg) ConcatVideos(ctx context.Context, paths []string, out string) error {
	paths = existingOnly(paths)
	if len(paths) == 0 {
		return ErrNoInputs
	}
	if !f.Available(ctx) {
		return concatFrameCopy(paths, out)
	}

	listPath := out + ".txt"
	defer os.Remove(listPath)
	if err := writeConcatList(paths, listPath); err != nil {
		return err
	}

	copyArgs := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", out}
	if err := f.run(ctx, copyArgs...); err == nil {
		return nil
	}
	f.logger.Warn("stream-copy concat failed, re-encoding", "out", out)

	encodeArgs := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath,
		"-c:v", "libx264", "-pix_fmt", "yuv420p", out}
	if err := f.run(ctx, encodeArgs...); err != nil {
		return fmt.Errorf("concat re-encode: %w", err)
	}
	return nil
}

// ConcatAndMux concatenates the video inputs, re-encodes at fps and muxes
// the losslessly concatenated audio inputs when any exist. All transient
// files are removed before returning, success or failure.
func (f *FFmpeg) ConcatAndMux(ctx context.Context, videoPaths, audioPaths []string, fps int, out string) error {
	videoPaths = existingOnly(videoPaths)
	audioPaths = existingOnly(audioPaths)
	if len(videoPaths) == 0 {
		return ErrNoInputs
	}

	if !f.Available(ctx) {
		if err := concatFrameCopy(videoPaths, out); err != nil {
			return err
		}
		if len(audioPaths) > 0 {
			return f.MuxWAVIntoMP4(ctx, out, audioPaths[0], out)
		}
		return nil
	}

	listPath := out + ".txt"
	defer os.Remove(listPath)
	if err := writeConcatList(videoPaths, listPath); err != nil {
		return err
	}

	audioPath := ""
	if len(audioPaths) > 0 {
		p, err := f.concatWAVs(ctx, audioPaths, out+".wav")
		if err != nil {
			// Ship the video without audio rather than failing the run.
			f.logger.Warn("audio concat failed, muxing without audio", "error", err)
		} else {
			audioPath = p
			defer os.Remove(audioPath)
		}
	}

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args, "-r", strconv.Itoa(fps), "-c:v", "libx264", "-pix_fmt", "yuv420p")
	if audioPath != "" {
		args = append(args, "-c:a", "aac", "-shortest")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-movflags", "+faststart", out)

	if err := f.run(ctx, args...); err != nil {
		return fmt.Errorf("concat and mux: %w", err)
	}
	return nil
}

// MuxWAVIntoMP4 muxes a wav track into a video. With ffmpeg unavailable it
// degrades to a plain file copy, leaving the video silent; out should
// differ from video on the ffmpeg path.
func (f *FFmpeg) MuxWAVIntoMP4(ctx context.Context, video, wav, out string) error {
	if !f.Available(ctx) {
		if video == out {
			return nil
		}
		return copyFile(video, out)
	}
	args := []string{"-y", "-i", video, "-i", wav, "-c:v", "copy", "-c:a", "aac", "-shortest", out}
	if err := f.run(ctx, args...); err != nil {
		return fmt.Errorf("mux audio: %w", err)
	}
	return nil
}

// concatWAVs losslessly concatenates wav inputs into a PCM file at out.
func (f *FFmpeg) concatWAVs(ctx context.Context, paths []string, out string) (string, error) {
	listPath := out + ".txt"
	defer os.Remove(listPath)
	if err := writeConcatList(paths, listPath); err != nil {
		return "", err
	}
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c:a", "pcm_s16le", out}
	if err := f.run(ctx, args...); err != nil {
		return "", fmt.Errorf("concat wav: %w", err)
	}
	return out, nil
}

// execCmd is the production commandFunc.
func (f *FFmpeg) execCmd(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.bin, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		return fmt.Errorf("%s: %w: %s", f.bin, err, truncate(stderrBuf.String(), 512))
	}
	f.logger.Debug("ffmpeg command succeeded",
		"args", args,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func writeConcatList(paths []string, listPath string) error {
	var buf bytes.Buffer
	for _, p := range paths {
		fmt.Fprintf(&buf, "file '%s'\n", p)
	}
	if err := os.WriteFile(listPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

func existingOnly(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
