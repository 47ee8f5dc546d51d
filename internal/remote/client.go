package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// local ports probed when no explicit service URL is configured
	portStart = 8188
	portEnd   = 8192

	probeTimeout        = 2 * time.Second
	submitTimeout       = 30 * time.Second
	pollRequestTimeout  = 10 * time.Second
	defaultPollInterval = 500 * time.Millisecond

	maxErrorBody = 4096
)

// ErrTimeout marks a poll deadline expiry, distinct from configuration
// errors.
var ErrTimeout = errors.New("timed out waiting for generation outputs")

// ErrUnreachable marks a failed endpoint discovery.
var ErrUnreachable = errors.New("generation service not reachable")

// APIError is a non-200 response from the generation service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation service error: HTTP %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client. Zero values fall back to built-in defaults.
type Options struct {
	BaseURL             string // explicit service URL; empty = local port scan
	WorkflowText        string
	WorkflowPath        string
	DefaultWorkflowPath string // agent-level default workflow file
	OutputDir           string // service output dir for path resolution
	ServiceRoot         string // service install root, extra fallback for path resolution
	SaveNodeID          string // restrict output-node rewriting to one node id
	PollTimeout         time.Duration
	PollInterval        time.Duration
	Logger              *slog.Logger
}

// ChunkSpec describes one chunk to generate remotely.
type ChunkSpec struct {
	Seed     int64
	FPS      int
	Frames   int
	Basename string
	Index    int
}

// Client drives the generation service for one chunk at a time.
type Client struct {
	opts         Options
	probeClient  *http.Client
	submitClient *http.Client
	pollClient   *http.Client
	logger       *slog.Logger
}

// NewClient creates a Client with per-operation HTTP timeouts.
func NewClient(opts Options) *Client {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 600 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:         opts,
		probeClient:  &http.Client{Timeout: probeTimeout},
		submitClient: &http.Client{Timeout: submitTimeout},
		pollClient:   &http.Client{Timeout: pollRequestTimeout},
		logger:       logger,
	}
}

// RunChunk loads and rewrites the workflow prompt for the chunk, submits it
// and blocks until the service reports produced files or the poll deadline
// passes. The returned audio path is empty when the job produced no wav.
func (c *Client) RunChunk(ctx context.Context, spec ChunkSpec) (videoPath, audioPath string, err error) {
	prompt, err := LoadWorkflow(c.opts.WorkflowText, c.opts.WorkflowPath, c.opts.DefaultWorkflowPath)
	if err != nil {
		return "", "", err
	}
	if prompt, err = UpdateInputs(prompt, spec.Seed, spec.FPS, spec.Frames); err != nil {
		return "", "", err
	}
	if prompt, err = UpdateSaveNodes(prompt, spec.Basename, spec.Index, c.opts.SaveNodeID); err != nil {
		return "", "", err
	}

	base, err := c.Discover(ctx)
	if err != nil {
		return "", "", err
	}

	promptID, err := c.submit(ctx, base, prompt)
	if err != nil {
		return "", "", err
	}
	c.logger.Info("chunk submitted",
		"chunk_index", spec.Index,
		"seed", spec.Seed,
		"prompt_id", promptID,
		"service", base,
	)

	mp4s, wavs, err := c.waitForOutputs(ctx, base, promptID)
	if err != nil {
		return "", "", err
	}
	if len(mp4s) == 0 {
		return "", "", errors.New("generation history returned no mp4 outputs")
	}

	baseDir := strings.TrimSpace(c.opts.OutputDir)
	if baseDir == "" {
		baseDir = "output"
	}
	roots := []string{}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}
	if c.opts.ServiceRoot != "" {
		roots = append(roots, c.opts.ServiceRoot)
	}

	// The most recently produced file wins.
	videoPath = ResolveOutputPath(mp4s[len(mp4s)-1], baseDir, roots)
	if len(wavs) > 0 {
		audioPath = ResolveOutputPath(wavs[len(wavs)-1], baseDir, roots)
	}
	return videoPath, audioPath, nil
}

// Discover returns a reachable service base URL: the configured URL when it
// responds to a status probe, otherwise the first responding local port.
func (c *Client) Discover(ctx context.Context) (string, error) {
	if url := strings.TrimRight(strings.TrimSpace(c.opts.BaseURL), "/"); url != "" {
		if c.probe(ctx, url) {
			return url, nil
		}
		return "", fmt.Errorf("%w at %s", ErrUnreachable, url)
	}
	for port := portStart; port <= portEnd; port++ {
		candidate := fmt.Sprintf("http://127.0.0.1:%d", port)
		if c.probe(ctx, candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w on ports %d-%d", ErrUnreachable, portStart, portEnd)
}

// probe checks the two known status sub-paths; any 200 means alive.
func (c *Client) probe(ctx context.Context, base string) bool {
	for _, endpoint := range []string{"system_stats", "queue"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+endpoint, nil)
		if err != nil {
			continue
		}
		resp, err := c.probeClient.Do(req)
		if err != nil {
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true
		}
	}
	return false
}

// submit POSTs the prompt and extracts the job id from the response.
func (c *Client) submit(ctx context.Context, base string, prompt []byte) (string, error) {
	body, err := sjson.SetRawBytes([]byte(`{}`), "prompt", prompt)
	if err != nil {
		return "", fmt.Errorf("build submit body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.submitClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit prompt: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: truncateBody(respBody)}
	}
	return extractPromptID(respBody)
}

// extractPromptID reads the job id, which may be a scalar or a
// single-element list.
func extractPromptID(body []byte) (string, error) {
	id := gjson.GetBytes(body, "prompt_id")
	if id.IsArray() {
		arr := id.Array()
		if len(arr) == 0 {
			return "", fmt.Errorf("unexpected submit response: %s", truncateBody(body))
		}
		id = arr[0]
	}
	s := id.String()
	if !id.Exists() || id.IsObject() || id.IsArray() || s == "" {
		return "", fmt.Errorf("unexpected submit response: %s", truncateBody(body))
	}
	return s, nil
}

// waitForOutputs polls the job history until produced files appear or the
// deadline passes. Transient request failures and non-200 responses mean
// "not ready yet" and never abort the wait.
func (c *Client) waitForOutputs(ctx context.Context, base, promptID string) (mp4s, wavs []OutputFile, err error) {
	deadline := time.Now().Add(c.opts.PollTimeout)
	url := base + "/history/" + promptID

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("create history request: %w", err)
		}
		resp, err := c.pollClient.Do(req)
		if err != nil {
			if err := sleepCtx(ctx, c.opts.PollInterval); err != nil {
				return nil, nil, err
			}
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			mp4s, wavs = CollectOutputFiles(body)
			if len(mp4s) > 0 || len(wavs) > 0 {
				return mp4s, wavs, nil
			}
		}
		if err := sleepCtx(ctx, c.opts.PollInterval); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, fmt.Errorf("%w after %s (prompt %s)", ErrTimeout, c.opts.PollTimeout, promptID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
