// Package config provides configuration management for the Longtake agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8799
	DefaultLogLevel = "info"
	DefaultDataDir  = ".longtake"

	// Environment variable names
	EnvPort     = "LONGTAKE_PORT"
	EnvLogLevel = "LONGTAKE_LOG_LEVEL"
	EnvDataDir  = "LONGTAKE_DATA_DIR"
	EnvHeadless = "LONGTAKE_HEADLESS"

	// Generation environment variable names
	EnvGenerator        = "LONGTAKE_GENERATOR"
	EnvWorkflowJSON     = "LONGTAKE_WORKFLOW_JSON"
	EnvServiceURL       = "LONGTAKE_API_URL"
	EnvSaveNodeID       = "LONGTAKE_SAVE_NODE_ID"
	EnvServiceRoot      = "LONGTAKE_SERVICE_ROOT"
	EnvServiceOutputDir = "LONGTAKE_SERVICE_OUTPUT_DIR"
	EnvPollTimeoutSec   = "LONGTAKE_POLL_TIMEOUT_SEC"

	// Ledger database filename
	DBFilename = "longtake.db"

	// Default timeout waiting for remote generation outputs
	DefaultPollTimeout = 600 * time.Second
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	Headless() bool
	Generator() string
	WorkflowJSONPath() string
	ServiceURL() string
	SaveNodeID() string
	ServiceRoot() string
	ServiceOutputDir() string
	PollTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	generator        string
	workflowJSONPath string
	serviceURL       string
	saveNodeID       string
	serviceRoot      string
	serviceOutputDir string
	pollTimeout      time.Duration
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:        DefaultPort,
		logLevel:    DefaultLogLevel,
		dataDir:     defaultDataDir(),
		pollTimeout: DefaultPollTimeout,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	cfg.generator = os.Getenv(EnvGenerator)
	cfg.workflowJSONPath = os.Getenv(EnvWorkflowJSON)
	cfg.serviceURL = os.Getenv(EnvServiceURL)
	cfg.saveNodeID = os.Getenv(EnvSaveNodeID)
	cfg.serviceRoot = os.Getenv(EnvServiceRoot)
	cfg.serviceOutputDir = os.Getenv(EnvServiceOutputDir)

	if ts := os.Getenv(EnvPollTimeoutSec); ts != "" {
		sec, err := strconv.Atoi(ts)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPollTimeoutSec, err)
		}
		if sec < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1 second", EnvPollTimeoutSec)
		}
		cfg.pollTimeout = time.Duration(sec) * time.Second
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite ledger file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// Headless reports whether the tray UI is disabled
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// Generator returns the name of a registered in-process generator that
// should be used for every chunk, overriding candidate probing.
func (c *EnvConfig) Generator() string {
	return c.generator
}

// WorkflowJSONPath returns the default workflow JSON path for remote runs
func (c *EnvConfig) WorkflowJSONPath() string {
	return c.workflowJSONPath
}

// ServiceURL returns an explicit remote generation service base URL
func (c *EnvConfig) ServiceURL() string {
	return c.serviceURL
}

// SaveNodeID restricts output-node rewriting to a single workflow node
func (c *EnvConfig) SaveNodeID() string {
	return c.saveNodeID
}

// ServiceRoot returns the remote service's install root, used as a
// fallback when resolving produced file paths.
func (c *EnvConfig) ServiceRoot() string {
	return c.serviceRoot
}

// ServiceOutputDir returns the remote service's output directory
func (c *EnvConfig) ServiceOutputDir() string {
	return c.serviceOutputDir
}

// PollTimeout returns the default deadline for remote output polling
func (c *EnvConfig) PollTimeout() time.Duration {
	return c.pollTimeout
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
