// Package config provides configuration management for the MOUSE-TRAP agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// Default values
	DefaultPort     = 8673
	DefaultLogLevel = "info"
	DefaultDataDir  = ".mousetrap"

	// Environment variable names
	EnvPort     = "MOUSETRAP_PORT"
	EnvLogLevel = "MOUSETRAP_LOG_LEVEL"
	EnvDataDir  = "MOUSETRAP_DATA_DIR"

	// External tool overrides
	EnvFFmpeg   = "MOUSETRAP_FFMPEG"
	EnvPandoc   = "MOUSETRAP_PANDOC"
	EnvPdftoppm = "MOUSETRAP_PDFTOPPM"
	EnvMagick   = "MOUSETRAP_MAGICK"

	// Pose-tracking tool variables. SLEAP_NN and SLEAP_LABEL are honored
	// without a prefix so existing SLEAP installations keep working.
	EnvSleapNN    = "SLEAP_NN"
	EnvSleapLabel = "SLEAP_LABEL"
	EnvCondaEnv   = "MOUSETRAP_CONDA_ENV"

	// Database filename
	DBFilename = "mousetrap.db"

	// Default conda environment holding sleap-nn
	DefaultCondaEnv = "sleap"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	FFmpeg() string
	Pandoc() string
	Pdftoppm() string
	Magick() string
	SleapNN() string
	SleapLabel() string
	CondaEnv() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	ffmpeg   string
	pandoc   string
	pdftoppm string
	magick   string

	sleapNN    string
	sleapLabel string
	condaEnv   string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:     DefaultPort,
		logLevel: DefaultLogLevel,
		dataDir:  defaultDataDir(),
		condaEnv: DefaultCondaEnv,
	}

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

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.ffmpeg = os.Getenv(EnvFFmpeg)
	cfg.pandoc = os.Getenv(EnvPandoc)
	cfg.pdftoppm = os.Getenv(EnvPdftoppm)
	cfg.magick = os.Getenv(EnvMagick)

	cfg.sleapNN = os.Getenv(EnvSleapNN)
	cfg.sleapLabel = os.Getenv(EnvSleapLabel)

	if env := os.Getenv(EnvCondaEnv); env != "" {
		cfg.condaEnv = env
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

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// FFmpeg returns the configured ffmpeg binary, or "ffmpeg" when unset.
func (c *EnvConfig) FFmpeg() string {
	return orDefault(c.ffmpeg, "ffmpeg")
}

// Pandoc returns the configured pandoc binary, or "pandoc" when unset.
func (c *EnvConfig) Pandoc() string {
	return orDefault(c.pandoc, "pandoc")
}

// Pdftoppm returns the configured pdftoppm binary, or "pdftoppm" when unset.
func (c *EnvConfig) Pdftoppm() string {
	return orDefault(c.pdftoppm, "pdftoppm")
}

// Magick returns the configured ImageMagick binary, or "magick" when unset.
func (c *EnvConfig) Magick() string {
	return orDefault(c.magick, "magick")
}

// SleapNN returns the optional explicit path to the sleap-nn executable.
func (c *EnvConfig) SleapNN() string {
	return c.sleapNN
}

// SleapLabel returns the optional explicit path to the sleap-label executable.
func (c *EnvConfig) SleapLabel() string {
	return c.sleapLabel
}

// CondaEnv returns the conda environment name used as a fallback when the
// pose-tracking tools are not on PATH.
func (c *EnvConfig) CondaEnv() string {
	return c.condaEnv
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
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
