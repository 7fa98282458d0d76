package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// AudioCaptureCommand is the argv of a local program that writes an audio
	// stream to stdout until interrupted.
	AudioCaptureCommand []string `json:"audio_capture_command,omitempty"`

	// VideoCaptureCommand is the argv of a local program that writes an
	// audio+video stream to stdout until interrupted.
	VideoCaptureCommand []string `json:"video_capture_command,omitempty"`

	// RecognizerCommand is the argv of a local speech-to-text program that
	// prints one transcript segment per line. Empty means voice activation is
	// not supported on this device.
	RecognizerCommand []string `json:"recognizer_command,omitempty"`

	// ChunkIntervalMs is how often the capture session collects buffered data.
	ChunkIntervalMs int `json:"chunk_interval_ms"`

	// RestartDelayMs is the pause before re-subscribing to the recognizer
	// after its feed ends unexpectedly.
	RestartDelayMs int `json:"restart_delay_ms"`

	// TrainingSampleMs is how long each training sample records before it
	// stops on its own.
	TrainingSampleMs int `json:"training_sample_ms"`

	// AllowedPaths is an allowlist of directories for export.
	// Paths outside ~/.echocap/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// MetricsAddr, when set, serves Prometheus metrics on this loopback
	// address while listening.
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AudioCaptureCommand: []string{
			"ffmpeg", "-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-c:a", "libopus", "-f", "webm", "-",
		},
		VideoCaptureCommand: []string{
			"ffmpeg", "-hide_banner", "-loglevel", "error",
			"-f", "v4l2", "-i", "/dev/video0",
			"-f", "pulse", "-i", "default",
			"-c:v", "libvpx", "-c:a", "libopus", "-f", "webm", "-",
		},
		ChunkIntervalMs:  1000,
		RestartDelayMs:   1000,
		TrainingSampleMs: 3000,
		LogLevel:         "info",
	}
}

// ChunkInterval returns ChunkIntervalMs as a duration.
func (c *Config) ChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalMs) * time.Millisecond
}

// RestartDelay returns RestartDelayMs as a duration.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMs) * time.Millisecond
}

// TrainingSample returns TrainingSampleMs as a duration.
func (c *Config) TrainingSample() time.Duration {
	return time.Duration(c.TrainingSampleMs) * time.Millisecond
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	if c.ChunkIntervalMs <= 0 {
		return fmt.Errorf("chunk_interval_ms must be positive, got %d", c.ChunkIntervalMs)
	}
	if c.RestartDelayMs <= 0 {
		return fmt.Errorf("restart_delay_ms must be positive, got %d", c.RestartDelayMs)
	}
	if c.TrainingSampleMs <= 0 {
		return fmt.Errorf("training_sample_ms must be positive, got %d", c.TrainingSampleMs)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.MetricsAddr != "" {
		host, _, err := net.SplitHostPort(c.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
		if host != "localhost" {
			ip := net.ParseIP(host)
			if ip == nil || !ip.IsLoopback() {
				return fmt.Errorf("metrics_addr must be a loopback address, got %q", c.MetricsAddr)
			}
		}
	}
	return nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.echocap.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.echocap) and repo (.echocap) directories.
// Repo config is found by walking upward from startDir to find the nearest .echocap/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .echocap/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".echocap", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars and commands; path and tool
// lists are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Commands are argv, so they replace rather than merge
	result.AudioCaptureCommand = pickCommand(base.AudioCaptureCommand, overlay.AudioCaptureCommand)
	result.VideoCaptureCommand = pickCommand(base.VideoCaptureCommand, overlay.VideoCaptureCommand)
	result.RecognizerCommand = pickCommand(base.RecognizerCommand, overlay.RecognizerCommand)

	result.ChunkIntervalMs = pickInt(base.ChunkIntervalMs, overlay.ChunkIntervalMs)
	result.RestartDelayMs = pickInt(base.RestartDelayMs, overlay.RestartDelayMs)
	result.TrainingSampleMs = pickInt(base.TrainingSampleMs, overlay.TrainingSampleMs)
	result.DBMaxOpenConns = pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	result.LogLevel = overlay.LogLevel
	if result.LogLevel == "" {
		result.LogLevel = base.LogLevel
	}
	result.MetricsAddr = overlay.MetricsAddr
	if result.MetricsAddr == "" {
		result.MetricsAddr = base.MetricsAddr
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickCommand(base, overlay []string) []string {
	if len(overlay) > 0 {
		return append([]string(nil), overlay...)
	}
	if len(base) > 0 {
		return append([]string(nil), base...)
	}
	return nil
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
