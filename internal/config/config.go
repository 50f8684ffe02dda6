package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides (TETHER_INACTIVITY_TIMEOUT_SEC, ...).
const EnvPrefix = "TETHER"

// Config holds application configuration.
type Config struct {
	// InactivityTimeoutSec is the idle period after which an active session becomes inactive.
	InactivityTimeoutSec int `json:"inactivity_timeout_sec" envconfig:"INACTIVITY_TIMEOUT_SEC"`

	// InactivityCheckSec is how often the inactivity monitor runs.
	InactivityCheckSec int `json:"inactivity_check_sec" envconfig:"INACTIVITY_CHECK_SEC"`

	// MinWindowDurationSec is the soft minimum window length. Shorter windows
	// are still created, with a warning.
	MinWindowDurationSec int `json:"min_window_duration_sec" envconfig:"MIN_WINDOW_DURATION_SEC"`

	// MaxWindowDurationSec is the length above which new windows are bisected
	// (unless DisableAutoSplit) and merges produce a warning.
	MaxWindowDurationSec int `json:"max_window_duration_sec" envconfig:"MAX_WINDOW_DURATION_SEC"`

	// ActivityGapThresholdSec is the silence that separates two auto-detected windows.
	ActivityGapThresholdSec int `json:"activity_gap_threshold_sec" envconfig:"ACTIVITY_GAP_THRESHOLD_SEC"`

	// AutoMergeThresholdSec is the largest gap between detected windows that
	// still merges them when adjacent merging is requested.
	AutoMergeThresholdSec int `json:"auto_merge_threshold_sec" envconfig:"AUTO_MERGE_THRESHOLD_SEC"`

	// DisableAutoSplit turns off bisection of windows longer than MaxWindowDurationSec.
	DisableAutoSplit bool `json:"disable_auto_split,omitempty" envconfig:"DISABLE_AUTO_SPLIT"`

	// DisableAutoCreate makes GetOrCreateForTimestamp fail instead of creating a window.
	DisableAutoCreate bool `json:"disable_auto_create,omitempty" envconfig:"DISABLE_AUTO_CREATE"`

	// ShellIntegration enables TETHER_* exports for child processes.
	ShellIntegration bool `json:"shell_integration,omitempty" envconfig:"SHELL_INTEGRATION"`

	// AllowedPaths is an allowlist of directories for export operations.
	// Paths outside ~/.tether/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty" envconfig:"ALLOWED_PATHS"`

	// AllowUnsafePaths disables directory restrictions for export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty" envconfig:"ALLOW_UNSAFE_PATHS"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" envconfig:"DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" envconfig:"DB_MAX_IDLE_CONNS"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" envconfig:"DISABLED_TOOLS"`

	// DisabledTypes is a list of tool type names ("session", "window") to disable entirely.
	DisabledTypes []string `json:"disabled_types,omitempty" envconfig:"DISABLED_TYPES"`

	// LogLevel is the zap level: debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" envconfig:"LOG_LEVEL"`

	// LogDevelopment switches to console encoding with stack traces.
	LogDevelopment bool `json:"log_development,omitempty" envconfig:"LOG_DEVELOPMENT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		InactivityTimeoutSec:    30 * 60,
		InactivityCheckSec:      60,
		MinWindowDurationSec:    15 * 60,
		MaxWindowDurationSec:    8 * 60 * 60,
		ActivityGapThresholdSec: 30 * 60,
		AutoMergeThresholdSec:   5 * 60,
		LogLevel:                "warn",
	}
}

// InactivityTimeout returns InactivityTimeoutSec as a duration.
func (c *Config) InactivityTimeout() time.Duration { return seconds(c.InactivityTimeoutSec) }

// InactivityCheckInterval returns InactivityCheckSec as a duration.
func (c *Config) InactivityCheckInterval() time.Duration { return seconds(c.InactivityCheckSec) }

// MinWindowDuration returns MinWindowDurationSec as a duration.
func (c *Config) MinWindowDuration() time.Duration { return seconds(c.MinWindowDurationSec) }

// MaxWindowDuration returns MaxWindowDurationSec as a duration.
func (c *Config) MaxWindowDuration() time.Duration { return seconds(c.MaxWindowDurationSec) }

// ActivityGapThreshold returns ActivityGapThresholdSec as a duration.
func (c *Config) ActivityGapThreshold() time.Duration { return seconds(c.ActivityGapThresholdSec) }

// AutoMergeThreshold returns AutoMergeThresholdSec as a duration.
func (c *Config) AutoMergeThreshold() time.Duration { return seconds(c.AutoMergeThresholdSec) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tether.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.tether) and repo (.tether) directories,
// then applies TETHER_* environment overrides.
// Repo config is found by walking upward from startDir to find the nearest .tether/config.json.
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

	// Apply defaults, then global, then repo, then environment
	return ApplyEnv(Merge(Merge(DefaultConfig(), global), repo))
}

// ApplyEnv overlays TETHER_* environment variables onto cfg.
// Unset variables leave cfg untouched.
func ApplyEnv(cfg *Config) (*Config, error) {
	overlay := &Config{}
	if err := envconfig.Process(EnvPrefix, overlay); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}
	return Merge(cfg, overlay), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .tether/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".tether", "config.json")
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
		return nil, err
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
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.InactivityTimeoutSec = pickInt(base.InactivityTimeoutSec, overlay.InactivityTimeoutSec)
	result.InactivityCheckSec = pickInt(base.InactivityCheckSec, overlay.InactivityCheckSec)
	result.MinWindowDurationSec = pickInt(base.MinWindowDurationSec, overlay.MinWindowDurationSec)
	result.MaxWindowDurationSec = pickInt(base.MaxWindowDurationSec, overlay.MaxWindowDurationSec)
	result.ActivityGapThresholdSec = pickInt(base.ActivityGapThresholdSec, overlay.ActivityGapThresholdSec)
	result.AutoMergeThresholdSec = pickInt(base.AutoMergeThresholdSec, overlay.AutoMergeThresholdSec)
	result.DBMaxOpenConns = pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	result.LogLevel = overlay.LogLevel
	if strings.TrimSpace(result.LogLevel) == "" {
		result.LogLevel = base.LogLevel
	}

	// Booleans: overlay wins if true, else base
	result.DisableAutoSplit = base.DisableAutoSplit || overlay.DisableAutoSplit
	result.DisableAutoCreate = base.DisableAutoCreate || overlay.DisableAutoCreate
	result.ShellIntegration = base.ShellIntegration || overlay.ShellIntegration
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths
	result.LogDevelopment = base.LogDevelopment || overlay.LogDevelopment

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
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
