// Package config is the viper-backed configuration singleton for scribe.
// Precedence: command-line flag > SCRIBE_* environment variable >
// .scribe/config.yaml > built-in default.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/untoldecay/scribe/internal/debug"
)

var v *viper.Viper

// Initialize sets up the configuration singleton. Call once at startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Locate config.yaml explicitly so a stray config.json never wins.
	// Precedence: project .scribe/config.yaml > ~/.config/scribe/config.yaml
	// > ~/.scribe/config.yaml.
	configFileSet := false

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".scribe", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "scribe", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".scribe", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Every key below has a SCRIBE_ env override, e.g. SCRIBE_LOG_MAX_BYTES,
	// SCRIBE_STORAGE_TIMEOUT_SECONDS, SCRIBE_DAEMON_IDLE_TIMEOUT.
	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Append pipeline
	v.SetDefault("log_rate_limit_count", 10)
	v.SetDefault("log_rate_limit_window", 60)
	v.SetDefault("log_max_bytes", 0)
	v.SetDefault("bulk_chunk_size", 50)

	// Rotation
	v.SetDefault("rotation_default_threshold", 500)
	v.SetDefault("rotation_archive_suffix", "archive")

	// Storage
	v.SetDefault("storage_timeout_seconds", 5.0)
	v.SetDefault("db", "")
	v.SetDefault("no_db", false)

	// File locking
	v.SetDefault("lock_timeout_seconds", 30)

	// Token accounting (consumed by the response optimizer)
	v.SetDefault("token_daily_limit", 500000)
	v.SetDefault("token_operation_limit", 20000)
	v.SetDefault("token_warning_threshold", 0.8)

	// Query engine
	v.SetDefault("query_default_page_size", 20)

	// Identity and output
	v.SetDefault("agent", "")
	v.SetDefault("json", false)

	// Daemon
	v.SetDefault("no_daemon", false)
	v.SetDefault("daemon.idle_timeout", "30m")
	v.SetDefault("daemon.max_connections", 32)
	v.SetDefault("daemon.request_timeout", "30s")
	v.SetDefault("daemon.log_max_size_mb", 10)
	v.SetDefault("daemon.log_max_backups", 3)

	// Digest
	v.SetDefault("digest.model", "claude-3-5-haiku-20241022")
	v.SetDefault("digest.max_entries", 50)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debug.Logf("Debug: loaded config from %s\n", v.ConfigFileUsed())
	} else {
		debug.Logf("Debug: no config.yaml found; using defaults and environment variables\n")
	}

	return nil
}

// ConfigSource identifies where a configuration value came from.
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
	SourceFlag       ConfigSource = "flag"
)

// GetValueSource returns the source of a configuration value.
// Flag overrides are handled by the CLI layer since viper doesn't see
// cobra flags.
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}
	envKey := "SCRIBE_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}
	if v.InConfig(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetInt64 retrieves an int64 configuration value.
func GetInt64(key string) int64 {
	if v == nil {
		return 0
	}
	return v.GetInt64(key)
}

// GetFloat64 retrieves a float configuration value.
func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a configuration value at runtime. Used by flag binding
// and by tests.
func Set(key string, value any) {
	if v == nil {
		_ = Initialize()
	}
	v.Set(key, value)
}

// AllSettings returns the merged configuration map.
func AllSettings() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v.AllSettings()
}

// StorageTimeout returns the mirror call budget as a duration.
func StorageTimeout() time.Duration {
	secs := GetFloat64("storage_timeout_seconds")
	if secs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(secs * float64(time.Second))
}

// LockTimeout returns the file lock acquisition budget.
func LockTimeout() time.Duration {
	secs := GetInt("lock_timeout_seconds")
	if secs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(secs) * time.Second
}

// GetIdentity resolves the agent name used for appends when none is
// given explicitly. Chain: flag > config/env > git user.name > hostname.
func GetIdentity(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if agent := GetString("agent"); agent != "" {
		return agent
	}
	if out, err := exec.Command("git", "config", "user.name").Output(); err == nil {
		if name := strings.TrimSpace(string(out)); name != "" {
			return name
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "Scribe"
}

// FindScribeDir walks up from the working directory looking for a
// .scribe directory. Returns "" when none exists.
func FindScribeDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return FindScribeDirFrom(cwd)
}

// FindScribeDirFrom walks up from start looking for a .scribe directory.
func FindScribeDirFrom(start string) string {
	for dir := start; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".scribe")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		if dir == filepath.Dir(dir) {
			return ""
		}
	}
}

// RepoRoot resolves the repository root: explicit config > the directory
// holding .scribe > the working directory.
func RepoRoot() string {
	if root := GetString("repo_root"); root != "" {
		return root
	}
	if scribeDir := FindScribeDir(); scribeDir != "" {
		return filepath.Dir(scribeDir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}
