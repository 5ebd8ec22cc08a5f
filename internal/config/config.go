package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CurrentVersion is the only config schema version this build reads.
const CurrentVersion = 1

// DirName is the per-project state directory holding config.json.
const DirName = ".dartas"

// Config represents the complete dartas configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	// SdkPath is the Dart SDK root; the server runs from <sdk>/bin
	SdkPath string `json:"sdkPath" mapstructure:"sdkPath"`
	// ServerFlags are passed to the server before --sdk
	ServerFlags []string `json:"serverFlags" mapstructure:"serverFlags"`

	NoErrorNotification bool `json:"noErrorNotification" mapstructure:"noErrorNotification"`
	AutoAddRoots        bool `json:"autoAddRoots" mapstructure:"autoAddRoots"`
	GracefulShutdown    bool `json:"gracefulShutdown" mapstructure:"gracefulShutdown"`

	ShutdownTimeoutMs  int `json:"shutdownTimeoutMs" mapstructure:"shutdownTimeoutMs"`
	HandshakeTimeoutMs int `json:"handshakeTimeoutMs" mapstructure:"handshakeTimeoutMs"`

	// StateDir holds the workspace database; relative paths are resolved
	// against the project root
	StateDir string `json:"stateDir" mapstructure:"stateDir"`

	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"` // "human" or "json"
	Level  string `json:"level" mapstructure:"level"`
	// File, when set, receives logs in addition to stderr
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"maxSizeMB" mapstructure:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	// MetricsAddr serves Prometheus metrics when non-empty, e.g. "127.0.0.1:9464"
	MetricsAddr string `json:"metricsAddr" mapstructure:"metricsAddr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:             CurrentVersion,
		ServerFlags:         []string{},
		NoErrorNotification: true,
		AutoAddRoots:        true,
		GracefulShutdown:    false,
		ShutdownTimeoutMs:   2000,
		HandshakeTimeoutMs:  0,
		StateDir:            DirName,
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// setDefaults registers every default so a partial file keeps the rest.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("sdkPath", d.SdkPath)
	v.SetDefault("serverFlags", d.ServerFlags)
	v.SetDefault("noErrorNotification", d.NoErrorNotification)
	v.SetDefault("autoAddRoots", d.AutoAddRoots)
	v.SetDefault("gracefulShutdown", d.GracefulShutdown)
	v.SetDefault("shutdownTimeoutMs", d.ShutdownTimeoutMs)
	v.SetDefault("handshakeTimeoutMs", d.HandshakeTimeoutMs)
	v.SetDefault("stateDir", d.StateDir)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSizeMB", d.Logging.MaxSizeMB)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
	v.SetDefault("telemetry.metricsAddr", d.Telemetry.MetricsAddr)
}

// LoadResult describes where a configuration came from.
type LoadResult struct {
	Config       *Config
	ConfigPath   string
	UsedDefaults bool
	EnvOverrides []EnvOverride
}

// LoadConfig loads configuration from .dartas/config.json under projectRoot
// and applies environment overrides.
func LoadConfig(projectRoot string) (*Config, error) {
	result, err := LoadConfigWithDetails(projectRoot)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadConfigWithDetails loads configuration and reports its source.
// DARTAS_CONFIG_PATH, when set, names the file to read instead of the
// project's own; it must exist.
func LoadConfigWithDetails(projectRoot string) (*LoadResult, error) {
	result := &LoadResult{}

	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		cfg, err := LoadConfigFromPath(envPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s=%s: %w", EnvConfigPath, envPath, err)
		}
		result.Config = cfg
		result.ConfigPath = envPath
	} else {
		path := filepath.Join(projectRoot, DirName, "config.json")
		cfg, err := LoadConfigFromPath(path)
		switch {
		case err == nil:
			result.Config = cfg
			result.ConfigPath = path
		case errors.Is(err, os.ErrNotExist):
			result.Config = DefaultConfig()
			result.UsedDefaults = true
		default:
			return nil, err
		}
	}

	result.EnvOverrides = ApplyEnvOverrides(result.Config)
	return result, nil
}

// LoadConfigFromPath reads one config file. A missing file yields an error
// matching os.ErrNotExist.
func LoadConfigFromPath(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to .dartas/config.json
func (c *Config) Save(projectRoot string) error {
	dir := filepath.Join(projectRoot, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}
	switch c.Logging.Format {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be \"human\" or \"json\""}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "logging.level", Message: "must be debug, info, warn or error"}
	}
	if c.ShutdownTimeoutMs < 0 {
		return &ConfigError{Field: "shutdownTimeoutMs", Message: "must not be negative"}
	}
	if c.HandshakeTimeoutMs < 0 {
		return &ConfigError{Field: "handshakeTimeoutMs", Message: "must not be negative"}
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 {
		return &ConfigError{Field: "logging", Message: "rotation limits must not be negative"}
	}
	if c.StateDir == "" {
		return &ConfigError{Field: "stateDir", Message: "must not be empty"}
	}
	return nil
}

// ServerCommand returns the executable and arguments that start the
// analysis server for the configured SDK.
func (c *Config) ServerCommand() (string, []string, error) {
	if c.SdkPath == "" {
		return "", nil, &ConfigError{Field: "sdkPath", Message: "no Dart SDK configured; set sdkPath, --sdk or " + EnvSdkPath}
	}

	binDir := filepath.Join(c.SdkPath, "bin")
	executable := filepath.Join(binDir, "dart")
	snapshot := filepath.Join(binDir, "snapshots", "analysis_server.dart.snapshot")

	args := make([]string, 0, len(c.ServerFlags)+4)
	args = append(args, snapshot)
	for _, f := range c.ServerFlags {
		if f != "" {
			args = append(args, f)
		}
	}
	args = append(args, "--sdk", c.SdkPath)
	if c.NoErrorNotification {
		args = append(args, "--no-error-notification")
	}
	return executable, args, nil
}

// StatePath resolves StateDir against projectRoot.
func (c *Config) StatePath(projectRoot string) string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(projectRoot, c.StateDir)
}

// HandshakeTimeout is zero when the handshake is unbounded.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// ShutdownTimeout bounds a graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
