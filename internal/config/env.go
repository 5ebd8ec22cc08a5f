package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables read by LoadConfigWithDetails.
const (
	EnvConfigPath = "DARTAS_CONFIG_PATH"
	EnvSdkPath    = "DARTAS_SDK_PATH"
	// EnvDartSdk is the conventional SDK variable, used when EnvSdkPath is unset
	EnvDartSdk = "DART_SDK"
)

// EnvOverride records one setting taken from the environment.
type EnvOverride struct {
	EnvVar string
	Path   string
	Value  string
}

// envVarMappings maps environment variables to config paths. Earlier
// entries for the same path win.
var envVarMappings = []struct {
	envVar string
	path   string
}{
	{EnvSdkPath, "sdkPath"},
	{EnvDartSdk, "sdkPath"},
	{"DARTAS_SERVER_FLAGS", "serverFlags"},
	{"DARTAS_NO_ERROR_NOTIFICATION", "noErrorNotification"},
	{"DARTAS_AUTO_ADD_ROOTS", "autoAddRoots"},
	{"DARTAS_GRACEFUL_SHUTDOWN", "gracefulShutdown"},
	{"DARTAS_SHUTDOWN_TIMEOUT_MS", "shutdownTimeoutMs"},
	{"DARTAS_HANDSHAKE_TIMEOUT_MS", "handshakeTimeoutMs"},
	{"DARTAS_STATE_DIR", "stateDir"},
	{"DARTAS_LOG_LEVEL", "logging.level"},
	{"DARTAS_LOGGING_LEVEL", "logging.level"},
	{"DARTAS_LOGGING_FORMAT", "logging.format"},
	{"DARTAS_LOGGING_FILE", "logging.file"},
	{"DARTAS_METRICS_ADDR", "telemetry.metricsAddr"},
}

// GetSupportedEnvVars lists every environment variable that can override
// configuration, plus EnvConfigPath.
func GetSupportedEnvVars() []string {
	vars := []string{EnvConfigPath}
	for _, m := range envVarMappings {
		vars = append(vars, m.envVar)
	}
	return vars
}

// ApplyEnvOverrides applies set environment variables to cfg and returns
// what was applied. Values that do not parse for their field are ignored.
func ApplyEnvOverrides(cfg *Config) []EnvOverride {
	var overrides []EnvOverride
	applied := make(map[string]bool)

	for _, m := range envVarMappings {
		if applied[m.path] {
			continue
		}
		value, ok := os.LookupEnv(m.envVar)
		if !ok || value == "" {
			continue
		}
		if !applyOverride(cfg, m.path, value) {
			continue
		}
		applied[m.path] = true
		overrides = append(overrides, EnvOverride{EnvVar: m.envVar, Path: m.path, Value: value})
	}
	return overrides
}

// applyOverride sets one config path from a string. It reports whether the
// path is known and the value parsed.
func applyOverride(cfg *Config, path, value string) bool {
	switch path {
	case "sdkPath":
		cfg.SdkPath = value
	case "serverFlags":
		cfg.ServerFlags = strings.Fields(value)
	case "noErrorNotification":
		return setBool(&cfg.NoErrorNotification, value)
	case "autoAddRoots":
		return setBool(&cfg.AutoAddRoots, value)
	case "gracefulShutdown":
		return setBool(&cfg.GracefulShutdown, value)
	case "shutdownTimeoutMs":
		return setInt(&cfg.ShutdownTimeoutMs, value)
	case "handshakeTimeoutMs":
		return setInt(&cfg.HandshakeTimeoutMs, value)
	case "stateDir":
		cfg.StateDir = value
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.format":
		cfg.Logging.Format = value
	case "logging.file":
		cfg.Logging.File = value
	case "telemetry.metricsAddr":
		cfg.Telemetry.MetricsAddr = value
	default:
		return false
	}
	return true
}

func setBool(dst *bool, value string) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	*dst = b
	return true
}

func setInt(dst *int, value string) bool {
	n, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	*dst = n
	return true
}
