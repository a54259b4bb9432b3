package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// Environment variable names read at process start.
const (
	EnvPort            = "PORT"
	EnvLogLevel        = "SVCBOOT_LOG_LEVEL"
	EnvLogFormat       = "SVCBOOT_LOG_FORMAT"
	EnvShutdownTimeout = "SVCBOOT_SHUTDOWN_TIMEOUT"
)

// DefaultShutdownTimeout bounds graceful shutdown of the in-process server.
const DefaultShutdownTimeout = 10 * time.Second

// Env is the launch-time view of the process environment. It is read
// once and never refreshed.
type Env struct {
	// Port is the resolved listen port.
	Port int

	// PortFromEnv is true when Port came from PORT rather than the default.
	PortFromEnv bool

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Getenv is the lookup signature used by LoadEnv; os.Getenv satisfies it.
type Getenv func(string) string

// LoadEnv resolves the launch environment. defaultPort is used when PORT
// is absent or empty.
func LoadEnv(getenv Getenv, defaultPort int) (Env, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	port, fromEnv, err := ResolvePort(getenv, defaultPort)
	if err != nil {
		return Env{}, err
	}

	timeout := DefaultShutdownTimeout
	if raw := strings.TrimSpace(getenv(EnvShutdownTimeout)); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			return Env{}, fmt.Errorf("invalid %s %q: expected a non-negative duration such as 10s", EnvShutdownTimeout, raw)
		}
		timeout = parsed
	}

	level, format := LogSettings(getenv)
	return Env{
		Port:            port,
		PortFromEnv:     fromEnv,
		LogLevel:        level,
		LogFormat:       format,
		ShutdownTimeout: timeout,
	}, nil
}

// LogSettings returns the log level and format from the environment.
// Unlike LoadEnv it never fails, so commands that do not launch anything
// can configure logging without validating PORT.
func LogSettings(getenv Getenv) (level, format string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	return envOrDefault(getenv, EnvLogLevel, "info"), envOrDefault(getenv, EnvLogFormat, "json")
}

// ResolvePort returns PORT when it is present and non-empty, else
// fallback. The boolean reports whether the value came from PORT.
//
// A value that is not an integer in 1-65535 is a fatal launch error
// (ExitPortUnavailable). There is no fallback to the default in that
// case: a misconfigured platform must not silently get a different port.
func ResolvePort(getenv Getenv, fallback int) (int, bool, error) {
	raw := strings.TrimSpace(getenv(EnvPort))
	if raw == "" {
		if err := model.ValidatePort(fallback); err != nil {
			return 0, false, model.WrapCLIError(model.ExitPortUnavailable, "invalid default port", err)
		}
		return fallback, false, nil
	}

	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, model.WrapCLIError(model.ExitPortUnavailable,
			fmt.Sprintf("invalid %s value %q", EnvPort, raw), err)
	}
	if err := model.ValidatePort(port); err != nil {
		return 0, true, model.WrapCLIError(model.ExitPortUnavailable,
			fmt.Sprintf("invalid %s value %q", EnvPort, raw), err)
	}
	return port, true, nil
}

func envOrDefault(getenv Getenv, name, fallback string) string {
	if value := strings.TrimSpace(getenv(name)); value != "" {
		return value
	}
	return fallback
}
