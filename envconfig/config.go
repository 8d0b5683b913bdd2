package envconfig

import (
	"log/slog"
	"os"
	"strconv"
)

var (
	// Set via SHARDER_DEBUG in the environment
	Debug bool
	// Set via SHARDER_NOPROGRESS in the environment
	NoProgress bool
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"SHARDER_DEBUG":      {"SHARDER_DEBUG", Debug, "Show additional debug information (e.g. SHARDER_DEBUG=1)"},
		"SHARDER_NOPROGRESS": {"SHARDER_NOPROGRESS", NoProgress, "Disable progress output"},
	}
}

func boolVar(key string) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid environment variable, ignoring", "key", key, "value", raw)
		return false
	}
	return v
}

// LoadConfig reads sharder settings from the environment. Called once at
// startup, before any logging at non-default levels.
func LoadConfig() {
	Debug = boolVar("SHARDER_DEBUG")
	NoProgress = boolVar("SHARDER_NOPROGRESS")
}
