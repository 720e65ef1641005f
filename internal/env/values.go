package env

import (
	"os"
	"strings"
	"time"
)

// Environment variables understood by fwagent. Command-line flags override them.
const (
	Firmware        = "FWAGENT_FIRMWARE"
	LogFile         = "FWAGENT_LOG_FILE"
	Verbosity       = "FWAGENT_VERBOSITY"
	CommandsFile    = "FWAGENT_COMMANDS_FILE"
	PollInterval    = "FWAGENT_POLL_INTERVAL"
	DBPath          = "FWAGENT_DB_PATH"
	JSONLPath       = "FWAGENT_JSONL_PATH"
	MetricsTextfile = "FWAGENT_METRICS_TEXTFILE"
	ReservedPools   = "FWAGENT_RESERVED_POOLS"
	DevicePattern   = "FWAGENT_DEVICE_PATTERN"
	Shell           = "FWAGENT_SHELL"
)

// String returns the trimmed environment variable or fallback when unset.
func String(key, fallback string) string {
	_ = Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Duration parses a time duration from environment or returns fallback.
func Duration(key string, fallback time.Duration) time.Duration {
	_ = Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// List splits a comma separated variable, dropping empty items. An unset
// variable yields fallback; a set but empty one yields an empty list.
func List(key string, fallback []string) []string {
	_ = Ensure()
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	items := []string{}
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
