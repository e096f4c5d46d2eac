package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultAddr is the default address the step server listens on for transport datagrams.
	DefaultAddr = ":43127"
	// DefaultAdminAddr is the default address for the admin gRPC side-channel.
	DefaultAdminAddr = ":43128"
	// DefaultHTTPAddr is the default address for the health/stats HTTP endpoints.
	DefaultHTTPAddr = ":43129"

	// DefaultMaxConnectionCount bounds concurrent transport slots. Hard ceiling is 64.
	DefaultMaxConnectionCount = 64
	// DefaultMaxParticipantCount bounds total joined participants. Hard ceiling is 255.
	DefaultMaxParticipantCount = 255
	// DefaultMaxParticipantCountForEachConnection bounds local players per connection.
	DefaultMaxParticipantCountForEachConnection = 4
	// DefaultMaxSingleParticipantStepOctetCount caps one participant's per-tick step size. Hard ceiling is 24.
	DefaultMaxSingleParticipantStepOctetCount = 24
	// DefaultMaxGameStateOctetCount caps the snapshot buffer size.
	DefaultMaxGameStateOctetCount = 64 * 1024

	// DefaultApplicationVersion is used when STEPSERVER_APP_VERSION is unset.
	// JoinGame replies do not carry the application version.
	DefaultApplicationVersion = "0"

	// DefaultLogLevel controls verbosity for step-server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "stepserver.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures the setup config enumerated for the authoritative step server:
// connection/participant limits, octet caps, and the ambient stack (logging, listen
// addresses). Collaborator handles (transport, allocator, clock) are supplied by the
// caller of internal/server, not read from the environment.
type Config struct {
	Address    string
	AdminAddr  string
	HTTPAddr   string

	MaxConnectionCount                   int
	MaxParticipantCount                  int
	MaxParticipantCountForEachConnection int
	MaxSingleParticipantStepOctetCount   int
	MaxGameStateOctetCount               int

	ApplicationVersion string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the step-server configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid or out-of-bound overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:   getString("STEPSERVER_ADDR", DefaultAddr),
		AdminAddr: getString("STEPSERVER_ADMIN_ADDR", DefaultAdminAddr),
		HTTPAddr:  getString("STEPSERVER_HTTP_ADDR", DefaultHTTPAddr),

		MaxConnectionCount:                   DefaultMaxConnectionCount,
		MaxParticipantCount:                  DefaultMaxParticipantCount,
		MaxParticipantCountForEachConnection: DefaultMaxParticipantCountForEachConnection,
		MaxSingleParticipantStepOctetCount:   DefaultMaxSingleParticipantStepOctetCount,
		MaxGameStateOctetCount:               DefaultMaxGameStateOctetCount,

		ApplicationVersion: getString("STEPSERVER_APP_VERSION", DefaultApplicationVersion),

		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("STEPSERVER_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("STEPSERVER_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("STEPSERVER_MAX_CONNECTION_COUNT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_MAX_CONNECTION_COUNT must be a positive integer, got %q", raw))
		} else if value > 64 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_MAX_CONNECTION_COUNT must be <= 64, got %d", value))
		} else {
			cfg.MaxConnectionCount = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STEPSERVER_MAX_PARTICIPANT_COUNT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_MAX_PARTICIPANT_COUNT must be a positive integer, got %q", raw))
		} else if value > 255 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_MAX_PARTICIPANT_COUNT must be <= 255, got %d", value))
		} else {
			cfg.MaxParticipantCount = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STEPSERVER_MAX_PARTICIPANTS_PER_CONNECTION")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_MAX_PARTICIPANTS_PER_CONNECTION must be a positive integer, got %q", raw))
		} else {
			cfg.MaxParticipantCountForEachConnection = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STEPSERVER_MAX_STEP_OCTETS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_MAX_STEP_OCTETS must be a positive integer, got %q", raw))
		} else if value > 24 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_MAX_STEP_OCTETS must be <= 24, got %d", value))
		} else {
			cfg.MaxSingleParticipantStepOctetCount = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STEPSERVER_MAX_GAME_STATE_OCTETS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_MAX_GAME_STATE_OCTETS must be a positive integer, got %q", raw))
		} else {
			cfg.MaxGameStateOctetCount = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STEPSERVER_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STEPSERVER_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STEPSERVER_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("STEPSERVER_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STEPSERVER_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("STEPSERVER_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
