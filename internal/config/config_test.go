package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STEPSERVER_ADDR", "")
	t.Setenv("STEPSERVER_ADMIN_ADDR", "")
	t.Setenv("STEPSERVER_HTTP_ADDR", "")
	t.Setenv("STEPSERVER_MAX_CONNECTION_COUNT", "")
	t.Setenv("STEPSERVER_MAX_PARTICIPANT_COUNT", "")
	t.Setenv("STEPSERVER_MAX_PARTICIPANTS_PER_CONNECTION", "")
	t.Setenv("STEPSERVER_MAX_STEP_OCTETS", "")
	t.Setenv("STEPSERVER_MAX_GAME_STATE_OCTETS", "")
	t.Setenv("STEPSERVER_APP_VERSION", "")
	t.Setenv("STEPSERVER_LOG_LEVEL", "")
	t.Setenv("STEPSERVER_LOG_PATH", "")
	t.Setenv("STEPSERVER_LOG_MAX_SIZE_MB", "")
	t.Setenv("STEPSERVER_LOG_MAX_BACKUPS", "")
	t.Setenv("STEPSERVER_LOG_MAX_AGE_DAYS", "")
	t.Setenv("STEPSERVER_LOG_COMPRESS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.AdminAddr != DefaultAdminAddr {
		t.Fatalf("expected default admin addr %q, got %q", DefaultAdminAddr, cfg.AdminAddr)
	}
	if cfg.MaxConnectionCount != DefaultMaxConnectionCount {
		t.Fatalf("expected default max connection count %d, got %d", DefaultMaxConnectionCount, cfg.MaxConnectionCount)
	}
	if cfg.MaxSingleParticipantStepOctetCount != DefaultMaxSingleParticipantStepOctetCount {
		t.Fatalf("expected default step octet cap %d, got %d", DefaultMaxSingleParticipantStepOctetCount, cfg.MaxSingleParticipantStepOctetCount)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Logging.Compress != DefaultLogCompress {
		t.Fatalf("expected default log compress %t, got %t", DefaultLogCompress, cfg.Logging.Compress)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STEPSERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("STEPSERVER_MAX_CONNECTION_COUNT", "8")
	t.Setenv("STEPSERVER_MAX_PARTICIPANT_COUNT", "32")
	t.Setenv("STEPSERVER_MAX_STEP_OCTETS", "16")
	t.Setenv("STEPSERVER_LOG_LEVEL", "debug")
	t.Setenv("STEPSERVER_LOG_COMPRESS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if cfg.MaxConnectionCount != 8 {
		t.Fatalf("expected max connection count 8, got %d", cfg.MaxConnectionCount)
	}
	if cfg.MaxParticipantCount != 32 {
		t.Fatalf("expected max participant count 32, got %d", cfg.MaxParticipantCount)
	}
	if cfg.MaxSingleParticipantStepOctetCount != 16 {
		t.Fatalf("expected overridden step octet cap 16, got %d", cfg.MaxSingleParticipantStepOctetCount)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden log level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Compress {
		t.Fatalf("expected log compression disabled")
	}
}

func TestLoadRejectsOverLimitConnectionCount(t *testing.T) {
	t.Setenv("STEPSERVER_MAX_CONNECTION_COUNT", "65")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "STEPSERVER_MAX_CONNECTION_COUNT") {
		t.Fatalf("expected validation error mentioning STEPSERVER_MAX_CONNECTION_COUNT, got %v", err)
	}
}

func TestLoadRejectsOverLimitStepOctets(t *testing.T) {
	t.Setenv("STEPSERVER_MAX_STEP_OCTETS", "25")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "STEPSERVER_MAX_STEP_OCTETS") {
		t.Fatalf("expected validation error mentioning STEPSERVER_MAX_STEP_OCTETS, got %v", err)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Setenv("STEPSERVER_MAX_CONNECTION_COUNT", "-1")
	t.Setenv("STEPSERVER_LOG_MAX_SIZE_MB", "-1")
	t.Setenv("STEPSERVER_LOG_COMPRESS", "notabool")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}
	for _, want := range []string{
		"STEPSERVER_MAX_CONNECTION_COUNT",
		"STEPSERVER_LOG_MAX_SIZE_MB",
		"STEPSERVER_LOG_COMPRESS",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}
