package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.PasswordHashing != "plaintext" {
		t.Fatalf("expected plaintext password hashing by default, got %q", cfg.PasswordHashing)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BUSY_TIMEOUT_MS", "250")
	t.Setenv("PASSWORD_HASHING", " BCRYPT ")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg := Load()
	if cfg.Address() != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Address())
	}
	if cfg.StoreBusyTimeout != 250*time.Millisecond {
		t.Fatalf("expected 250ms busy timeout, got %s", cfg.StoreBusyTimeout)
	}
	if cfg.PasswordHashing != "bcrypt" {
		t.Fatalf("expected bcrypt, got %q", cfg.PasswordHashing)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected invalid token ttl to fall back to 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReportTimezone != "Asia/Jakarta" {
		t.Fatalf("expected Asia/Jakarta default, got %q", cfg.ReportTimezone)
	}
}

func TestLoadReportsBrokenConfigFileAsWarning(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PORT", "")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: [unclosed\n"), 0o600); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg := Load()
	if len(cfg.Warnings) != 1 || !strings.Contains(cfg.Warnings[0], "config.yaml") {
		t.Fatalf("expected one config.yaml warning, got %v", cfg.Warnings)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected defaults to survive a broken config file, got port %q", cfg.Port)
	}
}

func TestLoadWithoutConfigFileHasNoWarnings(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := Load()
	if len(cfg.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", cfg.Warnings)
	}
}
