package main

import (
	"path/filepath"
	"testing"

	"cececho/internal/config"
)

// FUNCTIONAL VALIDATION TEST: run refuses to start without a token secret
func TestRun_RequiresSecret(t *testing.T) {
	t.Setenv(config.ConfigFileEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv(config.EnvPrefix+"AUTH__JWT_SECRET", "")
	t.Setenv(config.EnvPrefix+"DATABASE__PATH", filepath.Join(t.TempDir(), "cececho.db"))

	if err := run(); err == nil {
		t.Fatal("run should fail when no JWT secret is configured")
	}
}
