package main

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("ZIGBRIDGE_CONFIG")
	defer os.Setenv("ZIGBRIDGE_CONFIG", originalEnv)

	os.Setenv("ZIGBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("ZIGBRIDGE_CONFIG")
	defer os.Setenv("ZIGBRIDGE_CONFIG", originalEnv)

	os.Unsetenv("ZIGBRIDGE_CONFIG")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("ZIGBRIDGE_CONFIG")
	defer os.Setenv("ZIGBRIDGE_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("ZIGBRIDGE_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestSecondsOrZero(t *testing.T) {
	if got := secondsOrZero(0); got != 0 {
		t.Errorf("secondsOrZero(0) = %v, want 0", got)
	}
	if got := secondsOrZero(30); got != 30*time.Second {
		t.Errorf("secondsOrZero(30) = %v, want 30s", got)
	}
}
