package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaultProvidesSaneDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Pool.MaxThreads.Resolve() != 12 {
		t.Fatalf("expected default max threads 12, got %d", cfg.Pool.MaxThreads.Resolve())
	}
	if cfg.Knobs.UserAgent == "" {
		t.Fatal("expected default user agent")
	}
}

func TestThreadCountParsesInfinite(t *testing.T) {
	var c ThreadCount
	if err := c.UnmarshalYAML(&yaml.Node{Value: "infinite"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Resolve() != -1 {
		t.Fatalf("expected -1 for infinite, got %d", c.Resolve())
	}
}

func TestThreadCountRejectsNonPositive(t *testing.T) {
	var c ThreadCount
	if err := c.UnmarshalYAML(&yaml.Node{Value: "0"}); err == nil {
		t.Fatal("expected error for non-positive thread count")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genacp.yaml")
	contents := []byte("pool:\n  minThreads: 4\n  maxThreads: infinite\nknobs:\n  userAgent: test-agent/1.0\npublishers:\n  - eventUrl: http://pub.example/evt\n    requestedTimeout: 30s\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MinThreads != 4 {
		t.Fatalf("expected minThreads 4, got %d", cfg.Pool.MinThreads)
	}
	if cfg.Pool.MaxThreads.Resolve() != -1 {
		t.Fatal("expected infinite maxThreads")
	}
	if cfg.Knobs.UserAgent != "test-agent/1.0" {
		t.Fatalf("expected overridden user agent, got %q", cfg.Knobs.UserAgent)
	}
	if len(cfg.Publishers) != 1 || cfg.Publishers[0].EventURL != "http://pub.example/evt" {
		t.Fatalf("expected one publisher, got %+v", cfg.Publishers)
	}
	if cfg.Publishers[0].RequestedTimeout != 30*time.Second {
		t.Fatalf("expected 30s requested timeout, got %v", cfg.Publishers[0].RequestedTimeout)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MinThreads != DefaultPoolAttr().MinThreads {
		t.Fatal("expected defaults when file is absent")
	}
}

func TestEnvOverridesApplyAfterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genacp.yaml")
	contents := []byte("pool:\n  minThreads: 4\n  maxThreads: 6\nknobs:\n  userAgent: file-agent/1.0\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("GENACP_MIN_THREADS", "7")
	t.Setenv("GENACP_MAX_THREADS", "infinite")
	t.Setenv("GENACP_USER_AGENT", "env-agent/2.0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MinThreads != 7 {
		t.Fatalf("expected env override minThreads 7, got %d", cfg.Pool.MinThreads)
	}
	if cfg.Pool.MaxThreads.Resolve() != -1 {
		t.Fatal("expected env override to uncap maxThreads")
	}
	if cfg.Knobs.UserAgent != "env-agent/2.0" {
		t.Fatalf("expected env override user agent, got %q", cfg.Knobs.UserAgent)
	}
}

func TestValidateRejectsMetricsWithoutEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.EnableMetrics = true
	cfg.Telemetry.OTLPEndpoint = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsEmptyPublisherURL(t *testing.T) {
	cfg := Default()
	cfg.Publishers = append(cfg.Publishers, PublisherSettings{EventURL: "  "})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for blank publisher url")
	}
}
