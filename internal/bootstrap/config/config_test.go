package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Instance != "issueflow" || cfg.Tracker.Provider != "local" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if got := cfg.State.SlotFile(); got != filepath.Join(".issueflow", "workers.json") {
		t.Fatalf("SlotFile() = %q", got)
	}
	if cfg.Lock.Timeout != 10*time.Second || cfg.Heartbeat.Interval != time.Minute {
		t.Fatalf("durations = %+v %+v", cfg.Lock, cfg.Heartbeat)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  instance: beta
  channels: ["-100A"]
heartbeat:
  interval: 30s
  auto_chain: true
lock:
  timeout: 2s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("IF_TRACKER_PROVIDER", "github")
	t.Setenv("IF_TRACKER_GITHUB_TOKEN", "tok")

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Instance != "beta" || len(cfg.App.Channels) != 1 || cfg.App.Channels[0] != "-100A" {
		t.Fatalf("app = %+v", cfg.App)
	}
	if cfg.Heartbeat.Interval != 30*time.Second || !cfg.Heartbeat.AutoChain || cfg.Lock.Timeout != 2*time.Second {
		t.Fatalf("heartbeat = %+v lock = %+v", cfg.Heartbeat, cfg.Lock)
	}
	if cfg.Tracker.Provider != "github" || cfg.Tracker.GitHub.Token != "tok" {
		t.Fatalf("tracker = %+v", cfg.Tracker)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("Load() error = nil, want read error")
	}
}

func TestSlotFileAbsolute(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "w.json")
	if got := (StateConfig{Dir: "ignored", File: abs}).SlotFile(); got != abs {
		t.Fatalf("SlotFile() = %q, want %q", got, abs)
	}
}
