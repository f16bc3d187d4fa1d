package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 3001 {
		t.Errorf("expected default port 3001, got %d", cfg.HTTPPort)
	}
	if cfg.NATSPort != 4222 {
		t.Errorf("expected default nats port 4222, got %d", cfg.NATSPort)
	}
	if cfg.Notify.Enabled {
		t.Error("expected notify disabled by default when no config file exists")
	}
}

func TestLoad_OverridesFromFlags(t *testing.T) {
	cfg, err := Load([]string{"-port", "9090", "-roster", "custom-roster.yaml"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTPPort)
	}
	if cfg.RosterPath != "custom-roster.yaml" {
		t.Errorf("expected custom roster path, got %s", cfg.RosterPath)
	}
}

func TestLoad_RejectsUnknownFlag(t *testing.T) {
	if _, err := Load([]string{"-not-a-real-flag"}); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}

func TestLoadNotifyConfig_MissingFileDisablesNotify(t *testing.T) {
	cfg := loadNotifyConfig("/nonexistent/path/notify.yaml")
	if cfg.Enabled {
		t.Error("expected disabled config when file is missing")
	}
}

func TestLoadNotifyConfig_ParsesValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notify.yaml")
	contents := "enabled: true\napp_id: orchestrator\ndashboard_url: http://localhost:8080\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg := loadNotifyConfig(path)
	if !cfg.Enabled {
		t.Error("expected notify to be enabled")
	}
	if cfg.AppID != "orchestrator" {
		t.Errorf("expected app_id orchestrator, got %s", cfg.AppID)
	}
}

func TestLoadNotifyConfig_MalformedYAMLDisablesNotify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notify.yaml")
	if err := os.WriteFile(path, []byte("not: valid: yaml: ["), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg := loadNotifyConfig(path)
	if cfg.Enabled {
		t.Error("expected disabled config on parse failure")
	}
}
