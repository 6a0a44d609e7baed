package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.Render.FPS != 0.5 || cfg.Narration.LeadSeconds != 20 {
		t.Errorf("Unexpected render defaults: fps=%v lead=%v", cfg.Render.FPS, cfg.Narration.LeadSeconds)
	}
	if cfg.Audio.Effects["danger"] == "" {
		t.Error("Expected a default effect for danger")
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stopcast.yaml")
	data := []byte(`
render:
  width: 1280
  height: 720
narration:
  leadSeconds: 15
  suppressWelcomeOnEmergency: false
store:
  driver: redis
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Render.Width != 1280 || cfg.Render.Height != 720 {
		t.Errorf("Expected 1280x720, got %dx%d", cfg.Render.Width, cfg.Render.Height)
	}
	if cfg.Render.FPS != 0.5 {
		t.Errorf("Unset fields should keep defaults, got fps %v", cfg.Render.FPS)
	}
	if cfg.Narration.SuppressWelcomeOnEmergency {
		t.Error("Expected welcome suppression to be disabled")
	}
	if cfg.Store.Driver != "redis" {
		t.Errorf("Expected redis store, got %s", cfg.Store.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Missing file should not fail: %v", err)
	}
	if cfg.Render.Width != 1920 {
		t.Errorf("Expected defaults, got width %d", cfg.Render.Width)
	}
}

func TestValidateRejectsOddSize(t *testing.T) {
	cfg := Default()
	cfg.Render.Width = 1921
	if err := cfg.Validate(); err == nil {
		t.Error("Expected odd width to be rejected")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("STOPCAST_FPS", "2")
	t.Setenv("STOPCAST_LEAD_SECONDS", "not-a-number")
	t.Setenv("STOPCAST_STALE_AFTER", "30m")
	t.Setenv("STOPCAST_STORE", "mongo")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Render.FPS != 2 {
		t.Errorf("Expected fps 2, got %v", cfg.Render.FPS)
	}
	if cfg.Narration.LeadSeconds != 20 {
		t.Errorf("Invalid value should keep fallback, got %v", cfg.Narration.LeadSeconds)
	}
	if cfg.Paths.StaleAfter != 30*time.Minute {
		t.Errorf("Expected 30m, got %v", cfg.Paths.StaleAfter)
	}
	if cfg.Store.Driver != "mongo" {
		t.Errorf("Expected mongo, got %s", cfg.Store.Driver)
	}
}
