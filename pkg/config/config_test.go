package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func flags() *pflag.FlagSet {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.String("scene", "", "")
	f.Int("port", 8080, "")
	f.Bool("web", false, "")
	f.CountP("verbose", "v", "")
	f.StringSlice("select", nil, "")
	f.Duration("purge.delay", 500*time.Millisecond, "")
	return f
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil, filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if !cfg.Beep {
		t.Error("Expected beep on by default")
	}
	if cfg.Purge.Delay != 500*time.Millisecond {
		t.Errorf("Expected 500ms delay, got %s", cfg.Purge.Delay)
	}
}

func TestLoadPriority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene-maint.toml")
	content := "scene = \"from-file.yaml\"\nport = 9000\nbeep = false\n\n[purge]\ndelay = \"2s\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCENE_MAINT_PORT", "9100")

	f := flags()
	if err := f.Parse([]string{"--scene", "from-flag.yaml", "-vv", "--select", "chairA,chairB"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(f, path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scene != "from-flag.yaml" {
		t.Errorf("Expected flag to win, got %q", cfg.Scene)
	}
	if cfg.Port != 9100 {
		t.Errorf("Expected env to beat file, got %d", cfg.Port)
	}
	if cfg.Beep {
		t.Error("Expected file to turn beep off")
	}
	if cfg.Purge.Delay != 2*time.Second {
		t.Errorf("Expected 2s delay from file, got %s", cfg.Purge.Delay)
	}
	if cfg.VerboseCnt != 2 {
		t.Errorf("Expected verbose 2, got %d", cfg.VerboseCnt)
	}
	if len(cfg.Select) != 2 || cfg.Select[1] != "chairB" {
		t.Errorf("Unexpected selection %v", cfg.Select)
	}
}

func TestLoadRejectsNegativeDelay(t *testing.T) {
	t.Setenv("SCENE_MAINT_PURGE_DELAY", "-1s")
	if _, err := load(nil, filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected negative delay to be rejected")
	}
}
