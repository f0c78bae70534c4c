package main

import (
	"testing"

	"github.com/spf13/cobra"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("model-path", "", "")
	cmd.Flags().StringSlice("watch-paths", nil, "")
	cmd.Flags().Duration("window-size", 0, "")
	return cmd
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	cmd := newTestCommand()
	if err := cmd.Flags().Set("model-path", "/tmp/custom.model"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("watch-paths", "/tmp/a,/tmp/b"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("window-size", "30s"); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.ModelPath != "/tmp/custom.model" {
		t.Errorf("ModelPath = %q, want flag override", cfg.ModelPath)
	}
	if len(cfg.WatchPaths) != 2 || cfg.WatchPaths[0] != "/tmp/a" || cfg.WatchPaths[1] != "/tmp/b" {
		t.Errorf("WatchPaths = %v, want [/tmp/a /tmp/b]", cfg.WatchPaths)
	}
	if cfg.WindowSizeSec != 30 {
		t.Errorf("WindowSizeSec = %v, want 30", cfg.WindowSizeSec)
	}
}

func TestLoadConfig_UnsetFlagsKeepDefaults(t *testing.T) {
	cmd := newTestCommand()

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.ModelPath != "model.joblib" {
		t.Errorf("ModelPath = %q, want default to survive untouched flags", cfg.ModelPath)
	}
	if cfg.WindowSizeSec != 60.0 {
		t.Errorf("WindowSizeSec = %v, want default 60", cfg.WindowSizeSec)
	}
}
