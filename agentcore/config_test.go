package agentcore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultLoopConfig(t *testing.T) {
	cfg := DefaultLoopConfig()
	if cfg.MaxSteps != 50 {
		t.Errorf("MaxSteps = %d", cfg.MaxSteps)
	}
	if cfg.MaxParallelTools != DefaultMaxParallelTools {
		t.Errorf("MaxParallelTools = %d", cfg.MaxParallelTools)
	}
	if !cfg.EnableLoopDetection {
		t.Error("loop detection should default on")
	}
}

func TestLoadLoopConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loop.yaml")
	data := []byte("model: claude-sonnet-4-5\nmax_steps: 10\ntool_output_limits:\n  shell: 5000\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLoopConfig(path)
	if err != nil {
		t.Fatalf("LoadLoopConfig: %v", err)
	}
	if cfg.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.MaxSteps != 10 {
		t.Errorf("MaxSteps = %d", cfg.MaxSteps)
	}
	if cfg.ToolOutputLimits["shell"] != 5000 {
		t.Errorf("ToolOutputLimits = %v", cfg.ToolOutputLimits)
	}
	// Unset fields keep defaults.
	if cfg.LoopDetectionWindow != 10 {
		t.Errorf("LoopDetectionWindow = %d", cfg.LoopDetectionWindow)
	}
}

func TestLoadLoopConfigMissingFile(t *testing.T) {
	if _, err := LoadLoopConfig("/nonexistent/loop.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
