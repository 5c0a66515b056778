package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultHasSaneFuzzingBaseline(t *testing.T) {
	cfg := Default()
	if cfg.Fuzzing.Workers != 1 {
		t.Fatalf("Workers = %d, want 1", cfg.Fuzzing.Workers)
	}
	if cfg.Fuzzing.Timeout != 10*time.Second {
		t.Fatalf("Timeout = %v, want 10s", cfg.Fuzzing.Timeout)
	}
	if cfg.Fuzzing.SyncFreq != 1 {
		t.Fatalf("SyncFreq = %d, want 1", cfg.Fuzzing.SyncFreq)
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Fuzzing.Workers != Default().Fuzzing.Workers {
		t.Fatal("Load(\"\") did not return the default configuration")
	}
}

func TestLoadParsesYAMLOverDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manul.yaml")
	content := `
target:
  command: ["/usr/bin/target", "@@"]
fuzzing:
  workers: 4
  input_dir: /tmp/in
  output_dir: /tmp/out
status:
  addr: ":8089"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fuzzing.Workers != 4 {
		t.Fatalf("Workers = %d, want 4", cfg.Fuzzing.Workers)
	}
	if len(cfg.Target.Command) != 2 || cfg.Target.Command[1] != "@@" {
		t.Fatalf("Target.Command = %v, want [.../target @@]", cfg.Target.Command)
	}
	if cfg.Status.Addr != ":8089" {
		t.Fatalf("Status.Addr = %q, want :8089", cfg.Status.Addr)
	}
	// Timeout was not set in the file, so it should keep the default value.
	if cfg.Fuzzing.Timeout != 10*time.Second {
		t.Fatalf("Timeout = %v, want default 10s to survive partial override", cfg.Fuzzing.Timeout)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/manul.yaml"); err == nil {
		t.Fatal("expected error loading a nonexistent config file")
	}
}
