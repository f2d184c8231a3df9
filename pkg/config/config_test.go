package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ChunkSize != 1316 {
		t.Fatalf("chunk_size = %d", cfg.ChunkSize)
	}
	if !cfg.AutoReconnect {
		t.Fatalf("auto_reconnect should default on")
	}
	if cfg.StatsFormat != "console" {
		t.Fatalf("stats_format = %q", cfg.StatsFormat)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livetx.yaml")
	yaml := []byte(`
chunk_size: 1456
bw_report: 100
stats_format: json
auto_reconnect: false
log:
  level: debug
  outputs: [stderr]
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChunkSize != 1456 || cfg.BWReport != 100 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.StatsFormat != "json" || cfg.AutoReconnect {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.ChunkSize != 1316 {
		t.Fatalf("chunk_size = %d", cfg.ChunkSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.ChunkSize = 0
	if err := cfg.validate(); err == nil {
		t.Fatalf("zero chunk_size accepted")
	}
	cfg = Default()
	cfg.StatsFormat = "xml"
	if err := cfg.validate(); err == nil {
		t.Fatalf("bogus stats_format accepted")
	}
	cfg = Default()
	cfg.Log.Level = "chatty"
	if err := cfg.validate(); err == nil {
		t.Fatalf("bogus log level accepted")
	}
}
