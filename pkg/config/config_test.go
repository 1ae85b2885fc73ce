package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"gendb/pkg/dberrors"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config must validate: %v", err)
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DB.Segment.BlockSize != Default().DB.Segment.BlockSize {
		t.Fatal("Expected default block size")
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gendb.yaml")
	data := `
logger:
  level: debug
  json: true
db:
  path: /var/lib/gendb
  mode: disk_atomic_flush
  segment:
    block_size: 1024
    compression: zstd
  merge:
    max_fanout: 4
  maintenance:
    poll_interval: 250ms
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Logger.JSON || cfg.DB.Path != "/var/lib/gendb" || cfg.DB.Mode != "disk_atomic_flush" {
		t.Fatalf("Unexpected config: %+v", cfg)
	}
	if cfg.DB.Segment.BlockSize != 1024 || cfg.DB.Segment.Compression != "zstd" {
		t.Fatalf("Unexpected segment config: %+v", cfg.DB.Segment)
	}
	if cfg.DB.Merge.MaxFanout != 4 || cfg.DB.Maintenance.PollInterval != 250*time.Millisecond {
		t.Fatalf("Unexpected merge/maintenance config: %+v %+v", cfg.DB.Merge, cfg.DB.Maintenance)
	}
	// untouched sections keep their defaults
	if cfg.DB.Segment.BloomFPRate != 0.01 {
		t.Fatalf("Expected default bloom rate, got %v", cfg.DB.Segment.BloomFPRate)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gendb.toml")
	data := `
[db]
path = "/tmp/gendb"

[db.segment]
compression = "lz4"

[db.maintenance]
enabled = false
max_failures = 3
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DB.Path != "/tmp/gendb" || cfg.DB.Segment.Compression != "lz4" {
		t.Fatalf("Unexpected config: %+v", cfg.DB)
	}
	if cfg.DB.Maintenance.Enabled || cfg.DB.Maintenance.MaxFailures != 3 {
		t.Fatalf("Unexpected maintenance config: %+v", cfg.DB.Maintenance)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"level", func(c *Config) { c.Logger.Level = "loud" }},
		{"block size", func(c *Config) { c.DB.Segment.BlockSize = 0 }},
		{"bloom", func(c *Config) { c.DB.Segment.BloomFPRate = 1 }},
		{"compression", func(c *Config) { c.DB.Segment.Compression = "brotli" }},
		{"fanout", func(c *Config) { c.DB.Merge.MaxHistogramFanout = 1 }},
		{"path", func(c *Config) { c.DB.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, dberrors.ErrInvalidArgument) {
				t.Fatalf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}
