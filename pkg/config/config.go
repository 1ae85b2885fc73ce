// Package config loads the engine and server configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"

	"gendb/pkg/compression"
	"gendb/pkg/dberrors"
)

// Config is the root configuration.
type Config struct {
	Logger LoggerConfig `yaml:"logger" toml:"logger"`
	Server ServerConfig `yaml:"http-server" toml:"http-server"`
	DB     `yaml:"db" toml:"db"`
}

type LoggerConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

type ServerConfig struct {
	Port              int           `yaml:"port" toml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" toml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

type DB struct {
	Path string `yaml:"path" toml:"path"`
	// Mode is the default write group durability mode.
	Mode        string            `yaml:"mode" toml:"mode"`
	WAL         WALConfig         `yaml:"wal" toml:"wal"`
	Segment     SegmentConfig     `yaml:"segment" toml:"segment"`
	Region      RegionConfig      `yaml:"region" toml:"region"`
	Merge       MergeConfig       `yaml:"merge" toml:"merge"`
	Maintenance MaintenanceConfig `yaml:"maintenance" toml:"maintenance"`
}

type WALConfig struct {
	SyncInterval time.Duration `yaml:"sync_interval" toml:"sync_interval"`
	BufferSize   int           `yaml:"buffer_size" toml:"buffer_size"`
}

type SegmentConfig struct {
	BlockSize     int     `yaml:"block_size" toml:"block_size"`
	Compression   string  `yaml:"compression" toml:"compression"`
	BloomFPRate   float64 `yaml:"bloom_fp_rate" toml:"bloom_fp_rate"`
	CacheCapacity int     `yaml:"cache_capacity" toml:"cache_capacity"`
}

type RegionConfig struct {
	// CapacityBytes bounds live region bytes; zero is unbounded.
	CapacityBytes int64 `yaml:"capacity_bytes" toml:"capacity_bytes"`
}

type MergeConfig struct {
	MaxFanout          int     `yaml:"max_fanout" toml:"max_fanout"`
	MaxHistogramFanout int     `yaml:"max_histogram_fanout" toml:"max_histogram_fanout"`
	RatioThreshold     float64 `yaml:"ratio_threshold" toml:"ratio_threshold"`
}

type MaintenanceConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	PollInterval  time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	MergeInterval time.Duration `yaml:"merge_interval" toml:"merge_interval"`
	FlushRows     int           `yaml:"flush_rows" toml:"flush_rows"`
	FlushBytes    int64         `yaml:"flush_bytes" toml:"flush_bytes"`
	MaxFailures   int           `yaml:"max_failures" toml:"max_failures"`
	Backoff       time.Duration `yaml:"backoff" toml:"backoff"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		DB: DB{
			Path: "./data",
			Mode: "disk_incremental",
			WAL: WALConfig{
				SyncInterval: 100 * time.Millisecond,
				BufferSize:   64 << 10,
			},
			Segment: SegmentConfig{
				BlockSize:     4 << 20,
				Compression:   "snappy",
				BloomFPRate:   0.01,
				CacheCapacity: 128,
			},
			Merge: MergeConfig{
				MaxFanout:          8,
				MaxHistogramFanout: 32,
				RatioThreshold:     1,
			},
			Maintenance: MaintenanceConfig{
				Enabled:       true,
				PollInterval:  time.Second,
				MergeInterval: 50 * time.Millisecond,
				FlushRows:     100_000,
				FlushBytes:    16 << 20,
				MaxFailures:   5,
				Backoff:       time.Second,
			},
		},
	}
}

// Load reads a YAML or TOML file over the defaults. A missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "failed to read config %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch strings.ToUpper(c.Logger.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		problems = append(problems, "logger.level must be one of DEBUG, INFO, WARN, ERROR")
	}
	check(c.Server.Port >= 0 && c.Server.Port <= 65535, "http-server.port out of range")
	check(c.DB.Path != "", "db.path is required")
	check(c.DB.WAL.BufferSize >= 0, "db.wal.buffer_size must not be negative")
	check(c.DB.Segment.BlockSize > 0, "db.segment.block_size must be positive")
	check(c.DB.Segment.BloomFPRate > 0 && c.DB.Segment.BloomFPRate < 1, "db.segment.bloom_fp_rate must be in (0, 1)")
	check(c.DB.Segment.CacheCapacity > 0, "db.segment.cache_capacity must be positive")
	check(c.DB.Region.CapacityBytes >= 0, "db.region.capacity_bytes must not be negative")
	check(c.DB.Merge.MaxFanout > 0, "db.merge.max_fanout must be positive")
	check(c.DB.Merge.MaxHistogramFanout >= c.DB.Merge.MaxFanout, "db.merge.max_histogram_fanout must be at least max_fanout")
	check(c.DB.Merge.RatioThreshold > 0, "db.merge.ratio_threshold must be positive")
	check(c.DB.Maintenance.MaxFailures > 0, "db.maintenance.max_failures must be positive")
	if c.DB.Maintenance.Enabled {
		check(c.DB.Maintenance.PollInterval > 0, "db.maintenance.poll_interval must be positive")
	}
	if _, err := compression.ParseType(c.DB.Segment.Compression); err != nil {
		problems = append(problems, "db.segment.compression: "+err.Error())
	}

	if len(problems) > 0 {
		return errors.Wrap(dberrors.ErrInvalidArgument, "invalid config: "+strings.Join(problems, "; "))
	}
	return nil
}
