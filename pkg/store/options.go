package store

import (
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"gendb/pkg/compression"
	"gendb/pkg/config"
	"gendb/pkg/dberrors"
	"gendb/pkg/merge"
	"gendb/pkg/metrics"
	"gendb/pkg/segment"
	"gendb/pkg/wal"
)

// Mode is the durability mode of a write group.
type Mode uint8

const (
	// DiskIncremental logs and applies every write at once; Finish waits
	// for the group's records to be durable.
	DiskIncremental Mode = iota
	// MemoryOnly applies writes without logging them.
	MemoryOnly
	// DiskAtomicFlush logs the whole group as one packet on Finish, applies
	// it and waits for it to be durable.
	DiskAtomicFlush
	// DiskAtomicNoFlush is DiskAtomicFlush without the wait.
	DiskAtomicNoFlush
)

func (m Mode) String() string {
	switch m {
	case DiskIncremental:
		return "disk_incremental"
	case MemoryOnly:
		return "memory_only"
	case DiskAtomicFlush:
		return "disk_atomic_flush"
	case DiskAtomicNoFlush:
		return "disk_atomic_noflush"
	default:
		return "unknown"
	}
}

func (m Mode) atomic() bool { return m == DiskAtomicFlush || m == DiskAtomicNoFlush }

// ParseMode maps a config name to a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "", "disk_incremental":
		return DiskIncremental, nil
	case "memory_only":
		return MemoryOnly, nil
	case "disk_atomic_flush":
		return DiskAtomicFlush, nil
	case "disk_atomic_noflush":
		return DiskAtomicNoFlush, nil
	default:
		return DiskIncremental, errors.Wrapf(dberrors.ErrInvalidArgument, "unknown durability mode %q", name)
	}
}

// MaintenanceOptions drive the background flush and merge loop.
type MaintenanceOptions struct {
	Enabled bool
	// PollInterval between rounds that did not merge.
	PollInterval time.Duration
	// MergeInterval between rounds right after a merge.
	MergeInterval time.Duration
	// FlushRows and FlushBytes trigger a flush of the working segment.
	FlushRows  int
	FlushBytes int64
	// MaxFailures consecutive failed rounds stop the loop and fail the store.
	MaxFailures int
	// Backoff is added per consecutive failure.
	Backoff time.Duration
}

// Options configure a Store.
type Options struct {
	DefaultMode Mode

	WAL wal.Options

	BlockSize     int
	Compression   compression.Type
	BloomFPRate   float64
	CacheCapacity int

	RegionCapacity int64

	Merge               merge.Options
	MergeRatioThreshold float64

	Maintenance MaintenanceOptions

	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// DefaultOptions mirror config.Default.
func DefaultOptions() Options {
	opts, err := OptionsFromConfig(config.Default().DB)
	if err != nil {
		panic(err)
	}
	return opts
}

// OptionsFromConfig translates the db config section.
func OptionsFromConfig(cfg config.DB) (Options, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return Options{}, err
	}
	ct, err := compression.ParseType(cfg.Segment.Compression)
	if err != nil {
		return Options{}, errors.Wrap(dberrors.ErrInvalidArgument, err.Error())
	}

	return Options{
		DefaultMode: mode,
		WAL: wal.Options{
			BufferSize:   cfg.WAL.BufferSize,
			SyncInterval: cfg.WAL.SyncInterval,
		},
		BlockSize:      cfg.Segment.BlockSize,
		Compression:    ct,
		BloomFPRate:    cfg.Segment.BloomFPRate,
		CacheCapacity:  cfg.Segment.CacheCapacity,
		RegionCapacity: cfg.Region.CapacityBytes,
		Merge: merge.Options{
			MaxFanout:          cfg.Merge.MaxFanout,
			MaxHistogramFanout: cfg.Merge.MaxHistogramFanout,
		},
		MergeRatioThreshold: cfg.Merge.RatioThreshold,
		Maintenance: MaintenanceOptions{
			Enabled:       cfg.Maintenance.Enabled,
			PollInterval:  cfg.Maintenance.PollInterval,
			MergeInterval: cfg.Maintenance.MergeInterval,
			FlushRows:     cfg.Maintenance.FlushRows,
			FlushBytes:    cfg.Maintenance.FlushBytes,
			MaxFailures:   cfg.Maintenance.MaxFailures,
			Backoff:       cfg.Maintenance.Backoff,
		},
	}, nil
}

func (o *Options) normalize() {
	if o.BlockSize <= 0 {
		o.BlockSize = segment.DefaultBlockSize
	}
	if o.BloomFPRate <= 0 || o.BloomFPRate >= 1 {
		o.BloomFPRate = 0.01
	}
	if o.MergeRatioThreshold <= 0 {
		o.MergeRatioThreshold = 1
	}
	if o.Maintenance.PollInterval <= 0 {
		o.Maintenance.PollInterval = time.Second
	}
	if o.Maintenance.MergeInterval <= 0 {
		o.Maintenance.MergeInterval = o.Maintenance.PollInterval
	}
	if o.Maintenance.MaxFailures <= 0 {
		o.Maintenance.MaxFailures = 5
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewRegistry()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.WAL.Logger == nil {
		o.WAL.Logger = o.Logger
	}
	if o.WAL.Metrics == nil {
		o.WAL.Metrics = o.Metrics
	}
	if o.Merge.Logger == nil {
		o.Merge.Logger = o.Logger
	}
}
