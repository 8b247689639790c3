// Package config loads the options recognised when a quad store is
// opened: page size, cache sizing, WAL flush/checkpoint thresholds,
// the disk-space floor, and read-only mode. Options are expressed as a
// plain struct with defaults, optionally overlaid from a YAML file.
package config

import (
	"os"

	"github.com/cuemby/mercury/pkg/mercuryerr"
	"gopkg.in/yaml.v3"
)

// Options controls the behaviour of an opened store. Load starts from
// Defaults() and validates the result; an Options value built by hand
// is used as given, and its zero fields are not filled in.
type Options struct {
	// PageSize is the size in bytes of a single B+tree page.
	PageSize int `yaml:"page_size"`
	// PageCacheFrames is the number of in-memory page frames held by
	// the page cache.
	PageCacheFrames int `yaml:"page_cache_frames"`
	// WALFlushSize is a WAL flush threshold in bytes. It is loaded and
	// validated only; the store flushes the WAL after every write or
	// committed batch regardless of this value.
	WALFlushSize int64 `yaml:"wal_flush_size"`
	// CheckpointSize is the WAL byte threshold that triggers an
	// automatic checkpoint.
	CheckpointSize int64 `yaml:"checkpoint_size"`
	// CheckpointIntervalSeconds is the wall-clock threshold, in seconds, that
	// triggers an automatic checkpoint.
	CheckpointIntervalSeconds int `yaml:"checkpoint_interval_seconds"`
	// MinFreeDiskBytes is a free-disk-space floor in bytes. It is loaded
	// and validated only; the store does not check free disk space.
	MinFreeDiskBytes int64 `yaml:"min_free_disk_bytes"`
	// ReadOnly disallows mutating operations on the opened store.
	ReadOnly bool `yaml:"read_only"`
	// LockTimeoutMillis bounds read/write lock acquisition; 0 means
	// unbounded.
	LockTimeoutMillis int64 `yaml:"lock_timeout_millis"`
}

// Defaults returns the option set applied when a caller supplies none.
func Defaults() Options {
	return Options{
		PageSize:                  16384,
		PageCacheFrames:           4096,
		WALFlushSize:              4 << 20,
		CheckpointSize:            16 << 20,
		CheckpointIntervalSeconds: 60,
		MinFreeDiskBytes:          64 << 20,
		ReadOnly:                  false,
		LockTimeoutMillis:         0,
	}
}

// Load reads YAML options from path and overlays them onto Defaults().
// A missing file is not an error; Defaults() is returned unmodified.
func Load(path string) (Options, error) {
	opts := Defaults()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return opts, nil
	}
	if err != nil {
		return opts, mercuryerr.Wrap(mercuryerr.KindIoError, "reading config file", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, mercuryerr.Wrap(mercuryerr.KindInvalidArgument, "parsing config file", err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Validate rejects option combinations that the storage layer could
// not act on sensibly.
func (o Options) Validate() error {
	if o.PageSize <= 0 || o.PageSize%4096 != 0 {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "page_size must be a positive multiple of 4096")
	}
	if o.PageCacheFrames <= 0 {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "page_cache_frames must be positive")
	}
	if o.WALFlushSize <= 0 {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "wal_flush_size must be positive")
	}
	if o.CheckpointSize <= 0 {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "checkpoint_size must be positive")
	}
	if o.CheckpointIntervalSeconds <= 0 {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "checkpoint_interval_seconds must be positive")
	}
	if o.MinFreeDiskBytes < 0 {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "min_free_disk_bytes must not be negative")
	}
	if o.LockTimeoutMillis < 0 {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "lock_timeout_millis must not be negative")
	}
	return nil
}
