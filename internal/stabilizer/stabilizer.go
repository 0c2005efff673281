// Package stabilizer detects that a source directory has stopped changing
// before the worker hands it to Probe and Planner. Rip tools and network
// copies can leave partially written files behind; encoding one of those
// would either fail outright or silently produce a truncated result.
package stabilizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Config controls how long a directory must sit unchanged before it is
// declared stable, and the hard ceiling on how long to wait for that.
type Config struct {
	SampleInterval time.Duration
	StableFor      time.Duration
	MaxWait        time.Duration
}

// DefaultConfig matches SPEC_FULL.md §4.7: sample every 5 seconds, require
// 60 consecutive unchanged seconds, give up after 30 minutes.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 5 * time.Second,
		StableFor:      60 * time.Second,
		MaxWait:        30 * time.Minute,
	}
}

// ErrUnstable is returned when MaxWait elapses without the directory
// settling. The worker maps this to FAILED(reason=unstable).
var ErrUnstable = fmt.Errorf("source directory did not stabilize within the wait ceiling")

// ErrSourceMissing is returned when the source directory does not exist.
// The worker maps this to FAILED(reason=missing).
var ErrSourceMissing = fmt.Errorf("source directory does not exist")

// Stabilizer samples a directory tree on a fixed interval and reports once
// its contents have stopped changing.
type Stabilizer struct {
	cfg Config
}

// New creates a Stabilizer with the given configuration. A zero-value
// Config.SampleInterval or StableFor is replaced with the matching
// DefaultConfig() field.
func New(cfg Config) *Stabilizer {
	def := DefaultConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.StableFor <= 0 {
		cfg.StableFor = def.StableFor
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	return &Stabilizer{cfg: cfg}
}

// Wait blocks, sampling dir on cfg.SampleInterval, until the directory's
// hash has been unchanged for cfg.StableFor or ctx is cancelled. It returns
// ErrUnstable if cfg.MaxWait elapses first.
func (s *Stabilizer) Wait(ctx context.Context, dir string) error {
	deadline := time.Now().Add(s.cfg.MaxWait)

	hash, err := hashTree(dir)
	if err != nil {
		return fmt.Errorf("hashing source directory: %w", err)
	}
	stableSince := time.Now()

	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return ErrUnstable
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			next, err := hashTree(dir)
			if err != nil {
				return fmt.Errorf("hashing source directory: %w", err)
			}
			if next != hash {
				hash = next
				stableSince = now
				continue
			}
			if now.Sub(stableSince) >= s.cfg.StableFor {
				return nil
			}
		}
	}
}

// fileTuple is the (path, size, mtime) triple hashed for every file under
// the source directory, per SPEC_FULL.md §4.7.
type fileTuple struct {
	path  string
	size  int64
	mtime int64
}

// hashTree walks dir and returns a hex digest of the sorted (path, size,
// mtime) tuples of every regular file in the tree. Sorting first makes the
// digest independent of filesystem readdir order.
func hashTree(dir string) (string, error) {
	var tuples []fileTuple

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		tuples = append(tuples, fileTuple{
			path:  rel,
			size:  info.Size(),
			mtime: info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrSourceMissing
		}
		return "", err
	}

	sort.Slice(tuples, func(i, j int) bool { return tuples[i].path < tuples[j].path })

	h := sha256.New()
	for _, t := range tuples {
		fmt.Fprintf(h, "%s|%d|%d\n", t.path, t.size, t.mtime)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
