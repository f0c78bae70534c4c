// Package features derives the fixed 5-element behavioral feature vector
// from a WindowBuffer snapshot.
package features

import (
	"path/filepath"
	"strings"

	"kavach-r/pkg/entropy"
	"kavach-r/pkg/events"
)

// Names lists the feature fields in the fixed order every Vector respects.
// Model training and scoring both depend on this order.
var Names = [5]string{
	"files_modified_per_sec",
	"rename_rate",
	"unique_files_touched",
	"extension_change_rate",
	"entropy_change",
}

// Vector is the fixed-shape feature vector computed over a window.
// Fields always appear in the order given by Names. Missing inputs yield
// 0.0, never an error.
type Vector struct {
	FilesModifiedPerSec float64
	RenameRate          float64
	UniqueFilesTouched  float64
	ExtensionChangeRate float64
	EntropyChange       float64
}

// AsSlice returns the vector's fields in Names order, for model code that
// wants a flat numeric representation.
func (v Vector) AsSlice() [5]float64 {
	return [5]float64{
		v.FilesModifiedPerSec,
		v.RenameRate,
		v.UniqueFilesTouched,
		v.ExtensionChangeRate,
		v.EntropyChange,
	}
}

// FromSlice reconstructs a Vector from Names-ordered fields.
func FromSlice(s [5]float64) Vector {
	return Vector{
		FilesModifiedPerSec: s[0],
		RenameRate:          s[1],
		UniqueFilesTouched:  s[2],
		ExtensionChangeRate: s[3],
		EntropyChange:       s[4],
	}
}

// Config tunes the entropy sampling performed during extraction.
type Config struct {
	SampleSize      int // bytes read per sampled file (default 4096)
	MaxEntropyFiles int // distinct recently-modified files sampled (default 10)
}

// DefaultConfig returns the standard sampling parameters.
func DefaultConfig() Config {
	return Config{SampleSize: 4096, MaxEntropyFiles: 10}
}

// Engine extracts Vectors from window snapshots. It holds no mutable
// state of its own — extraction is a pure function of its input, so
// repeated calls on an unchanged snapshot return equal vectors.
type Engine struct {
	cfg Config
}

// New returns an Engine with the given sampling configuration.
func New(cfg Config) *Engine {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 4096
	}
	if cfg.MaxEntropyFiles <= 0 {
		cfg.MaxEntropyFiles = 10
	}
	return &Engine{cfg: cfg}
}

// Extract computes the feature vector for the given window snapshot,
// ordered oldest-first. An empty snapshot yields the zero Vector.
func (e *Engine) Extract(snapshot []events.FileEvent) Vector {
	if len(snapshot) == 0 {
		return Vector{}
	}

	first := snapshot[0].Timestamp
	last := snapshot[len(snapshot)-1].Timestamp
	elapsed := last.Sub(first).Seconds()
	if elapsed < 1.0 {
		elapsed = 1.0
	}

	var modifyCount, renameCount int
	unique := make(map[string]struct{})
	var renames []events.FileEvent

	for _, ev := range snapshot {
		unique[ev.Path] = struct{}{}
		switch ev.Kind {
		case events.Modify:
			modifyCount++
		case events.Rename:
			renameCount++
			renames = append(renames, ev)
		}
	}

	extChangeRate := 0.0
	if renameCount > 0 {
		changed := 0
		for _, r := range renames {
			if hasAppendedSuffix(r.Path) {
				changed++
			}
		}
		extChangeRate = float64(changed) / float64(renameCount)
	}

	return Vector{
		FilesModifiedPerSec: float64(modifyCount) / elapsed,
		RenameRate:          float64(renameCount) / elapsed,
		UniqueFilesTouched:  float64(len(unique)),
		ExtensionChangeRate: extChangeRate,
		EntropyChange:       e.meanEntropyOfRecent(snapshot),
	}
}

// hasAppendedSuffix reports whether base, split on '.', has at least 3
// dot-separated segments — a heuristic for ransomware appending an
// extension like ".locked" to an existing "name.ext" path.
func hasAppendedSuffix(path string) bool {
	base := filepath.Base(path)
	parts := strings.Split(base, ".")
	return len(parts) >= 3
}

// meanEntropyOfRecent samples up to MaxEntropyFiles distinct, most-recently
// modified paths (scanning newest-first) and returns the mean entropy of
// successfully-read, non-empty samples. 0.0 if none could be read.
func (e *Engine) meanEntropyOfRecent(snapshot []events.FileEvent) float64 {
	seen := make(map[string]struct{})
	var paths []string

	for i := len(snapshot) - 1; i >= 0 && len(paths) < e.cfg.MaxEntropyFiles; i-- {
		ev := snapshot[i]
		if ev.Kind != events.Modify {
			continue
		}
		if _, dup := seen[ev.Path]; dup {
			continue
		}
		seen[ev.Path] = struct{}{}
		paths = append(paths, ev.Path)
	}

	if len(paths) == 0 {
		return 0.0
	}

	var sum float64
	var n int
	for _, p := range paths {
		bits, ok := entropy.Sample(p, e.cfg.SampleSize)
		if !ok {
			continue
		}
		sum += bits
		n++
	}

	if n == 0 {
		return 0.0
	}
	return sum / float64(n)
}
