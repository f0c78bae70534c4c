package baseline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Metadata is a human-readable sidecar describing a trained model,
// written alongside the opaque gob blob so an operator can inspect a
// model's provenance without decoding it.
type Metadata struct {
	NumTrees      int       `yaml:"num_trees"`
	SubsampleSize int       `yaml:"subsample_size"`
	MaxDepth      int       `yaml:"max_depth"`
	Seed          int64     `yaml:"seed"`
	Contamination float64   `yaml:"contamination"`
	SampleCount   int       `yaml:"sample_count"`
	TrainedAt     time.Time `yaml:"trained_at"`
}

// MetadataPath derives the sidecar path from a model file path by
// appending ".meta.yaml".
func MetadataPath(modelPath string) string {
	return modelPath + ".meta.yaml"
}

// SaveMetadata writes m as YAML to MetadataPath(modelPath).
func SaveMetadata(modelPath string, m Metadata) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("baseline: marshaling metadata: %w", err)
	}
	if err := os.WriteFile(MetadataPath(modelPath), data, 0o644); err != nil {
		return fmt.Errorf("baseline: writing metadata: %w", err)
	}
	return nil
}

// LoadMetadata reads the sidecar for modelPath, if present.
func LoadMetadata(modelPath string) (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(MetadataPath(modelPath))
	if err != nil {
		return m, fmt.Errorf("baseline: reading metadata: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("baseline: unmarshaling metadata: %w", err)
	}
	return m, nil
}
