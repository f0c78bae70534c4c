// Package baseline implements an isolation-forest-style anomaly scorer
// trained on benign feature vectors. Lower Score() values indicate more
// anomalous behavior, matching the sklearn IsolationForest.score_samples
// convention the original Python reference implementation relied on.
package baseline

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"

	"kavach-r/pkg/features"
)

const eulerMascheroni = 0.5772156649015329

// defaultNumTrees matches the reference IsolationForest ensemble size.
const defaultNumTrees = 100

// maxSubsampleSize caps how many rows each tree is built from, the
// standard IsolationForest subsampling default.
const maxSubsampleSize = 256

// Model is an ensemble of isolation trees. The zero value is not usable;
// construct with New, then Train or Load.
type Model struct {
	NumTrees     int
	SubsampleSize int
	MaxDepth     int
	Seed         int64
	Contamination float64
	Trees        []*node
	fitted       bool
}

// New returns an untrained Model with a fixed random seed, satisfying the
// contract's determinism requirement.
func New(seed int64) *Model {
	return &Model{NumTrees: defaultNumTrees, Seed: seed}
}

// Train fits the ensemble on benign feature vectors. contamination is
// retained on the model for provenance but — matching the original
// reference implementation, which scores via score_samples rather than
// the contamination-corrected decision_function — does not alter the
// score formula itself.
func (m *Model) Train(samples []features.Vector, contamination float64) error {
	if len(samples) == 0 {
		return fmt.Errorf("baseline: cannot train on zero samples")
	}

	rows := make([][5]float64, len(samples))
	for i, s := range samples {
		rows[i] = s.AsSlice()
	}

	psi := len(rows)
	if psi > maxSubsampleSize {
		psi = maxSubsampleSize
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	rng := rand.New(rand.NewSource(m.Seed))
	trees := make([]*node, m.treeCount())
	for i := range trees {
		sample := subsample(rows, psi, rng)
		trees[i] = buildTree(sample, 0, maxDepth, rng)
	}

	m.SubsampleSize = psi
	m.MaxDepth = maxDepth
	m.Contamination = contamination
	m.Trees = trees
	m.fitted = true
	return nil
}

func (m *Model) treeCount() int {
	if m.NumTrees <= 0 {
		return defaultNumTrees
	}
	return m.NumTrees
}

// subsample draws psi rows without replacement via a partial Fisher-Yates
// shuffle, seeded from rng so training is deterministic for a fixed seed.
func subsample(rows [][5]float64, psi int, rng *rand.Rand) [][5]float64 {
	if psi >= len(rows) {
		out := make([][5]float64, len(rows))
		copy(out, rows)
		return out
	}
	pool := make([][5]float64, len(rows))
	copy(pool, rows)
	for i := 0; i < psi; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:psi]
}

// Score returns the anomaly score for v. Lower values are more anomalous;
// a freshly-fit ensemble centers typical in-distribution points near
// -0.5, with confirmed anomalies trending toward -1.0.
func (m *Model) Score(v features.Vector) float64 {
	if !m.fitted {
		return 0
	}
	row := v.AsSlice()

	var sum float64
	for _, t := range m.Trees {
		sum += pathLength(t, row, 0)
	}
	avg := sum / float64(len(m.Trees))

	c := averagePathLength(m.SubsampleSize)
	if c <= 0 {
		return 0
	}
	return -math.Pow(2, -avg/c)
}

// averagePathLength is c(n): the expected path length of an unsuccessful
// BST search with n nodes, the normalization constant from the isolation
// forest paper.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		nf := float64(n)
		return 2*(math.Log(nf-1)+eulerMascheroni) - 2*(nf-1)/nf
	}
}

// gobModel is the exact on-disk shape; kept separate from Model so the
// unexported `fitted` flag never needs special-casing during encode/decode.
type gobModel struct {
	NumTrees      int
	SubsampleSize int
	MaxDepth      int
	Seed          int64
	Contamination float64
	Trees         []*node
}

// Save serializes the fitted model to path as an opaque blob. The default
// filename (model.joblib) is kept for continuity even though the bytes
// are gob-encoded rather than joblib/pickle.
func (m *Model) Save(path string) error {
	if !m.fitted {
		return fmt.Errorf("baseline: cannot save an untrained model")
	}
	var buf bytes.Buffer
	g := gobModel{
		NumTrees:      m.NumTrees,
		SubsampleSize: m.SubsampleSize,
		MaxDepth:      m.MaxDepth,
		Seed:          m.Seed,
		Contamination: m.Contamination,
		Trees:         m.Trees,
	}
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return fmt.Errorf("baseline: encoding model: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("baseline: writing model file: %w", err)
	}
	return nil
}

// Load reads a model previously written by Save. It replaces m's state
// entirely on success and leaves m untouched on failure.
func (m *Model) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("baseline: reading model file: %w", err)
	}
	var g gobModel
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return fmt.Errorf("baseline: decoding model file: %w", err)
	}
	if len(g.Trees) == 0 {
		return fmt.Errorf("baseline: model file contains no trees")
	}

	m.NumTrees = g.NumTrees
	m.SubsampleSize = g.SubsampleSize
	m.MaxDepth = g.MaxDepth
	m.Seed = g.Seed
	m.Contamination = g.Contamination
	m.Trees = g.Trees
	m.fitted = true
	return nil
}

// Fitted reports whether the model has been trained or loaded.
func (m *Model) Fitted() bool {
	return m.fitted
}
