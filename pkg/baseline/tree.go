package baseline

import "math/rand"

// node is one split point (or leaf) of an isolation tree. Fields are
// exported so encoding/gob can serialize the tree verbatim.
type node struct {
	Leaf       bool
	Size       int // subtree sample count, used for the leaf path-length correction
	Feature    int
	SplitValue float64
	Left       *node
	Right      *node
}

// buildTree recursively isolates rows (each a 5-element feature slice) by
// picking a random feature and a random split value within its observed
// range at each step, stopping at maxDepth or when a node can no longer
// be split.
func buildTree(rows [][5]float64, depth, maxDepth int, rng *rand.Rand) *node {
	if depth >= maxDepth || len(rows) <= 1 {
		return &node{Leaf: true, Size: len(rows)}
	}

	feature, splitValue, ok := pickSplit(rows, rng)
	if !ok {
		return &node{Leaf: true, Size: len(rows)}
	}

	var left, right [][5]float64
	for _, r := range rows {
		if r[feature] < splitValue {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &node{Leaf: true, Size: len(rows)}
	}

	return &node{
		Feature:    feature,
		SplitValue: splitValue,
		Left:       buildTree(left, depth+1, maxDepth, rng),
		Right:      buildTree(right, depth+1, maxDepth, rng),
	}
}

// pickSplit chooses a random feature with non-zero range in rows and a
// uniformly random split value within that range. ok is false if every
// feature is constant across rows (nothing left to split on).
func pickSplit(rows [][5]float64, rng *rand.Rand) (feature int, value float64, ok bool) {
	order := rng.Perm(5)
	for _, f := range order {
		min, max := rows[0][f], rows[0][f]
		for _, r := range rows {
			if r[f] < min {
				min = r[f]
			}
			if r[f] > max {
				max = r[f]
			}
		}
		if max <= min {
			continue
		}
		return f, min + rng.Float64()*(max-min), true
	}
	return 0, 0, false
}

// pathLength returns the number of splits traversed to isolate row,
// plus the average-path-length correction at the leaf reached (c(size)),
// which accounts for subtrees that stopped splitting early rather than
// reaching true isolation.
func pathLength(n *node, row [5]float64, depth int) float64 {
	if n.Leaf {
		return float64(depth) + averagePathLength(n.Size)
	}
	if row[n.Feature] < n.SplitValue {
		return pathLength(n.Left, row, depth+1)
	}
	return pathLength(n.Right, row, depth+1)
}
