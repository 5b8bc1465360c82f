package model

import "math"

// treeNode is one node of a CART regression tree: either a leaf with a
// fitted value, or a split on featureIdx < threshold.
type treeNode struct {
	isLeaf     bool
	value      float64
	featureIdx int
	threshold  float64
	left       *treeNode
	right      *treeNode
}

// regressionTree is a single weak learner in the gradient-boosting
// ensemble.
type regressionTree struct {
	root *treeNode
}

func fitRegressionTree(x [][]float64, y []float64, maxDepth, minSamplesLeaf int) *regressionTree {
	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}
	return &regressionTree{root: growNode(x, y, idx, 0, maxDepth, minSamplesLeaf)}
}

func growNode(x [][]float64, y []float64, idx []int, depth, maxDepth, minSamplesLeaf int) *treeNode {
	mean := meanOf(y, idx)
	if depth >= maxDepth || len(idx) < 2*minSamplesLeaf {
		return &treeNode{isLeaf: true, value: mean}
	}

	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0
	baseSSE := sseOf(y, idx, mean)
	nFeatures := len(x[idx[0]])

	for f := 0; f < nFeatures; f++ {
		thresholds := candidateThresholds(x, idx, f)
		for _, t := range thresholds {
			var leftIdx, rightIdx []int
			for _, i := range idx {
				if x[i][f] < t {
					leftIdx = append(leftIdx, i)
				} else {
					rightIdx = append(rightIdx, i)
				}
			}
			if len(leftIdx) < minSamplesLeaf || len(rightIdx) < minSamplesLeaf {
				continue
			}
			leftMean := meanOf(y, leftIdx)
			rightMean := meanOf(y, rightIdx)
			gain := baseSSE - sseOf(y, leftIdx, leftMean) - sseOf(y, rightIdx, rightMean)
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = t
			}
		}
	}

	if bestFeature == -1 {
		return &treeNode{isLeaf: true, value: mean}
	}

	var leftIdx, rightIdx []int
	for _, i := range idx {
		if x[i][bestFeature] < bestThreshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}

	return &treeNode{
		isLeaf:     false,
		featureIdx: bestFeature,
		threshold:  bestThreshold,
		left:       growNode(x, y, leftIdx, depth+1, maxDepth, minSamplesLeaf),
		right:      growNode(x, y, rightIdx, depth+1, maxDepth, minSamplesLeaf),
	}
}

// candidateThresholds uses each distinct observed value of feature f as
// a candidate split point (small training sets here, so the O(n) scan
// per feature is cheap enough without a sorted-midpoint optimization).
func candidateThresholds(x [][]float64, idx []int, f int) []float64 {
	seen := make(map[float64]struct{})
	var out []float64
	for _, i := range idx {
		v := x[i][f]
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func meanOf(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func sseOf(y []float64, idx []int, mean float64) float64 {
	var sum float64
	for _, i := range idx {
		d := y[i] - mean
		sum += d * d
	}
	return sum
}

func (t *regressionTree) predict(x []float64) float64 {
	n := t.root
	for !n.isLeaf {
		if x[n.featureIdx] < n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func maxInt(a, b int) int {
	return int(math.Max(float64(a), float64(b)))
}
