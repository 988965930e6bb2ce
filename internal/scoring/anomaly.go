package scoring

import (
	"math"
	"math/rand"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

// Population Anomaly Detection
//
// Unsupervised outlier scoring over the batch using an isolation
// forest: anomalous wallets separate from the population in fewer
// random partitions, so a shorter average isolation-path length means a
// more negative score. Scores follow the decision-function convention
//
//   score = 0.5 - 2^(-E[h(x)] / c(n))
//
// landing in [-0.5, 0.5]: around 0 for typical wallets, negative for
// outliers. A score is only meaningful relative to the batch the model
// was fitted on — the orchestrator fits a fresh model every run and
// never reuses one across differing batches.
//
// The model is fitted on a fixed subset of numeric features:
// transaction volume, success rate, account age, liquidation count,
// repay-to-borrow ratio, action diversity, timing CV, max daily tx.
// Features are z-scored before fitting; a fixed seed keeps two runs on
// identical input byte-identical.

const (
	forestTrees     = 100
	forestSubsample = 256
	forestSeed      = 42
)

const eulerMascheroni = 0.5772156649015329

// constantColEps bounds the relative standard deviation below which a
// column counts as constant. Summing identical float64 values picks up
// accumulation error (ten 0.9s average to 0.9000000000000001), so an
// exact sd == 0 test misses constant columns.
const constantColEps = 1e-12

// AnomalyModel is an isolation forest fitted on one batch.
// Fit and Score have separate lifecycles: fit once per batch, score
// each wallet of that same batch.
type AnomalyModel struct {
	trees []*isoNode
	means []float64
	stds  []float64
	// c(n) normalization term for the subsample size used during fit.
	pathNorm float64
	// Degenerate marks a batch too small or too uniform to rank;
	// Score then returns the neutral 0.0 for every wallet.
	Degenerate bool
}

// isoNode is one node of an isolation tree. Leaves carry the size of
// the sample that reached them.
type isoNode struct {
	feature  int
	split    float64
	left     *isoNode
	right    *isoNode
	leafSize int
	isLeaf   bool
}

// anomalyFeatureVector selects the fixed numeric feature subset.
func anomalyFeatureVector(b *models.FeatureBundle) []float64 {
	return []float64{
		float64(b.TotalTx),
		b.SuccessRate,
		b.AccountAgeDays,
		float64(b.LiquidationCount),
		b.RepayToBorrowRatio,
		float64(b.ActionDiversity),
		b.TimingCV,
		float64(b.MaxDailyTx),
	}
}

// FitAnomalyModel fits the forest over the batch. Batches with fewer
// than two wallets, or with zero variance across every selected
// feature, produce a degenerate model that scores everything neutral.
func FitAnomalyModel(bundles []models.FeatureBundle) *AnomalyModel {
	if len(bundles) < 2 {
		return &AnomalyModel{Degenerate: true}
	}

	matrix := make([][]float64, len(bundles))
	for i := range bundles {
		matrix[i] = anomalyFeatureVector(&bundles[i])
	}
	dims := len(matrix[0])

	// Standardize column-wise. Constant columns keep std 1 so they
	// z-score to 0 and cannot influence splits.
	m := &AnomalyModel{
		means: make([]float64, dims),
		stds:  make([]float64, dims),
	}
	anyVariance := false
	for j := 0; j < dims; j++ {
		col := make([]float64, len(matrix))
		for i := range matrix {
			col[i] = matrix[i][j]
		}
		m.means[j] = mean(col)
		sd := stddev(col)
		if sd > constantColEps*math.Max(math.Abs(m.means[j]), 1) {
			anyVariance = true
			m.stds[j] = sd
		} else {
			m.stds[j] = 1
		}
	}
	if !anyVariance {
		return &AnomalyModel{Degenerate: true}
	}

	scaled := make([][]float64, len(matrix))
	for i := range matrix {
		scaled[i] = m.scale(matrix[i])
	}

	subsample := forestSubsample
	if subsample > len(scaled) {
		subsample = len(scaled)
	}
	m.pathNorm = avgPathLength(subsample)
	maxDepth := int(math.Ceil(math.Log2(float64(subsample)))) + 1

	rng := rand.New(rand.NewSource(forestSeed))
	m.trees = make([]*isoNode, forestTrees)
	for t := 0; t < forestTrees; t++ {
		perm := rng.Perm(len(scaled))
		sample := make([][]float64, subsample)
		for i := 0; i < subsample; i++ {
			sample[i] = scaled[perm[i]]
		}
		m.trees[t] = buildIsoTree(sample, 0, maxDepth, rng)
	}
	return m
}

// Score returns the wallet's anomaly score under this fitted model.
func (m *AnomalyModel) Score(b *models.FeatureBundle) float64 {
	if m.Degenerate {
		return 0
	}
	x := m.scale(anomalyFeatureVector(b))

	total := 0.0
	for _, tree := range m.trees {
		total += pathLength(tree, x, 0)
	}
	avg := total / float64(len(m.trees))

	s := math.Pow(2, -avg/m.pathNorm)
	return 0.5 - s
}

func (m *AnomalyModel) scale(x []float64) []float64 {
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - m.means[j]) / m.stds[j]
	}
	return out
}

// buildIsoTree recursively partitions the sample on a random feature at
// a random cut point until the node is pure, single, or depth-capped.
func buildIsoTree(sample [][]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if len(sample) <= 1 || depth >= maxDepth {
		return &isoNode{isLeaf: true, leafSize: len(sample)}
	}

	// Only features that still vary inside this node can split it.
	dims := len(sample[0])
	splittable := make([]int, 0, dims)
	for j := 0; j < dims; j++ {
		lo, hi := sample[0][j], sample[0][j]
		for _, row := range sample {
			if row[j] < lo {
				lo = row[j]
			}
			if row[j] > hi {
				hi = row[j]
			}
		}
		if hi > lo {
			splittable = append(splittable, j)
		}
	}
	if len(splittable) == 0 {
		return &isoNode{isLeaf: true, leafSize: len(sample)}
	}

	feature := splittable[rng.Intn(len(splittable))]
	lo, hi := sample[0][feature], sample[0][feature]
	for _, row := range sample {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range sample {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{isLeaf: true, leafSize: len(sample)}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildIsoTree(left, depth+1, maxDepth, rng),
		right:   buildIsoTree(right, depth+1, maxDepth, rng),
	}
}

// pathLength walks a point down a tree; leaves holding more than one
// point contribute the expected extra depth c(size).
func pathLength(node *isoNode, x []float64, depth int) float64 {
	if node.isLeaf {
		return float64(depth) + avgPathLength(node.leafSize)
	}
	if x[node.feature] < node.split {
		return pathLength(node.left, x, depth+1)
	}
	return pathLength(node.right, x, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful
// BST search over n points: 2H(n-1) - 2(n-1)/n.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}
