package scoring

import "github.com/rawblock/compound-risk-engine/pkg/models"

// Batch-Relative Activity Pattern Risk
//
// The one sub-score that cannot be computed from a single wallet:
// burst and volume thresholds are the 90th percentile of the current
// batch's daily-cadence distributions, so every wallet's cadence series
// must be reduced before any wallet's activity risk is final. The
// orchestrator runs this stage at the barrier between per-wallet
// extraction and composition.

// activityThresholds holds the percentile cutoffs fitted on one batch.
// Like the anomaly model, thresholds are only meaningful for the batch
// they were computed from.
type activityThresholds struct {
	varianceP90 float64
	maxDailyP90 float64
	populated   bool // False when no wallet in the batch has history
}

// fitActivityThresholds reduces the batch's daily-cadence stats into
// the p90 cutoffs. Zero-event wallets contribute nothing.
func fitActivityThresholds(bundles []models.FeatureBundle) activityThresholds {
	variances := make([]float64, 0, len(bundles))
	maxDailies := make([]float64, 0, len(bundles))
	for i := range bundles {
		if bundles[i].TotalTx == 0 {
			continue
		}
		variances = append(variances, bundles[i].DailyActivityVariance)
		maxDailies = append(maxDailies, float64(bundles[i].MaxDailyTx))
	}
	if len(variances) == 0 {
		return activityThresholds{}
	}
	return activityThresholds{
		varianceP90: percentile(variances, 90),
		maxDailyP90: percentile(maxDailies, 90),
		populated:   true,
	}
}

// activityPatternRisk scores one wallet against the batch thresholds:
// burst variance above p90, daily volume above p90, or mechanically
// regular timing each add weighted risk. Zero-event wallets keep their
// neutral default.
func (t activityThresholds) activityPatternRisk(b *models.FeatureBundle) float64 {
	if b.TotalTx == 0 {
		return b.ActivityPatternRisk
	}
	if !t.populated {
		return 0
	}

	risk := 0.0
	if b.DailyActivityVariance > 0 && b.DailyActivityVariance > t.varianceP90 {
		risk += 0.3
	}
	if b.MaxDailyTx > 0 && float64(b.MaxDailyTx) > t.maxDailyP90 {
		risk += 0.4
	}
	if b.TimingCV < 0.1 && b.TotalTx > 5 {
		risk += 0.3
	}
	return clamp01(risk)
}
