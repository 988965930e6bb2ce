package scoring

import (
	"sort"
	"time"

	"github.com/rawblock/compound-risk-engine/internal/config"
	"github.com/rawblock/compound-risk-engine/pkg/models"
)

// Wallet Feature Extraction
//
// Reduces a wallet's normalized event history into the raw metrics and
// six of the seven category sub-scores. The seventh (activity-pattern
// risk) needs batch-level percentile thresholds and is finalized by the
// orchestrator after every wallet's cadence series is available.
//
// Degenerate-case policy:
//   - Zero events: counts are 0, account age is 0, and sub-scores fall
//     back to a neutral midpoint of 0.5 — except liquidation and
//     behavioral risk, which fall back to 0: the wallet has shown no
//     risk signal, which is not the same as showing no data. The bundle
//     is flagged low-confidence so callers can discount it.
//   - Zero borrows: the repay-to-borrow ratio is undefined, so the
//     repayment sub-score takes the neutral "fair" tier value of 0.3
//     and the financial-health repayment penalty does not fire.

const (
	// neutralSubScore is the midpoint fallback for no-history wallets.
	neutralSubScore = 0.5
	// neutralRepayment is the repayment sub-score for wallets that never
	// borrowed, matching the fair tier of the step table.
	neutralRepayment = 0.3
	// liquidationSaturation caps the liquidation count term: five or
	// more liquidations saturate it at 1.0.
	liquidationSaturation = 5.0
	// nightWindowEndHour bounds the [00:00, 06:00) UTC night window.
	nightWindowEndHour = 6
	// minTxForBotSignal gates the mechanical-timing penalty: a near-zero
	// CV over a handful of intervals is noise, not a bot signature.
	minTxForBotSignal = 10
	// sustainedDailyTxBotLimit is the tx-per-day volume above which the
	// irregular-activity penalty fires regardless of timing CV.
	sustainedDailyTxBotLimit = 50
	// lowConfidenceTxThreshold marks wallets whose score rests mostly on
	// fallback defaults rather than observed behavior.
	lowConfidenceTxThreshold = 3
	// completenessTxScale is the history depth at which data
	// completeness saturates at 1.0.
	completenessTxScale = 10
)

// Extractor turns event histories into FeatureBundles against a fixed
// scoring configuration. Extract is a pure function of its input:
// identical histories produce identical bundles.
type Extractor struct {
	cfg *config.ScoringConfig
}

func NewExtractor(cfg *config.ScoringConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract computes the per-wallet feature bundle. The input slice is
// not mutated; events may arrive unsorted.
func (e *Extractor) Extract(walletID string, events []models.TransactionEvent) models.FeatureBundle {
	b := models.FeatureBundle{WalletID: walletID}

	if len(events) == 0 {
		b.LiquidationRisk = 0
		b.BehavioralRisk = 0
		b.FinancialHealth = neutralSubScore
		b.RepaymentBehavior = neutralSubScore
		b.ExperienceScore = neutralSubScore
		b.ActivityPatternRisk = neutralSubScore
		b.Diversification = neutralSubScore
		b.LowConfidence = true
		return b
	}

	sorted := make([]models.TransactionEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	e.reduceCounts(&b, sorted)
	e.reduceTiming(&b, sorted)
	e.reduceCadence(&b, sorted)

	b.DataCompleteness = clamp01(float64(b.TotalTx) / completenessTxScale)
	b.LowConfidence = b.TotalTx < lowConfidenceTxThreshold

	b.LiquidationRisk = e.liquidationRisk(&b)
	b.FinancialHealth = e.financialHealth(&b)
	b.BehavioralRisk = e.behavioralRisk(&b)
	b.RepaymentBehavior = e.repaymentBehavior(&b)
	b.ExperienceScore = e.cfg.ExperienceFor(b.AccountAgeDays)
	b.Diversification = e.diversification(&b)
	// ActivityPatternRisk is left at zero here; the orchestrator fills
	// it in once the batch percentile thresholds exist.

	return b
}

// reduceCounts accumulates volume, per-action, debt and gas metrics.
func (e *Extractor) reduceCounts(b *models.FeatureBundle, events []models.TransactionEvent) {
	b.TotalTx = len(events)

	actionCounts := map[models.EventType]int{}
	for _, ev := range events {
		if ev.Success {
			b.SuccessfulTx++
		} else {
			b.FailedTx++
		}
		b.TotalGasUsed += ev.GasUsed

		switch ev.EventType {
		case models.EventMint:
			b.MintCount++
		case models.EventRedeem:
			b.RedeemCount++
		case models.EventBorrow:
			b.BorrowCount++
			b.TotalBorrowed += ev.Amount
		case models.EventRepay:
			b.RepayCount++
			b.TotalRepaid += ev.Amount
		case models.EventLiquidation:
			b.LiquidationCount++
		case models.EventTransfer:
			b.TransferCount++
		default:
			b.OtherCount++
		}
		actionCounts[ev.EventType]++
	}

	b.SuccessRate = float64(b.SuccessfulTx) / float64(b.TotalTx)
	b.AvgGasPerTx = float64(b.TotalGasUsed) / float64(b.TotalTx)

	b.HasLiquidations = b.LiquidationCount > 0
	b.LiquidationRate = float64(b.LiquidationCount) / float64(max(1, b.TotalTx))

	b.HasBorrows = b.TotalBorrowed > 0
	if b.HasBorrows {
		b.RepayToBorrowRatio = b.TotalRepaid / b.TotalBorrowed
	}

	// Action diversity counts distinct protocol action types; the
	// concentration is the share of protocol actions in the most-used one.
	protocolTotal := 0
	maxCount := 0
	for _, action := range models.ProtocolActions {
		n := actionCounts[action]
		if n > 0 {
			b.ActionDiversity++
			protocolTotal += n
			if n > maxCount {
				maxCount = n
			}
		}
	}
	if protocolTotal > 0 {
		b.MaxActionConcentration = float64(maxCount) / float64(protocolTotal)
	} else {
		b.MaxActionConcentration = 1
	}
}

// reduceTiming computes account age, inter-transaction interval stats
// and the schedule ratios. Events must already be sorted.
func (e *Extractor) reduceTiming(b *models.FeatureBundle, events []models.TransactionEvent) {
	b.FirstTx = events[0].Timestamp
	b.LastTx = events[len(events)-1].Timestamp
	b.AccountAgeDays = b.LastTx.Sub(b.FirstTx).Hours() / 24
	b.AvgTxIntervalDays = b.AccountAgeDays / float64(max(1, b.TotalTx-1))

	if len(events) > 1 {
		diffs := make([]float64, 0, len(events)-1)
		for i := 1; i < len(events); i++ {
			diffs = append(diffs, events[i].Timestamp.Sub(events[i-1].Timestamp).Hours())
		}
		b.AvgInterTxHours = mean(diffs)
		b.StdInterTxHours = stddev(diffs)
		b.TimingCV = coefficientOfVariation(diffs)
	}

	nightCount := 0
	weekendCount := 0
	for _, ev := range events {
		ts := ev.Timestamp.UTC()
		if ts.Hour() < nightWindowEndHour {
			nightCount++
		}
		if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
			weekendCount++
		}
	}
	b.NightActivityRatio = float64(nightCount) / float64(b.TotalTx)
	b.WeekendActivityRatio = float64(weekendCount) / float64(b.TotalTx)
}

// reduceCadence computes the daily transaction-count series stats that
// feed the batch-relative activity-pattern stage.
func (e *Extractor) reduceCadence(b *models.FeatureBundle, events []models.TransactionEvent) {
	dayCounts := map[string]int{}
	for _, ev := range events {
		day := ev.Timestamp.UTC().Format("2006-01-02")
		dayCounts[day]++
	}

	counts := make([]float64, 0, len(dayCounts))
	for _, n := range dayCounts {
		if n > b.MaxDailyTx {
			b.MaxDailyTx = n
		}
		counts = append(counts, float64(n))
	}
	b.AvgDailyTx = mean(counts)
	b.DailyActivityVariance = variance(counts)
}

// liquidationRisk = 0.5*saturated count + 0.3*rate + 0.2*indicator.
func (e *Extractor) liquidationRisk(b *models.FeatureBundle) float64 {
	countNorm := clamp01(float64(b.LiquidationCount) / liquidationSaturation)
	indicator := 0.0
	if b.HasLiquidations {
		indicator = 1.0
	}
	return clamp01(0.5*countNorm + 0.3*b.LiquidationRate + 0.2*indicator)
}

// financialHealth starts at perfect 1.0 and subtracts fixed penalties
// for unclosed debt, narrow action usage and very new accounts.
func (e *Extractor) financialHealth(b *models.FeatureBundle) float64 {
	health := 1.0
	if b.HasBorrows && b.RepayToBorrowRatio < 0.8 {
		health -= 0.4
	}
	if b.ActionDiversity <= 2 {
		health -= 0.2
	}
	if b.AccountAgeDays < 30 {
		health -= 0.2
	}
	return clamp01(health)
}

// behavioralRisk composes the failure-rate and bot-signal penalties.
func (e *Extractor) behavioralRisk(b *models.FeatureBundle) float64 {
	irregular := 0.0
	if (b.TimingCV < 0.05 && b.TotalTx >= minTxForBotSignal) ||
		b.MaxDailyTx > sustainedDailyTxBotLimit {
		irregular = 1.0
	}

	night := 0.0
	if b.NightActivityRatio > 0.5 {
		night = 1.0
	}

	weekend := clamp01(b.WeekendActivityRatio - 0.3)

	return clamp01(0.3*(1-b.SuccessRate) + 0.2*irregular + 0.3*night + 0.2*weekend)
}

// repaymentBehavior is a step function of the repay-to-borrow ratio;
// higher is better, inverted later during composition.
func (e *Extractor) repaymentBehavior(b *models.FeatureBundle) float64 {
	if !b.HasBorrows {
		return neutralRepayment
	}
	score := 0.0
	switch {
	case b.RepayToBorrowRatio >= 1.0:
		score = 0.5
	case b.RepayToBorrowRatio >= 0.8:
		score = 0.3
	case b.RepayToBorrowRatio >= 0.5:
		score = 0.1
	}
	return clamp01(score)
}

// diversification rewards breadth of action types and penalizes
// concentration in a single one.
func (e *Extractor) diversification(b *models.FeatureBundle) float64 {
	breadth := float64(b.ActionDiversity) / 5
	if breadth > 0.6 {
		breadth = 0.6
	}
	balance := (1 - b.MaxActionConcentration) * 0.4
	return clamp01(breadth + balance)
}
