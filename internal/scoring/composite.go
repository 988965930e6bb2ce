package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/rawblock/compound-risk-engine/internal/config"
	"github.com/rawblock/compound-risk-engine/pkg/models"
)

// Composite Scoring & Normalization
//
// Combines the seven category sub-scores and the anomaly score into one
// risk value, then maps it to the 0-1000 credit scale:
//
//   composite = Σ weight_i * risk_i        (health-type scores inverted)
//   final     = composite + (1 - anomaly) * anomaly_blend
//   credit    = round((1 - clamp(final, 0, 1)) * 1000)
//
// The anomaly blend sits on top of the 100% weight budget, so the raw
// final risk can leave [0,1]; the clamp before inversion is the
// intentional normalization step. It is distinct from the invariant
// checks below, which catch sub-scores or credit scores outside their
// contracted bounds — those are logic bugs and abort the run instead of
// being papered over.

// ErrScoreOutOfRange reports a sub-score or credit score outside its
// contracted bound: a programming-invariant violation, never recovered.
var ErrScoreOutOfRange = errors.New("score outside contracted range")

// invariantEps tolerates float rounding when checking contracted bounds.
const invariantEps = 1e-9

// Composer applies a validated weight configuration. Construct once per
// run; the same instance scores every wallet of the batch.
type Composer struct {
	cfg *config.ScoringConfig
}

// NewComposer validates the configuration up front: an invalid weight
// budget is fatal before any wallet is scored.
func NewComposer(cfg *config.ScoringConfig) (*Composer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Composer{cfg: cfg}, nil
}

// Compose returns the weighted composite risk and the raw (unclamped)
// final risk for one wallet. Deterministic and idempotent: the same
// bundle and anomaly score always produce the same pair.
func (c *Composer) Compose(b *models.FeatureBundle, anomaly float64) (composite, rawFinal float64) {
	w := c.cfg.Weights

	composite = b.LiquidationRisk*w.LiquidationRisk +
		b.BehavioralRisk*w.BehavioralRisk +
		(1-b.FinancialHealth)*w.FinancialHealth +
		b.ActivityPatternRisk*w.ActivityPatternRisk +
		(1-b.RepaymentBehavior)*w.RepaymentBehavior +
		(1-b.ExperienceScore)*w.Experience +
		(1-b.Diversification)*w.Diversification
	composite = clamp01(composite)

	rawFinal = composite + (1-anomaly)*w.AnomalyBlend
	return composite, rawFinal
}

// Finalize clamps the final risk, inverts it onto the 0-1000 credit
// scale and resolves the category band.
func (c *Composer) Finalize(rawFinal float64) (creditScore int, category string) {
	final := clamp01(rawFinal)
	creditScore = int(math.Round((1 - final) * 1000))
	return creditScore, c.cfg.CategoryFor(creditScore)
}

// Result runs composition and normalization for one wallet and checks
// the contracted bounds on both ends. Errors here mean a logic bug
// somewhere in the pipeline and abort the whole run.
func (c *Composer) Result(b *models.FeatureBundle, anomaly float64) (models.RiskResult, error) {
	if err := validateBundle(b); err != nil {
		return models.RiskResult{}, err
	}

	composite, rawFinal := c.Compose(b, anomaly)
	creditScore, category := c.Finalize(rawFinal)

	if creditScore < 0 || creditScore > 1000 {
		return models.RiskResult{}, fmt.Errorf("%w: credit score %d for wallet %s", ErrScoreOutOfRange, creditScore, b.WalletID)
	}

	return models.RiskResult{
		WalletID:         b.WalletID,
		CompositeRisk:    composite,
		FinalRisk:        clamp01(rawFinal),
		AnomalyScore:     anomaly,
		CreditScore:      creditScore,
		Category:         category,
		DataCompleteness: b.DataCompleteness,
		LowConfidence:    b.LowConfidence,
		Breakdown: &models.ScoreBreakdown{
			LiquidationRisk:     b.LiquidationRisk,
			FinancialHealth:     b.FinancialHealth,
			BehavioralRisk:      b.BehavioralRisk,
			RepaymentBehavior:   b.RepaymentBehavior,
			ExperienceScore:     b.ExperienceScore,
			ActivityPatternRisk: b.ActivityPatternRisk,
			Diversification:     b.Diversification,
		},
	}, nil
}

// validateBundle enforces the extraction contract: every sub-score must
// already be clamped to [0,1].
func validateBundle(b *models.FeatureBundle) error {
	names := [7]string{
		"liquidation_risk", "behavioral_risk", "financial_health",
		"activity_pattern_risk", "repayment_behavior", "experience_score",
		"diversification",
	}
	scores := [7]float64{
		b.LiquidationRisk, b.BehavioralRisk, b.FinancialHealth,
		b.ActivityPatternRisk, b.RepaymentBehavior, b.ExperienceScore,
		b.Diversification,
	}
	for i, s := range scores {
		if s < -invariantEps || s > 1+invariantEps || math.IsNaN(s) {
			return fmt.Errorf("%w: %s = %v for wallet %s", ErrScoreOutOfRange, names[i], s, b.WalletID)
		}
	}
	return nil
}
