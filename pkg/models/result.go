package models

import "time"

// Risk category labels, highest credit band first.
const (
	CategoryLow       = "Low Risk"
	CategoryMediumLow = "Medium-Low Risk"
	CategoryMedium    = "Medium Risk"
	CategoryHigh      = "High Risk"
	CategoryVeryHigh  = "Very High Risk"
)

// ScoreBreakdown exposes the per-category components behind a credit
// score for transparency and debugging.
type ScoreBreakdown struct {
	LiquidationRisk     float64 `json:"liquidationRisk"`
	FinancialHealth     float64 `json:"financialHealth"`
	BehavioralRisk      float64 `json:"behavioralRisk"`
	RepaymentBehavior   float64 `json:"repaymentBehavior"`
	ExperienceScore     float64 `json:"experienceScore"`
	ActivityPatternRisk float64 `json:"activityPatternRisk"`
	Diversification     float64 `json:"diversification"`
}

// RiskResult is the final verdict for one wallet in one run. Created
// once, immutable after creation; a rerun produces a new RiskResult.
type RiskResult struct {
	WalletID         string          `json:"walletId"`
	CompositeRisk    float64         `json:"compositeRisk"` // Weighted seven-term sum, [0,1]
	FinalRisk        float64         `json:"finalRisk"`     // Composite + anomaly blend, clamped to [0,1]
	AnomalyScore     float64         `json:"anomalyScore"`  // Batch-relative; more negative = more anomalous
	CreditScore      int             `json:"creditScore"`   // 0-1000, higher = lower risk
	Category         string          `json:"category"`
	DataCompleteness float64         `json:"dataCompleteness"`
	LowConfidence    bool            `json:"lowConfidence"`
	Breakdown        *ScoreBreakdown `json:"breakdown,omitempty"`
}

// ScoringRun is one completed batch with its result table, in input
// wallet order.
type ScoringRun struct {
	RunID       string       `json:"runId"`
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt time.Time    `json:"completedAt"`
	WalletCount int          `json:"walletCount"`
	Results     []RiskResult `json:"results"`
}
