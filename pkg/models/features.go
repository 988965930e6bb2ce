package models

import "time"

// FeatureBundle is the per-wallet reduction of an event history: raw
// counts/ratios plus the seven normalized sub-scores. Raw ratios may
// exceed [0,1]; every sub-score is clamped before composition.
type FeatureBundle struct {
	WalletID string `json:"walletId"`

	// Transaction volume
	TotalTx       int     `json:"totalTx"`
	SuccessfulTx  int     `json:"successfulTx"`
	FailedTx      int     `json:"failedTx"`
	SuccessRate   float64 `json:"successRate"`

	// Account lifetime
	FirstTx           time.Time `json:"firstTx"`
	LastTx            time.Time `json:"lastTx"`
	AccountAgeDays    float64   `json:"accountAgeDays"`
	AvgTxIntervalDays float64   `json:"avgTxIntervalDays"`

	// Per-action counts
	MintCount        int `json:"mintCount"`
	RedeemCount      int `json:"redeemCount"`
	BorrowCount      int `json:"borrowCount"`
	RepayCount       int `json:"repayCount"`
	LiquidationCount int `json:"liquidationCount"`
	TransferCount    int `json:"transferCount"`
	OtherCount       int `json:"otherCount"`

	// Action mix
	ActionDiversity        int     `json:"actionDiversity"`        // Distinct protocol action types used
	MaxActionConcentration float64 `json:"maxActionConcentration"` // Share of the single most-used action

	// Debt closure
	HasBorrows         bool    `json:"hasBorrows"`
	TotalBorrowed      float64 `json:"totalBorrowed"`
	TotalRepaid        float64 `json:"totalRepaid"`
	RepayToBorrowRatio float64 `json:"repayToBorrowRatio"` // Undefined (0) when HasBorrows is false

	// Liquidations
	HasLiquidations bool    `json:"hasLiquidations"`
	LiquidationRate float64 `json:"liquidationRate"`

	// Gas
	TotalGasUsed uint64  `json:"totalGasUsed"`
	AvgGasPerTx  float64 `json:"avgGasPerTx"`

	// Timing
	AvgInterTxHours float64 `json:"avgInterTxHours"`
	StdInterTxHours float64 `json:"stdInterTxHours"`
	TimingCV        float64 `json:"timingCv"` // std/mean of inter-tx intervals; low = mechanical

	// Schedule
	WeekendActivityRatio float64 `json:"weekendActivityRatio"`
	NightActivityRatio   float64 `json:"nightActivityRatio"` // Share of txs in [00:00,06:00) UTC

	// Daily cadence
	MaxDailyTx            int     `json:"maxDailyTx"`
	AvgDailyTx            float64 `json:"avgDailyTx"`
	DailyActivityVariance float64 `json:"dailyActivityVariance"`

	// Confidence in the score given how much history backs it.
	DataCompleteness float64 `json:"dataCompleteness"` // [0,1]
	LowConfidence    bool    `json:"lowConfidence"`

	// The seven category sub-scores, each clamped to [0,1].
	// ActivityPatternRisk is batch-relative and only valid after the
	// orchestrator's percentile stage has run.
	LiquidationRisk     float64 `json:"liquidationRisk"`
	FinancialHealth     float64 `json:"financialHealth"`
	BehavioralRisk      float64 `json:"behavioralRisk"`
	RepaymentBehavior   float64 `json:"repaymentBehavior"`
	ExperienceScore     float64 `json:"experienceScore"`
	ActivityPatternRisk float64 `json:"activityPatternRisk"`
	Diversification     float64 `json:"diversification"`
}
