package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scoring configuration: the seven category weights, the anomaly blend
// weight, and the two threshold tables (age brackets, category bands).
//
// The whole record is constructed once at pipeline start, validated, and
// never mutated mid-run — all wallets in one batch are scored against
// identical tables. Overrides replace the record as a unit; a YAML file
// that changes one weight must still supply a full set that sums to 1.

// WeightSumTolerance bounds the allowed deviation of the seven category
// weights from 1.0.
const WeightSumTolerance = 1e-6

var (
	// ErrInvalidWeights is fatal at construction time. Weights are never
	// silently renormalized.
	ErrInvalidWeights = errors.New("category weights must sum to 1.0")
	// ErrInvalidTable reports a malformed age-bracket or category-band table.
	ErrInvalidTable = errors.New("invalid threshold table")
)

// Weights holds the composite-risk category weights plus the additive
// anomaly blend weight. The seven category weights must sum to 1.0; the
// anomaly blend sits on top of that budget.
type Weights struct {
	LiquidationRisk     float64 `yaml:"liquidation_risk"`
	BehavioralRisk      float64 `yaml:"behavioral_risk"`
	FinancialHealth     float64 `yaml:"financial_health"`
	ActivityPatternRisk float64 `yaml:"activity_pattern_risk"`
	RepaymentBehavior   float64 `yaml:"repayment_behavior"`
	Experience          float64 `yaml:"experience"`
	Diversification     float64 `yaml:"diversification"`
	AnomalyBlend        float64 `yaml:"anomaly_blend"`
}

// Sum returns the total of the seven category weights (the anomaly blend
// is excluded — it is not part of the 100% budget).
func (w Weights) Sum() float64 {
	return w.LiquidationRisk + w.BehavioralRisk + w.FinancialHealth +
		w.ActivityPatternRisk + w.RepaymentBehavior + w.Experience +
		w.Diversification
}

// AgeBracket maps account ages of at least MinDays to an experience
// score. Brackets are half-open on the upper end: an account exactly at a
// boundary falls into the higher bracket.
type AgeBracket struct {
	MinDays float64 `yaml:"min_days"`
	Score   float64 `yaml:"score"`
}

// CategoryBand maps credit scores of at least MinScore to a risk
// category label. Lower bounds are inclusive: a score of exactly 800 is
// Low Risk.
type CategoryBand struct {
	MinScore int    `yaml:"min_score"`
	Category string `yaml:"category"`
}

// ScoringConfig is the full configuration surface consumed by the core.
type ScoringConfig struct {
	Weights       Weights        `yaml:"weights"`
	AgeBrackets   []AgeBracket   `yaml:"age_brackets"`
	CategoryBands []CategoryBand `yaml:"category_bands"`
}

// Default returns the reference configuration. The weights and tables
// match the published Compound V2 scoring model.
func Default() *ScoringConfig {
	return &ScoringConfig{
		Weights: Weights{
			LiquidationRisk:     0.25,
			BehavioralRisk:      0.15,
			FinancialHealth:     0.20,
			ActivityPatternRisk: 0.10,
			RepaymentBehavior:   0.15,
			Experience:          0.10,
			Diversification:     0.05,
			AnomalyBlend:        0.10,
		},
		AgeBrackets: []AgeBracket{
			{MinDays: 0, Score: 0.1},
			{MinDays: 30, Score: 0.3},
			{MinDays: 90, Score: 0.5},
			{MinDays: 180, Score: 0.7},
			{MinDays: 365, Score: 1.0},
		},
		CategoryBands: []CategoryBand{
			{MinScore: 0, Category: "Very High Risk"},
			{MinScore: 200, Category: "High Risk"},
			{MinScore: 400, Category: "Medium Risk"},
			{MinScore: 600, Category: "Medium-Low Risk"},
			{MinScore: 800, Category: "Low Risk"},
		},
	}
}

// Load reads a full ScoringConfig from a YAML file and validates it.
// The file replaces the defaults as a unit; partial weight overrides
// that no longer sum to 1.0 are rejected rather than patched.
func Load(path string) (*ScoringConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scoring config: %w", err)
	}

	cfg := &ScoringConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse scoring config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the weight budget and both threshold tables. Any
// failure here aborts the pipeline before a single wallet is scored.
func (c *ScoringConfig) Validate() error {
	if diff := math.Abs(c.Weights.Sum() - 1.0); diff > WeightSumTolerance {
		return fmt.Errorf("%w: got %.9f", ErrInvalidWeights, c.Weights.Sum())
	}
	if c.Weights.AnomalyBlend < 0 || c.Weights.AnomalyBlend > 1 {
		return fmt.Errorf("%w: anomaly blend %.3f outside [0,1]", ErrInvalidWeights, c.Weights.AnomalyBlend)
	}

	if len(c.AgeBrackets) == 0 {
		return fmt.Errorf("%w: empty age bracket table", ErrInvalidTable)
	}
	if c.AgeBrackets[0].MinDays != 0 {
		return fmt.Errorf("%w: age brackets must start at 0 days", ErrInvalidTable)
	}
	for i := 1; i < len(c.AgeBrackets); i++ {
		if c.AgeBrackets[i].MinDays <= c.AgeBrackets[i-1].MinDays {
			return fmt.Errorf("%w: age brackets not strictly ascending at index %d", ErrInvalidTable, i)
		}
	}
	for _, b := range c.AgeBrackets {
		if b.Score < 0 || b.Score > 1 {
			return fmt.Errorf("%w: age bracket score %.3f outside [0,1]", ErrInvalidTable, b.Score)
		}
	}

	if len(c.CategoryBands) == 0 {
		return fmt.Errorf("%w: empty category band table", ErrInvalidTable)
	}
	if c.CategoryBands[0].MinScore != 0 {
		return fmt.Errorf("%w: category bands must start at score 0", ErrInvalidTable)
	}
	for i := 1; i < len(c.CategoryBands); i++ {
		if c.CategoryBands[i].MinScore <= c.CategoryBands[i-1].MinScore {
			return fmt.Errorf("%w: category bands not strictly ascending at index %d", ErrInvalidTable, i)
		}
	}
	for _, b := range c.CategoryBands {
		if b.Category == "" {
			return fmt.Errorf("%w: category band at score %d has no label", ErrInvalidTable, b.MinScore)
		}
	}

	return nil
}

// ExperienceFor evaluates the age-bracket table: the last bracket whose
// inclusive lower bound the age reaches wins, so a boundary value maps
// to the higher bracket.
func (c *ScoringConfig) ExperienceFor(ageDays float64) float64 {
	idx := sort.Search(len(c.AgeBrackets), func(i int) bool {
		return c.AgeBrackets[i].MinDays > ageDays
	})
	if idx == 0 {
		return c.AgeBrackets[0].Score
	}
	return c.AgeBrackets[idx-1].Score
}

// CategoryFor evaluates the category band table with the same
// inclusive-lower-bound rule.
func (c *ScoringConfig) CategoryFor(creditScore int) string {
	idx := sort.Search(len(c.CategoryBands), func(i int) bool {
		return c.CategoryBands[i].MinScore > creditScore
	})
	if idx == 0 {
		return c.CategoryBands[0].Category
	}
	return c.CategoryBands[idx-1].Category
}
