package scoring

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/compound-risk-engine/internal/config"
	"github.com/rawblock/compound-risk-engine/pkg/models"
)

// Batch Orchestration
//
// Sequences the scoring stages across one batch of wallets:
//
//   1. per-wallet feature extraction      (parallel, no shared state)
//   2. batch percentile thresholds        (barrier: needs every cadence series)
//   3. anomaly forest fit + scoring       (barrier: fit is batch-global)
//   4. per-wallet composition/normalization (parallel again)
//
// Both barriers exist because two computations are population-relative:
// activity-pattern risk compares each wallet against the batch's p90
// cadence thresholds, and the anomaly model ranks each wallet against
// the whole batch. Wallets from two different runs are never mixed into
// one fit.
//
// Per-wallet recoverable conditions (empty history, undefined ratios,
// degenerate anomaly fit) degrade that wallet's result and continue;
// only configuration and invariant violations abort the run. The result
// table preserves input wallet order.

// Pipeline is the batch orchestrator. Construct once per process with a
// validated configuration; each Run scores one independent batch.
type Pipeline struct {
	cfg       *config.ScoringConfig
	extractor *Extractor
	composer  *Composer
	workers   int
}

// NewPipeline validates the configuration and wires the stages. An
// invalid weight budget fails here, before any wallet is touched.
func NewPipeline(cfg *config.ScoringConfig) (*Pipeline, error) {
	composer, err := NewComposer(cfg)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:       cfg,
		extractor: NewExtractor(cfg),
		composer:  composer,
		workers:   runtime.NumCPU(),
	}, nil
}

// Run scores one batch. Given identical input, two runs produce
// identical output: extraction is a pure per-wallet function and the
// anomaly forest is seeded.
func (p *Pipeline) Run(ctx context.Context, wallets []models.WalletHistory) (*models.ScoringRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	run := &models.ScoringRun{
		RunID:       uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		WalletCount: len(wallets),
	}
	log.Info().Str("run_id", run.RunID).Int("wallets", len(wallets)).Msg("Scoring batch started")

	// Phase 1: parallel extraction. Each wallet's bundle depends only on
	// its own events; workers write disjoint slice slots.
	bundles := make([]models.FeatureBundle, len(wallets))
	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for i := range wallets {
		i := i
		g.Go(func() error {
			bundles[i] = p.extractor.Extract(wallets[i].WalletID, wallets[i].Events)
			return nil
		})
	}
	_ = g.Wait()

	emptyWallets := 0
	for i := range bundles {
		if bundles[i].TotalTx == 0 {
			emptyWallets++
		}
	}
	if emptyWallets > 0 {
		log.Warn().Str("run_id", run.RunID).Int("wallets", emptyWallets).
			Msg("Wallets with no history scored on neutral defaults")
	}

	// Phase 2 (barrier): batch-relative activity-pattern risk.
	thresholds := fitActivityThresholds(bundles)
	for i := range bundles {
		bundles[i].ActivityPatternRisk = thresholds.activityPatternRisk(&bundles[i])
	}

	// Phase 3 (barrier): anomaly fit over the whole batch.
	model := FitAnomalyModel(bundles)
	if model.Degenerate {
		log.Warn().Str("run_id", run.RunID).
			Msg("Anomaly fit degenerate (batch too small or zero variance), scoring batch neutral")
	}

	// Phase 4: parallel composition and normalization. Results are
	// write-once per wallet; invariant violations abort the run.
	results := make([]models.RiskResult, len(wallets))
	g = new(errgroup.Group)
	g.SetLimit(p.workers)
	for i := range bundles {
		i := i
		g.Go(func() error {
			anomaly := model.Score(&bundles[i])
			result, err := p.composer.Result(&bundles[i], anomaly)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Str("run_id", run.RunID).Err(err).Msg("Scoring batch aborted")
		return nil, fmt.Errorf("score batch: %w", err)
	}

	run.Results = results
	run.CompletedAt = time.Now().UTC()
	log.Info().Str("run_id", run.RunID).Int("wallets", len(results)).
		Dur("elapsed", run.CompletedAt.Sub(run.StartedAt)).Msg("Scoring batch complete")
	return run, nil
}

// Bundles re-runs extraction and the percentile stage only, returning
// the feature bundles without composing scores. Used by the extended
// API output for transparency.
func (p *Pipeline) Bundles(wallets []models.WalletHistory) []models.FeatureBundle {
	bundles := make([]models.FeatureBundle, len(wallets))
	for i := range wallets {
		bundles[i] = p.extractor.Extract(wallets[i].WalletID, wallets[i].Events)
	}
	thresholds := fitActivityThresholds(bundles)
	for i := range bundles {
		bundles[i].ActivityPatternRisk = thresholds.activityPatternRisk(&bundles[i])
	}
	return bundles
}
