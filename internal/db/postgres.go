package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init
// works inside the runtime image without shipping the .sql file.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Info().Msg("Connected to PostgreSQL for score persistence")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Info().Msg("Wallet scoring schema initialized")
	return nil
}

// SaveRun persists a completed scoring run and all of its per-wallet
// results in one transaction. Results are write-once: a rerun lands
// under a new run_id rather than updating rows in place.
func (s *PostgresStore) SaveRun(ctx context.Context, run *models.ScoringRun) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertRunSQL := `
		INSERT INTO scoring_runs (run_id, started_at, completed_at, wallet_count)
		VALUES ($1, $2, $3, $4);
	`
	if _, err = tx.Exec(ctx, insertRunSQL, run.RunID, run.StartedAt, run.CompletedAt, run.WalletCount); err != nil {
		return fmt.Errorf("failed to insert scoring run: %v", err)
	}

	insertScoreSQL := `
		INSERT INTO wallet_scores
		(run_id, wallet_id, credit_score, category, composite_risk, final_risk, anomaly_score,
		 liquidation_risk, financial_health, behavioral_risk, repayment_behavior,
		 experience_score, activity_pattern_risk, diversification,
		 data_completeness, low_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
	`
	for _, r := range run.Results {
		bd := r.Breakdown
		if bd == nil {
			bd = &models.ScoreBreakdown{}
		}
		_, err = tx.Exec(ctx, insertScoreSQL,
			run.RunID,
			r.WalletID,
			r.CreditScore,
			r.Category,
			r.CompositeRisk,
			r.FinalRisk,
			r.AnomalyScore,
			bd.LiquidationRisk,
			bd.FinancialHealth,
			bd.BehavioralRisk,
			bd.RepaymentBehavior,
			bd.ExperienceScore,
			bd.ActivityPatternRisk,
			bd.Diversification,
			r.DataCompleteness,
			r.LowConfidence,
		)
		if err != nil {
			return fmt.Errorf("failed to insert wallet score: %v", err)
		}
	}

	return tx.Commit(ctx)
}

// LatestWalletScore returns the most recent persisted result for a
// wallet across all runs.
func (s *PostgresStore) LatestWalletScore(ctx context.Context, walletID string) (*models.RiskResult, error) {
	sql := `
		SELECT wallet_id, credit_score, category, composite_risk, final_risk, anomaly_score,
		       liquidation_risk, financial_health, behavioral_risk, repayment_behavior,
		       experience_score, activity_pattern_risk, diversification,
		       data_completeness, low_confidence
		FROM wallet_scores
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT 1;
	`
	r := models.RiskResult{Breakdown: &models.ScoreBreakdown{}}
	err := s.pool.QueryRow(ctx, sql, walletID).Scan(
		&r.WalletID,
		&r.CreditScore,
		&r.Category,
		&r.CompositeRisk,
		&r.FinalRisk,
		&r.AnomalyScore,
		&r.Breakdown.LiquidationRisk,
		&r.Breakdown.FinancialHealth,
		&r.Breakdown.BehavioralRisk,
		&r.Breakdown.RepaymentBehavior,
		&r.Breakdown.ExperienceScore,
		&r.Breakdown.ActivityPatternRisk,
		&r.Breakdown.Diversification,
		&r.DataCompleteness,
		&r.LowConfidence,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RunResults returns the persisted result table for one run, highest
// credit score first.
func (s *PostgresStore) RunResults(ctx context.Context, runID string) ([]models.RiskResult, error) {
	sql := `
		SELECT wallet_id, credit_score, category, composite_risk, final_risk, anomaly_score,
		       data_completeness, low_confidence
		FROM wallet_scores
		WHERE run_id = $1
		ORDER BY credit_score DESC;
	`
	rows, err := s.pool.Query(ctx, sql, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.RiskResult
	for rows.Next() {
		var r models.RiskResult
		if err := rows.Scan(
			&r.WalletID, &r.CreditScore, &r.Category,
			&r.CompositeRisk, &r.FinalRisk, &r.AnomalyScore,
			&r.DataCompleteness, &r.LowConfidence,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if results == nil {
		results = []models.RiskResult{}
	}
	return results, rows.Err()
}
