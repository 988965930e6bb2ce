package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rawblock/compound-risk-engine/internal/alerts"
	"github.com/rawblock/compound-risk-engine/internal/api"
	"github.com/rawblock/compound-risk-engine/internal/config"
	"github.com/rawblock/compound-risk-engine/internal/db"
	"github.com/rawblock/compound-risk-engine/internal/etherscan"
	"github.com/rawblock/compound-risk-engine/internal/report"
	"github.com/rawblock/compound-risk-engine/internal/scoring"
	"github.com/rawblock/compound-risk-engine/pkg/models"
)

var (
	configPath string

	walletFile string
	outputFile string
	limit      int
	useCache   bool
	cacheFile  string
)

func main() {
	// .env is optional; real deployments set variables directly.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	root := &cobra.Command{
		Use:   "engine",
		Short: "Compound wallet risk scoring engine",
		Long: "Scores Compound protocol wallets on a 0-1000 credit scale from their " +
			"on-chain transaction histories.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to scoring config YAML (defaults built in)")

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Score a batch of wallets from a CSV wallet list",
		RunE:  runScore,
	}
	scoreCmd.Flags().StringVar(&walletFile, "wallet-file", "wallets.csv", "CSV file with wallet addresses")
	scoreCmd.Flags().StringVar(&outputFile, "output", "scores.csv", "Output CSV path")
	scoreCmd.Flags().IntVar(&limit, "limit", 0, "Score only the first N wallets (0 = all)")
	scoreCmd.Flags().BoolVar(&useCache, "use-cache", false, "Reuse fetched histories from the cache file if present")
	scoreCmd.Flags().StringVar(&cacheFile, "cache-file", "histories.json", "Wallet history cache path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scoring API server",
		RunE:  runServe,
	}

	root.AddCommand(scoreCmd, serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadScoringConfig() (*config.ScoringConfig, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", configPath).Msg("Loaded scoring config")
	return cfg, nil
}

func newProvider() *etherscan.Client {
	apiKey := os.Getenv("ETHERSCAN_API_KEY")
	if apiKey == "" {
		return nil
	}
	rps := 0.2
	if v := os.Getenv("ETHERSCAN_RPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}
	return etherscan.NewClient(etherscan.Config{
		APIKey:            apiKey,
		BaseURL:           os.Getenv("ETHERSCAN_BASE_URL"),
		RequestsPerSecond: rps,
	})
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadScoringConfig()
	if err != nil {
		return err
	}

	wallets, err := report.LoadWalletList(walletFile)
	if err != nil {
		return err
	}
	if limit > 0 && limit < len(wallets) {
		wallets = wallets[:limit]
	}
	log.Info().Int("wallets", len(wallets)).Str("file", walletFile).Msg("Loaded wallet list")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	histories, err := loadHistories(ctx, wallets)
	if err != nil {
		return err
	}

	pipeline, err := scoring.NewPipeline(cfg)
	if err != nil {
		return err
	}

	run, err := pipeline.Run(ctx, histories)
	if err != nil {
		return err
	}

	if err := report.WriteScores(outputFile, run); err != nil {
		return err
	}
	if err := report.WriteDetailedScores(outputFile, run); err != nil {
		return err
	}
	report.LogSummary(run)
	log.Info().Str("output", outputFile).Msg("Wrote scores")

	return nil
}

// loadHistories fetches wallet event histories, reusing the JSON cache
// when --use-cache is set so reruns during weight tuning skip the
// Etherscan round trips.
func loadHistories(ctx context.Context, wallets []string) ([]models.WalletHistory, error) {
	if useCache {
		if histories, err := readHistoryCache(cacheFile, wallets); err == nil {
			log.Info().Int("wallets", len(histories)).Str("cache", cacheFile).Msg("Loaded histories from cache")
			return histories, nil
		} else if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("History cache unusable, refetching")
		}
	}

	provider := newProvider()
	if provider == nil {
		log.Fatal().Msg("ETHERSCAN_API_KEY is not set. " +
			"Copy .env.example to .env and fill in your values: cp .env.example .env")
	}

	histories, err := provider.FetchWallets(ctx, wallets)
	if err != nil {
		return nil, err
	}

	if data, err := json.MarshalIndent(histories, "", "  "); err == nil {
		if err := os.WriteFile(cacheFile, data, 0o644); err != nil {
			log.Warn().Err(err).Str("cache", cacheFile).Msg("Failed to write history cache")
		}
	}

	return histories, nil
}

// readHistoryCache loads cached histories and checks that every
// requested wallet is present. A partial cache forces a refetch so the
// batch-relative stages see the same population.
func readHistoryCache(path string, wallets []string) ([]models.WalletHistory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cached []models.WalletHistory
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	byID := make(map[string]models.WalletHistory, len(cached))
	for _, h := range cached {
		byID[h.WalletID] = h
	}

	histories := make([]models.WalletHistory, 0, len(wallets))
	for _, w := range wallets {
		h, ok := byID[w]
		if !ok {
			return nil, os.ErrNotExist
		}
		histories = append(histories, h)
	}
	return histories, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadScoringConfig()
	if err != nil {
		return err
	}

	pipeline, err := scoring.NewPipeline(cfg)
	if err != nil {
		return err
	}

	var store *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		store, err = db.Connect(dbURL)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to PostgreSQL, continuing without persistence")
			store = nil
		} else {
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				log.Warn().Err(err).Msg("DB schema init failed")
			}
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, scoring runs will not be persisted")
	}

	provider := newProvider()
	if provider == nil {
		log.Warn().Msg("ETHERSCAN_API_KEY not set, /runs endpoint disabled")
	}

	wsHub := api.NewHub()
	go wsHub.Run()

	alertMgr := alerts.NewManager(api.BroadcastAlert(wsHub))
	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		alertMgr.RegisterWebhook("default", url, alerts.SeverityHigh, nil)
	}

	r := api.SetupRouter(store, provider, pipeline, wsHub, alertMgr)

	port := getEnvOrDefault("PORT", "5340")

	log.Info().Str("port", port).Msg("Risk engine API listening")
	return r.Run(":" + port)
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
