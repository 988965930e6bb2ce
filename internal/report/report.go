// Package report loads wallet lists and writes scoring results as CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

// Column names accepted as the wallet address column, checked in order.
var addressColumns = []string{"wallet_id", "wallet_address", "wallet", "address"}

// LoadWalletList reads wallet addresses from a CSV file. The address
// column is located by header name; a file without a recognized header
// is treated as headerless and the first column is used. Addresses are
// lowercased and deduplicated, preserving first-seen order.
func LoadWalletList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wallet list: %w", err)
	}
	defer f.Close()

	return parseWalletList(f)
}

func parseWalletList(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse wallet list: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("wallet list is empty")
	}

	col, hasHeader := findAddressColumn(records[0])
	rows := records
	if hasHeader {
		rows = records[1:]
	}

	seen := make(map[string]bool)
	var wallets []string
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		addr := strings.ToLower(strings.TrimSpace(row[col]))
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		wallets = append(wallets, addr)
	}

	if len(wallets) == 0 {
		return nil, fmt.Errorf("wallet list contains no addresses")
	}
	return wallets, nil
}

// findAddressColumn returns the index of the address column and whether
// the first row is a header.
func findAddressColumn(header []string) (int, bool) {
	for _, name := range addressColumns {
		for i, cell := range header {
			if strings.EqualFold(strings.TrimSpace(cell), name) {
				return i, true
			}
		}
	}
	// No recognized header. If the first cell looks like an address,
	// the file is headerless.
	if len(header) > 0 && strings.HasPrefix(strings.TrimSpace(header[0]), "0x") {
		return 0, false
	}
	return 0, true
}

// WriteScores writes the minimal deliverable: wallet_id,score rows in
// run order.
func WriteScores(path string, run *models.ScoringRun) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"wallet_id", "score"}); err != nil {
		return err
	}
	for _, r := range run.Results {
		if err := w.Write([]string{r.WalletID, strconv.Itoa(r.CreditScore)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteDetailedScores writes the full per-wallet breakdown next to the
// main output file, using a _detailed suffix.
func WriteDetailedScores(path string, run *models.ScoringRun) error {
	f, err := os.Create(detailedPath(path))
	if err != nil {
		return fmt.Errorf("create detailed output: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"wallet_id", "score", "category",
		"composite_risk", "final_risk", "anomaly_score",
		"liquidation_risk", "financial_health", "behavioral_risk",
		"repayment_behavior", "experience_score", "activity_pattern_risk",
		"diversification", "data_completeness", "low_confidence",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range run.Results {
		b := r.Breakdown
		if b == nil {
			b = &models.ScoreBreakdown{}
		}
		row := []string{
			r.WalletID,
			strconv.Itoa(r.CreditScore),
			r.Category,
			fmtScore(r.CompositeRisk),
			fmtScore(r.FinalRisk),
			fmtScore(r.AnomalyScore),
			fmtScore(b.LiquidationRisk),
			fmtScore(b.FinancialHealth),
			fmtScore(b.BehavioralRisk),
			fmtScore(b.RepaymentBehavior),
			fmtScore(b.ExperienceScore),
			fmtScore(b.ActivityPatternRisk),
			fmtScore(b.Diversification),
			fmtScore(r.DataCompleteness),
			strconv.FormatBool(r.LowConfidence),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func fmtScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func detailedPath(path string) string {
	if ext := ".csv"; strings.HasSuffix(path, ext) {
		return strings.TrimSuffix(path, ext) + "_detailed" + ext
	}
	return path + "_detailed"
}

// LogSummary emits the score distribution of a completed run.
func LogSummary(run *models.ScoringRun) {
	if len(run.Results) == 0 {
		return
	}

	counts := make(map[string]int)
	scores := make([]int, 0, len(run.Results))
	lowConfidence := 0
	for _, r := range run.Results {
		counts[r.Category]++
		scores = append(scores, r.CreditScore)
		if r.LowConfidence {
			lowConfidence++
		}
	}
	sort.Ints(scores)

	total := 0
	for _, s := range scores {
		total += s
	}

	log.Info().
		Str("run_id", run.RunID).
		Int("wallets", len(run.Results)).
		Int("min_score", scores[0]).
		Int("max_score", scores[len(scores)-1]).
		Int("median_score", scores[len(scores)/2]).
		Int("mean_score", total/len(scores)).
		Int("low_confidence", lowConfidence).
		Msg("Scoring run summary")

	for _, cat := range []string{
		models.CategoryLow, models.CategoryMediumLow, models.CategoryMedium,
		models.CategoryHigh, models.CategoryVeryHigh,
	} {
		if counts[cat] == 0 {
			continue
		}
		log.Info().Str("category", cat).Int("wallets", counts[cat]).Msg("Score distribution")
	}

	var buckets [11]int
	for _, s := range scores {
		buckets[s/100]++
	}
	// 1000 shares the top bucket.
	buckets[9] += buckets[10]
	for i := 0; i < 10; i++ {
		if buckets[i] == 0 {
			continue
		}
		log.Info().
			Str("range", fmt.Sprintf("%d-%d", i*100, i*100+99)).
			Int("wallets", buckets[i]).
			Msg("Score histogram")
	}
}
