package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

func TestParseWalletList(t *testing.T) {
	tests := []struct {
		name     string
		csv      string
		expected []string
	}{
		{
			name:     "wallet_id header",
			csv:      "wallet_id\n0xAAA\n0xbbb\n",
			expected: []string{"0xaaa", "0xbbb"},
		},
		{
			name:     "address column among others",
			csv:      "score,address,label\n500,0xAAA,foo\n300,0xBBB,bar\n",
			expected: []string{"0xaaa", "0xbbb"},
		},
		{
			name:     "headerless file",
			csv:      "0xaaa\n0xbbb\n0xccc\n",
			expected: []string{"0xaaa", "0xbbb", "0xccc"},
		},
		{
			name:     "duplicates removed keeping order",
			csv:      "wallet\n0xccc\n0xaaa\n0xCCC\n",
			expected: []string{"0xccc", "0xaaa"},
		},
		{
			name:     "blank rows skipped",
			csv:      "wallet_address\n0xaaa\n\n0xbbb\n",
			expected: []string{"0xaaa", "0xbbb"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWalletList(strings.NewReader(tt.csv))
			if err != nil {
				t.Fatalf("parseWalletList() error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("Got %d wallets %v, want %v", len(got), got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Wallet %d = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestParseWalletListEmpty(t *testing.T) {
	if _, err := parseWalletList(strings.NewReader("")); err == nil {
		t.Error("Empty file must be rejected")
	}
	if _, err := parseWalletList(strings.NewReader("wallet_id\n")); err == nil {
		t.Error("Header-only file must be rejected")
	}
}

func sampleRun() *models.ScoringRun {
	return &models.ScoringRun{
		RunID:       "test-run",
		WalletCount: 2,
		Results: []models.RiskResult{
			{
				WalletID: "0xaaa", CreditScore: 732, Category: models.CategoryMediumLow,
				CompositeRisk: 0.168, FinalRisk: 0.268, AnomalyScore: 0,
				DataCompleteness: 1.0,
				Breakdown: &models.ScoreBreakdown{
					LiquidationRisk: 0.2, FinancialHealth: 0.9, BehavioralRisk: 0.2,
					RepaymentBehavior: 0.8, ExperienceScore: 0.8, ActivityPatternRisk: 0.1,
					Diversification: 0.84,
				},
			},
			{
				WalletID: "0xbbb", CreditScore: 325, Category: models.CategoryHigh,
				CompositeRisk: 0.545, FinalRisk: 0.675, AnomalyScore: -0.3,
				DataCompleteness: 0.2, LowConfidence: true,
			},
		},
	}
}

func TestWriteScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.csv")
	if err := WriteScores(path, sampleRun()); err != nil {
		t.Fatalf("WriteScores() error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "wallet_id" || rows[0][1] != "score" {
		t.Errorf("Header = %v, want [wallet_id score]", rows[0])
	}
	if rows[1][0] != "0xaaa" || rows[1][1] != "732" {
		t.Errorf("Row 1 = %v, want 0xaaa,732", rows[1])
	}
	if rows[2][1] != "325" {
		t.Errorf("Row 2 score = %v, want 325", rows[2][1])
	}
}

func TestWriteDetailedScores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scores.csv")
	if err := WriteDetailedScores(path, sampleRun()); err != nil {
		t.Fatalf("WriteDetailedScores() error: %v", err)
	}

	detailed := filepath.Join(dir, "scores_detailed.csv")
	f, err := os.Open(detailed)
	if err != nil {
		t.Fatalf("Detailed output missing at %s: %v", detailed, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read detailed output: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Got %d rows, want header + 2", len(rows))
	}
	if len(rows[0]) != 15 {
		t.Errorf("Header has %d columns, want 15", len(rows[0]))
	}
	if rows[1][2] != models.CategoryMediumLow {
		t.Errorf("Category column = %q, want %q", rows[1][2], models.CategoryMediumLow)
	}
	// Missing breakdown rows still produce a full-width record.
	if len(rows[2]) != 15 {
		t.Errorf("Breakdown-less row has %d columns, want 15", len(rows[2]))
	}
	if rows[2][14] != "true" {
		t.Errorf("low_confidence column = %q, want true", rows[2][14])
	}
}
