package alerts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

func TestSeverityMeetsThreshold(t *testing.T) {
	tests := []struct {
		severity string
		minimum  string
		expected bool
	}{
		{SeverityCritical, SeverityHigh, true},
		{SeverityHigh, SeverityHigh, true},
		{SeverityMedium, SeverityHigh, false},
		{SeverityInfo, SeverityMedium, false},
		{SeverityCritical, SeverityInfo, true},
	}

	for _, tt := range tests {
		if got := severityMeetsThreshold(tt.severity, tt.minimum); got != tt.expected {
			t.Errorf("severityMeetsThreshold(%q, %q) = %v, want %v",
				tt.severity, tt.minimum, got, tt.expected)
		}
	}
}

func TestEmitFromRunOnlyHighRiskBands(t *testing.T) {
	var mu sync.Mutex
	var broadcast []Alert
	m := NewManager(func(a Alert) {
		mu.Lock()
		broadcast = append(broadcast, a)
		mu.Unlock()
	})

	run := &models.ScoringRun{
		RunID: "run-1",
		Results: []models.RiskResult{
			{WalletID: "0xsafe", CreditScore: 850, Category: models.CategoryLow},
			{WalletID: "0xmid", CreditScore: 500, Category: models.CategoryMedium},
			{WalletID: "0xrisky", CreditScore: 300, Category: models.CategoryHigh},
			{WalletID: "0xworst", CreditScore: 50, Category: models.CategoryVeryHigh},
			{WalletID: "0xsparse", CreditScore: 250, Category: models.CategoryHigh, LowConfidence: true},
		},
	}

	m.EmitFromRun(run)

	mu.Lock()
	defer mu.Unlock()
	if len(broadcast) != 3 {
		t.Fatalf("Broadcast %d alerts, want 3 (High, Very High, low-confidence High)", len(broadcast))
	}

	severities := map[string]string{}
	for _, a := range broadcast {
		severities[a.WalletID] = a.Severity
		if a.RunID != "run-1" {
			t.Errorf("Alert for %s carries run ID %q, want run-1", a.WalletID, a.RunID)
		}
	}
	if severities["0xworst"] != SeverityCritical {
		t.Errorf("Very High Risk wallet severity = %q, want critical", severities["0xworst"])
	}
	if severities["0xrisky"] != SeverityHigh {
		t.Errorf("High Risk wallet severity = %q, want high", severities["0xrisky"])
	}
	if severities["0xsparse"] != SeverityMedium {
		t.Errorf("Low-confidence High Risk wallet severity = %q, want downgraded medium", severities["0xsparse"])
	}
}

func TestGetRecentAlertsNewestFirst(t *testing.T) {
	m := NewManager(nil)

	for i, sev := range []string{SeverityMedium, SeverityHigh, SeverityCritical} {
		m.Emit(Alert{
			Severity:  sev,
			AlertType: "high_risk_wallet",
			WalletID:  "0xw",
			Timestamp: time.Unix(int64(1700000000+i), 0),
		})
	}

	recent := m.GetRecentAlerts(2)
	if len(recent) != 2 {
		t.Fatalf("Got %d alerts, want 2", len(recent))
	}
	if recent[0].Severity != SeverityCritical || recent[1].Severity != SeverityHigh {
		t.Errorf("Alerts not newest first: %q then %q", recent[0].Severity, recent[1].Severity)
	}
}

func TestWebhookDeliveryRespectsMinSeverity(t *testing.T) {
	received := make(chan Alert, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			t.Errorf("Webhook payload not decodable: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		received <- a
	}))
	defer srv.Close()

	m := NewManager(nil)
	m.RegisterWebhook("test", srv.URL, SeverityCritical, nil)

	m.Emit(Alert{Severity: SeverityHigh, AlertType: "high_risk_wallet", WalletID: "0xa"})
	m.Emit(Alert{Severity: SeverityCritical, AlertType: "high_risk_wallet", WalletID: "0xb"})

	select {
	case a := <-received:
		if a.WalletID != "0xb" || a.Severity != SeverityCritical {
			t.Errorf("Delivered alert %+v, want the critical one for 0xb", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Webhook never received the critical alert")
	}

	select {
	case a := <-received:
		t.Errorf("Webhook received below-threshold alert %+v", a)
	case <-time.After(200 * time.Millisecond):
	}
}
