package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

// Risk Alert System
//
// Structured alert emission for wallets that land in the high-risk
// bands. Alerts are:
//   1. Broadcast via WebSocket to connected dashboards
//   2. Pushed to registered webhook endpoints (Slack, Discord, SIEM)
//   3. Stored in memory for recent alert history
//
// Webhook payloads follow a common JSON format compatible with Slack
// incoming webhooks, Discord webhooks, and PagerDuty Events API.

// Severity levels, ordered.
const (
	SeverityInfo     = "info"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert represents a structured risk alert for one wallet result.
type Alert struct {
	ID          string             `json:"id"`
	Timestamp   time.Time          `json:"timestamp"`
	Severity    string             `json:"severity"`
	AlertType   string             `json:"alertType"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	WalletID    string             `json:"walletId,omitempty"`
	RunID       string             `json:"runId,omitempty"`
	Result      *models.RiskResult `json:"result,omitempty"`
}

// WebhookEndpoint is a registered webhook receiver.
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity string            `json:"minSeverity"` // Only send alerts >= this severity
}

// Manager handles alert emission and webhook delivery.
type Manager struct {
	mu            sync.RWMutex
	webhooks      []WebhookEndpoint
	recentAlerts  []Alert
	maxHistory    int
	httpClient    *http.Client
	alertCallback func(Alert) // WebSocket broadcast callback
}

// NewManager creates a new alert system. The callback receives every
// alert for websocket fan-out; nil disables broadcasting.
func NewManager(broadcastFn func(Alert)) *Manager {
	return &Manager{
		webhooks:      make([]WebhookEndpoint, 0),
		recentAlerts:  make([]Alert, 0),
		maxHistory:    1000,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		alertCallback: broadcastFn,
	}
}

// RegisterWebhook adds a webhook endpoint.
func (m *Manager) RegisterWebhook(name, url, minSeverity string, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.webhooks = append(m.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})

	log.Info().Str("webhook", name).Str("min_severity", minSeverity).Msg("Registered alert webhook")
}

// Emit processes and distributes an alert.
func (m *Manager) Emit(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = alert.Severity + "-" + alert.AlertType + "-" + alert.WalletID
	}

	m.mu.Lock()
	m.recentAlerts = append(m.recentAlerts, alert)
	if len(m.recentAlerts) > m.maxHistory {
		m.recentAlerts = m.recentAlerts[len(m.recentAlerts)-m.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(m.webhooks))
	copy(webhooks, m.webhooks)
	m.mu.Unlock()

	if m.alertCallback != nil {
		m.alertCallback(alert)
	}

	// Webhook delivery is async and best-effort.
	for _, wh := range webhooks {
		if !wh.Enabled {
			continue
		}
		if !severityMeetsThreshold(alert.Severity, wh.MinSeverity) {
			continue
		}
		go m.sendWebhook(wh, alert)
	}

	log.Info().Str("severity", alert.Severity).Str("type", alert.AlertType).
		Str("wallet", alert.WalletID).Msg(alert.Title)
}

// EmitFromRun inspects a completed scoring run and emits alerts for
// every wallet in the high-risk bands.
func (m *Manager) EmitFromRun(run *models.ScoringRun) {
	for i := range run.Results {
		r := run.Results[i]
		severity := severityForResult(&r)
		if severity == SeverityInfo {
			continue
		}

		m.Emit(Alert{
			Severity:    severity,
			AlertType:   "high_risk_wallet",
			Title:       fmt.Sprintf("Wallet scored %d (%s)", r.CreditScore, r.Category),
			Description: buildDescription(&r),
			WalletID:    r.WalletID,
			RunID:       run.RunID,
			Result:      &r,
		})
	}
}

// GetRecentAlerts returns the most recent alerts, newest first.
func (m *Manager) GetRecentAlerts(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recentAlerts) {
		limit = len(m.recentAlerts)
	}

	start := len(m.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = m.recentAlerts[start+limit-1-i]
	}
	return result
}

// sendWebhook delivers an alert to a webhook endpoint.
func (m *Manager) sendWebhook(wh WebhookEndpoint, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal alert")
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		log.Error().Str("webhook", wh.Name).Err(err).Msg("Failed to create webhook request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Warn().Str("webhook", wh.Name).Err(err).Msg("Failed to deliver alert")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn().Str("webhook", wh.Name).Int("status", resp.StatusCode).Msg("Webhook rejected alert")
	}
}

// severityForResult maps risk categories to alert severities. Only the
// two highest-risk bands alert; low-confidence High Risk wallets are
// downgraded since their score rests mostly on defaults.
func severityForResult(r *models.RiskResult) string {
	switch r.Category {
	case models.CategoryVeryHigh:
		return SeverityCritical
	case models.CategoryHigh:
		if r.LowConfidence {
			return SeverityMedium
		}
		return SeverityHigh
	default:
		return SeverityInfo
	}
}

func severityMeetsThreshold(severity, minimum string) bool {
	levels := map[string]int{
		SeverityInfo: 0, "low": 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4,
	}
	return levels[severity] >= levels[minimum]
}

func buildDescription(r *models.RiskResult) string {
	desc := fmt.Sprintf("Composite risk %.3f, final risk %.3f, anomaly %.3f.",
		r.CompositeRisk, r.FinalRisk, r.AnomalyScore)
	if r.Breakdown != nil {
		if r.Breakdown.LiquidationRisk > 0.5 {
			desc += " Elevated liquidation history."
		}
		if r.Breakdown.BehavioralRisk > 0.5 {
			desc += " Bot-like behavioral signals."
		}
		if r.Breakdown.FinancialHealth < 0.5 {
			desc += " Weak financial health."
		}
	}
	if r.LowConfidence {
		desc += " Low-confidence score (sparse history)."
	}
	return desc
}
