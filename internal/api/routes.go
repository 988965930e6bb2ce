package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/compound-risk-engine/internal/alerts"
	"github.com/rawblock/compound-risk-engine/internal/db"
	"github.com/rawblock/compound-risk-engine/internal/etherscan"
	"github.com/rawblock/compound-risk-engine/internal/scoring"
	"github.com/rawblock/compound-risk-engine/pkg/models"
)

type APIHandler struct {
	dbStore  *db.PostgresStore
	provider *etherscan.Client
	pipeline *scoring.Pipeline
	wsHub    *Hub
	alerts   *alerts.Manager
}

func SetupRouter(dbStore *db.PostgresStore, provider *etherscan.Client, pipeline *scoring.Pipeline, wsHub *Hub, alertMgr *alerts.Manager) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://rawblock.net,https://www.rawblock.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{dbStore: dbStore, provider: provider, pipeline: pipeline, wsHub: wsHub, alerts: alertMgr}

	limiter := NewRateLimiter(60, 10)

	api := r.Group("/api/v1")
	{
		// Public endpoints
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)

		// Protected endpoints
		protected := api.Group("")
		protected.Use(AuthMiddleware(), limiter.Middleware())
		{
			protected.POST("/score", handler.handleScoreHistories)
			protected.POST("/runs", handler.handleStartRun)
			protected.GET("/runs/:id", handler.handleGetRun)
			protected.GET("/wallets/:address", handler.handleGetWallet)
			protected.GET("/alerts", handler.handleGetAlerts)
		}
	}

	// Serve Static Dashboard
	r.Static("/dashboard", "./public")

	return r
}

// handleScoreHistories scores caller-supplied event histories without
// touching the chain data provider.
// POST /api/v1/score { "wallets": [{ "walletId": "0x..", "events": [...] }] }
func (h *APIHandler) handleScoreHistories(c *gin.Context) {
	var req struct {
		Wallets []models.WalletHistory `json:"wallets"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(req.Wallets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No wallets supplied"})
		return
	}

	run, err := h.pipeline.Run(c.Request.Context(), req.Wallets)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Scoring failed", "details": err.Error()})
		return
	}

	h.finishRun(c, run)
}

// handleStartRun fetches wallet histories from the chain data provider
// and scores them as one batch.
// POST /api/v1/runs { "addresses": ["0x..", "0x.."] }
func (h *APIHandler) handleStartRun(c *gin.Context) {
	if h.provider == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Chain data provider not configured"})
		return
	}

	var req struct {
		Addresses []string `json:"addresses"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {addresses}"})
		return
	}
	if len(req.Addresses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No addresses supplied"})
		return
	}

	wallets, err := h.provider.FetchWallets(c.Request.Context(), req.Addresses)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch wallet histories", "details": err.Error()})
		return
	}

	run, err := h.pipeline.Run(c.Request.Context(), wallets)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Scoring failed", "details": err.Error()})
		return
	}

	h.finishRun(c, run)
}

// finishRun persists, alerts, broadcasts and returns a completed run.
func (h *APIHandler) finishRun(c *gin.Context, run *models.ScoringRun) {
	if h.dbStore != nil {
		if err := h.dbStore.SaveRun(c.Request.Context(), run); err != nil {
			log.Error().Err(err).Str("run_id", run.RunID).Msg("Failed to persist scoring run")
		}
	}

	if h.alerts != nil {
		h.alerts.EmitFromRun(run)
	}

	if h.wsHub != nil {
		payload, _ := json.Marshal(gin.H{"type": "run_completed", "run": run})
		h.wsHub.Broadcast(payload)
	}

	c.JSON(http.StatusOK, run)
}

// handleGetRun returns the stored results of a past scoring run.
func (h *APIHandler) handleGetRun(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	runID := c.Param("id")
	results, err := h.dbStore.RunResults(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run", "details": err.Error()})
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runId":       runID,
		"walletCount": len(results),
		"results":     results,
	})
}

// handleGetWallet returns the most recent score for a wallet address.
func (h *APIHandler) handleGetWallet(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	address := strings.ToLower(c.Param("address"))
	result, err := h.dbStore.LatestWalletScore(c.Request.Context(), address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Wallet has no recorded score"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch wallet score", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleGetAlerts returns recent high-risk alerts, newest first.
// GET /api/v1/alerts?limit=50
func (h *APIHandler) handleGetAlerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Alerting not initialized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, gin.H{"alerts": h.alerts.GetRecentAlerts(limit)})
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "RawBlock Compound Risk Engine v1.0",
		"capabilities": gin.H{
			"feature_extraction": true,
			"anomaly_detection":  true,
			"batch_scoring":      true,
			"etherscan_ingest":   h.provider != nil,
		},
		"dbConnected": h.dbStore != nil,
	})
}

// BroadcastAlert adapts the websocket hub into the alert manager's
// broadcast callback.
func BroadcastAlert(wsHub *Hub) func(alerts.Alert) {
	return func(alert alerts.Alert) {
		payload := gin.H{
			"type":  "risk_alert",
			"alert": alert,
		}
		alertBytes, _ := json.Marshal(payload)
		wsHub.Broadcast(alertBytes)
	}
}
