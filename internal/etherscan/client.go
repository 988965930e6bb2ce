package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

// Etherscan Data Provider
//
// The input collaborator in front of the scoring engine: fetches each
// wallet's regular, internal and token transactions from the Etherscan
// account API, filters them down to Compound protocol interactions,
// classifies the calldata, deduplicates by hash and hands the engine a
// normalized event history.
//
// Transport discipline: a token-bucket rate limiter keeps the client
// inside the API quota, a circuit breaker trips after consecutive
// upstream failures, and each request retries with backoff. A wallet
// whose fetch ultimately fails degrades to an empty history — the
// batch keeps going and the wallet is scored on neutral defaults.

const (
	DefaultBaseURL = "https://api.etherscan.io/api"
	pageSize       = 1000
	maxRetries     = 3
	weiPerEther    = 1e18
)

type Config struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "etherscan",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker: breaker,
	}
}

// accountTx is the Etherscan account-API transaction shape. All fields
// arrive as strings.
type accountTx struct {
	Hash            string `json:"hash"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	Input           string `json:"input"`
	ContractAddress string `json:"contractAddress"`
	TokenDecimal    string `json:"tokenDecimal"`
}

type accountResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// FetchWalletHistory retrieves and normalizes one wallet's Compound
// event history.
func (c *Client) FetchWalletHistory(ctx context.Context, address string) (models.WalletHistory, error) {
	address = strings.ToLower(address)
	history := models.WalletHistory{WalletID: address}

	var all []accountTx
	for _, action := range []string{"txlist", "txlistinternal", "tokentx"} {
		txs, err := c.fetchAccountAction(ctx, address, action)
		if err != nil {
			return history, fmt.Errorf("fetch %s for %s: %w", action, address, err)
		}
		all = append(all, txs...)
	}

	seen := map[string]bool{}
	for _, tx := range all {
		if !IsCompoundContract(tx.To) && !IsCompoundContract(tx.From) && !IsCompoundContract(tx.ContractAddress) {
			continue
		}
		if tx.Hash == "" || seen[tx.Hash] {
			continue
		}
		seen[tx.Hash] = true
		history.Events = append(history.Events, normalizeTx(address, tx))
	}

	sort.Slice(history.Events, func(i, j int) bool {
		return history.Events[i].Timestamp.Before(history.Events[j].Timestamp)
	})

	log.Debug().Str("wallet", address).Int("events", len(history.Events)).
		Msg("Fetched wallet history")
	return history, nil
}

// FetchWallets retrieves histories for a batch of addresses. A wallet
// whose fetch fails degrades to an empty history rather than failing
// the batch; only context cancellation stops the loop.
func (c *Client) FetchWallets(ctx context.Context, addresses []string) ([]models.WalletHistory, error) {
	histories := make([]models.WalletHistory, 0, len(addresses))
	for i, address := range addresses {
		if err := ctx.Err(); err != nil {
			return histories, err
		}

		history, err := c.FetchWalletHistory(ctx, address)
		if err != nil {
			log.Warn().Str("wallet", address).Err(err).
				Msg("Wallet fetch failed, scoring on empty history")
			history = models.WalletHistory{WalletID: strings.ToLower(address)}
		}
		histories = append(histories, history)

		if (i+1)%10 == 0 {
			log.Info().Int("done", i+1).Int("total", len(addresses)).Msg("Fetching wallet data")
		}
	}
	return histories, nil
}

func (c *Client) fetchAccountAction(ctx context.Context, address, action string) ([]accountTx, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", address)
	params.Set("startblock", "0")
	params.Set("endblock", "latest")
	params.Set("page", "1")
	params.Set("offset", strconv.Itoa(pageSize))
	params.Set("sort", "asc")
	if c.cfg.APIKey != "" {
		params.Set("apikey", c.cfg.APIKey)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		txs, err := c.doRequest(ctx, params)
		if err == nil {
			return txs, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, params url.Values) ([]accountTx, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("etherscan returned status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		var parsed accountResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode etherscan response: %w", err)
		}
		// Status "0" with an empty result means no transactions, not an
		// error; a real failure carries a string message in result.
		if parsed.Status != "1" {
			var txs []accountTx
			if err := json.Unmarshal(parsed.Result, &txs); err == nil {
				return txs, nil
			}
			return nil, fmt.Errorf("etherscan error: %s", parsed.Message)
		}

		var txs []accountTx
		if err := json.Unmarshal(parsed.Result, &txs); err != nil {
			return nil, fmt.Errorf("decode etherscan result: %w", err)
		}
		return txs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]accountTx), nil
}

// normalizeTx converts a raw Etherscan row into a scoring event.
func normalizeTx(wallet string, tx accountTx) models.TransactionEvent {
	ts, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)
	gasUsed, _ := strconv.ParseUint(tx.GasUsed, 10, 64)

	valueWei, _ := strconv.ParseFloat(tx.Value, 64)
	decimals := 18.0
	if tx.TokenDecimal != "" {
		if d, err := strconv.ParseFloat(tx.TokenDecimal, 64); err == nil && d > 0 {
			decimals = d
		}
	}
	amount := valueWei / math.Pow(10, decimals)

	return models.TransactionEvent{
		WalletID:  wallet,
		TxHash:    tx.Hash,
		Timestamp: time.Unix(ts, 0).UTC(),
		EventType: ClassifyAction(tx.Input, valueWei > 0),
		Amount:    amount,
		GasUsed:   gasUsed,
		Success:   tx.IsError != "1",
	}
}
