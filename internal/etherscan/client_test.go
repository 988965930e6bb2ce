package etherscan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

func TestNormalizeTx(t *testing.T) {
	tx := accountTx{
		Hash:      "0xabc",
		TimeStamp: "1700000000",
		Value:     "2500000000000000000", // 2.5 ETH in Wei
		GasUsed:   "95000",
		IsError:   "0",
		Input:     "0xc5ebeaec" + pad64("01"),
	}

	ev := normalizeTx("0xwallet", tx)

	if ev.EventType != models.EventBorrow {
		t.Errorf("EventType = %q, want borrow", ev.EventType)
	}
	if ev.Amount != 2.5 {
		t.Errorf("Amount = %v, want 2.5", ev.Amount)
	}
	if ev.GasUsed != 95000 {
		t.Errorf("GasUsed = %d, want 95000", ev.GasUsed)
	}
	if !ev.Success {
		t.Error("IsError=0 must normalize to Success=true")
	}
	if got := ev.Timestamp; !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Timestamp = %v, want unix 1700000000", got)
	}
}

func TestNormalizeTxTokenDecimals(t *testing.T) {
	tx := accountTx{
		Hash:         "0xdef",
		TimeStamp:    "1700000000",
		Value:        "1500000", // 1.5 USDC at 6 decimals
		TokenDecimal: "6",
		IsError:      "0",
	}

	ev := normalizeTx("0xwallet", tx)
	if ev.Amount != 1.5 {
		t.Errorf("Amount = %v, want 1.5 with 6-decimal token", ev.Amount)
	}
}

func TestNormalizeTxFailedTransaction(t *testing.T) {
	ev := normalizeTx("0xwallet", accountTx{TimeStamp: "1700000000", IsError: "1", Value: "0"})
	if ev.Success {
		t.Error("IsError=1 must normalize to Success=false")
	}
	if ev.EventType != models.EventOther {
		t.Errorf("EventType = %q, want other for empty calldata", ev.EventType)
	}
}

// compoundTxJSON builds an Etherscan result row pointing at a Compound
// contract.
func compoundTxJSON(hash, selector, timestamp string) map[string]string {
	return map[string]string{
		"hash":      hash,
		"timeStamp": timestamp,
		"from":      "0xwallet",
		"to":        "0x5d3a536e4d6dbd6114cc1ead35777bab948e3643", // cDAI
		"value":     "1000000000000000000",
		"gasUsed":   "90000",
		"isError":   "0",
		"input":     selector + pad64("01"),
	}
}

func TestFetchWalletHistoryFiltersAndDedupes(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		action := r.URL.Query().Get("action")

		var rows []map[string]string
		switch action {
		case "txlist":
			rows = []map[string]string{
				compoundTxJSON("0xaaa", "0xa0712d68", "1700000200"), // mint
				compoundTxJSON("0xbbb", "0xc5ebeaec", "1700000100"), // borrow, earlier
				{ // not a Compound contract: filtered out
					"hash": "0xccc", "timeStamp": "1700000300",
					"to": "0x000000000000000000000000000000000000dead",
					"value": "1", "gasUsed": "21000", "isError": "0", "input": "0x",
				},
			}
		case "tokentx":
			// Duplicate hash of the mint above: dropped by dedup.
			rows = []map[string]string{
				compoundTxJSON("0xaaa", "0xa0712d68", "1700000200"),
			}
		default:
			rows = []map[string]string{}
		}

		result, _ := json.Marshal(rows)
		status := "1"
		if len(rows) == 0 {
			status = "0"
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  status,
			"message": "OK",
			"result":  json.RawMessage(result),
		})
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL, RequestsPerSecond: 1000})
	history, err := c.FetchWalletHistory(context.Background(), "0xWALLET")
	if err != nil {
		t.Fatalf("FetchWalletHistory() error: %v", err)
	}

	if history.WalletID != "0xwallet" {
		t.Errorf("WalletID = %q, want lowercased address", history.WalletID)
	}
	if len(history.Events) != 2 {
		t.Fatalf("Got %d events, want 2 (non-Compound filtered, duplicate deduped)", len(history.Events))
	}
	if history.Events[0].EventType != models.EventBorrow || history.Events[1].EventType != models.EventMint {
		t.Errorf("Events not sorted ascending by time: %q then %q",
			history.Events[0].EventType, history.Events[1].EventType)
	}
	if calls != 3 {
		t.Errorf("Made %d upstream calls, want 3 (txlist, txlistinternal, tokentx)", calls)
	}
}

func TestFetchWalletsEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Status "0" with an empty array is how Etherscan reports a
		// wallet with no transactions; it must not count as a failure.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "0", "message": "No transactions found", "result": json.RawMessage("[]"),
		})
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL, RequestsPerSecond: 1000})
	histories, err := c.FetchWallets(context.Background(), []string{"0xa", "0xb"})
	if err != nil {
		t.Fatalf("FetchWallets() error: %v", err)
	}
	if len(histories) != 2 {
		t.Fatalf("Got %d histories, want 2", len(histories))
	}
	for _, h := range histories {
		if len(h.Events) != 0 {
			t.Errorf("Wallet %s has %d events, want empty history", h.WalletID, len(h.Events))
		}
	}
}
