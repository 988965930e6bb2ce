package models

import "time"

// EventType classifies a protocol interaction. Classification from raw
// contract calls happens upstream (the data provider resolves method
// signatures); the scoring engine only ever sees these tags.
type EventType string

const (
	EventMint        EventType = "mint"
	EventRedeem      EventType = "redeem"
	EventBorrow      EventType = "borrow"
	EventRepay       EventType = "repay"
	EventLiquidation EventType = "liquidation"
	EventTransfer    EventType = "transfer"
	EventOther       EventType = "other"
)

// ProtocolActions are the distinct action types counted toward action
// diversity (mint/redeem/borrow/repay/liquidation).
var ProtocolActions = []EventType{
	EventMint, EventRedeem, EventBorrow, EventRepay, EventLiquidation,
}

// TransactionEvent is one normalized, deduplicated protocol interaction.
// Owned by the caller and treated as immutable; may arrive unsorted.
type TransactionEvent struct {
	WalletID  string    `json:"walletId"`
	TxHash    string    `json:"txHash"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"eventType"`
	Amount    float64   `json:"amount"`  // Underlying asset amount (token units)
	GasUsed   uint64    `json:"gasUsed"`
	Success   bool      `json:"success"`
}

// WalletHistory pairs a wallet with its full event sequence for one run.
type WalletHistory struct {
	WalletID string             `json:"walletId"`
	Events   []TransactionEvent `json:"events"`
}
