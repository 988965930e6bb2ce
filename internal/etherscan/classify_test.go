package etherscan

import (
	"testing"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

func TestIsCompoundContract(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		expected bool
	}{
		{"cDAI lowercase", "0x5d3a536e4d6dbd6114cc1ead35777bab948e3643", true},
		{"cDAI checksummed", "0x5d3A536E4D6DbD6114cc1Ead35777bAB948E3643", true},
		{"Comptroller", "0x3d9819210a31b4961b30ef54be2aed79b9c9cd3b", true},
		{"Comet USDC", "0xc3d688b66703497daa19211eedff47f25384cae7", true},
		{"random address", "0x000000000000000000000000000000000000dead", false},
		{"empty address", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCompoundContract(tt.address); got != tt.expected {
				t.Errorf("IsCompoundContract(%q) = %v, want %v", tt.address, got, tt.expected)
			}
		})
	}
}

func TestClassifyAction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hasValue bool
		expected models.EventType
	}{
		{"mint with amount", "0xa0712d68" + pad64("0de0b6b3a7640000"), false, models.EventMint},
		{"payable mint", "0x1249c58b", true, models.EventMint},
		{"redeem", "0xdb006a75" + pad64("01"), false, models.EventRedeem},
		{"redeemUnderlying collapses to redeem", "0x852a12e3" + pad64("01"), false, models.EventRedeem},
		{"borrow", "0xc5ebeaec" + pad64("01"), false, models.EventBorrow},
		{"repayBorrow", "0x0e752702" + pad64("01"), false, models.EventRepay},
		{"repayBorrowBehalf collapses to repay", "0x2608f818" + pad64("01"), false, models.EventRepay},
		{"liquidateBorrow", "0x47ef3b3b" + pad64("01"), false, models.EventLiquidation},
		{"enterMarkets is other", "0x317b0b77" + pad64("01"), false, models.EventOther},
		{"uppercase selector", "0xA0712D68" + pad64("01"), false, models.EventMint},
		{"unknown selector no value", "0xdeadbeef" + pad64("01"), false, models.EventOther},
		{"plain ETH transfer to cETH", "0x", true, models.EventMint},
		{"empty calldata no value", "", false, models.EventOther},
		{"truncated calldata", "0xa071", false, models.EventOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyAction(tt.input, tt.hasValue); got != tt.expected {
				t.Errorf("ClassifyAction(%q, %v) = %q, want %q", tt.input, tt.hasValue, got, tt.expected)
			}
		})
	}
}

// pad64 left-pads a hex word to the 32-byte calldata slot width.
func pad64(hex string) string {
	for len(hex) < 64 {
		hex = "0" + hex
	}
	return hex
}
