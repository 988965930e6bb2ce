package etherscan

import (
	"strings"

	"github.com/rawblock/compound-risk-engine/pkg/models"
)

// Compound Action Classification
//
// Raw transactions carry only calldata; the scoring engine expects
// events tagged with protocol action types. Classification resolves the
// 4-byte method selector against the known Compound V2/V3 signatures
// and collapses protocol variants onto the engine's event set:
// redeemUnderlying counts as a redeem, repayBorrowBehalf as a repay.

// compoundContracts are the Compound V2/V3 addresses whose
// transactions are in scope (comptroller, the major cTokens, Comet).
var compoundContracts = map[string]bool{
	// V2
	"0x3d9819210a31b4961b30ef54be2aed79b9c9cd3b": true, // Comptroller
	"0x4ddc2d193948926d02f9b1fe9e1daa0718270ed5": true, // cETH
	"0x5d3a536e4d6dbd6114cc1ead35777bab948e3643": true, // cDAI
	"0x39aa39c021dfbae8fac545936693ac917d5e7563": true, // cUSDC
	"0xc11b1268c1a384e55c48c2391d8d480264a3a7f4": true, // cWBTC
	// V3
	"0xc3d688b66703497daa19211eedff47f25384cae7": true, // cUSDCv3
	"0xa17581a9e3356d9a858b789d68b4d866e593ae94": true, // cWETHv3
}

// methodActions maps 4-byte selectors to event types.
var methodActions = map[string]models.EventType{
	"0xa0712d68": models.EventMint,        // mint(uint256)
	"0x1249c58b": models.EventMint,        // mint()
	"0x6c540baf": models.EventMint,        // mint variant
	"0xdb006a75": models.EventRedeem,      // redeem(uint256)
	"0x852a12e3": models.EventRedeem,      // redeemUnderlying(uint256)
	"0xc5ebeaec": models.EventBorrow,      // borrow(uint256)
	"0x0e752702": models.EventRepay,       // repayBorrow(uint256)
	"0x4e4d9fea": models.EventRepay,       // repayBorrow()
	"0x2608f818": models.EventRepay,       // repayBorrowBehalf(address,uint256)
	"0x47ef3b3b": models.EventLiquidation, // liquidateBorrow(address,uint256,address)
	"0x317b0b77": models.EventOther,       // enterMarkets(address[])
	"0xede4edd0": models.EventOther,       // exitMarket(address)
}

// IsCompoundContract reports whether the address is a known Compound
// protocol contract.
func IsCompoundContract(address string) bool {
	return compoundContracts[strings.ToLower(address)]
}

// ClassifyAction resolves calldata into an event type. Transactions
// with no matching selector but a positive ETH value are treated as
// supply (mint); everything else unknown is EventOther.
func ClassifyAction(inputData string, hasValue bool) models.EventType {
	if inputData != "" && inputData != "0x" && len(inputData) >= 10 {
		if action, ok := methodActions[strings.ToLower(inputData[:10])]; ok {
			return action
		}
	}
	if hasValue {
		return models.EventMint
	}
	return models.EventOther
}
