package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FactType discriminator for emitted facts.
type FactType int32

const (
	FactTypeUnknown FactType = iota
	FactTypeMarketCreated
	FactTypeDeposited
	FactTypeBettingClosed
	FactTypeResolved
	FactTypeClaimed
	FactTypeRefunded
	FactTypeRakeCollected
)

func (ft FactType) String() string {
	switch ft {
	case FactTypeMarketCreated:
		return "MarketCreated"
	case FactTypeDeposited:
		return "Deposited"
	case FactTypeBettingClosed:
		return "BettingClosed"
	case FactTypeResolved:
		return "Resolved"
	case FactTypeClaimed:
		return "Claimed"
	case FactTypeRefunded:
		return "Refunded"
	case FactTypeRakeCollected:
		return "RakeCollected"
	default:
		return "Unknown"
	}
}

// Fact is a read-only, order-significant statement of something the engine
// has already committed. Facts are emitted after state changes, never before.
type Fact interface {
	FactType() FactType

	// Market returns the settlement instance the fact belongs to.
	Market() common.Address
}

// MarketCreated is emitted by the registry for every new instance.
type MarketCreated struct {
	MarketAddr common.Address `json:"market"`
	PairID     common.Hash    `json:"pair_id"`
	WindowType int32          `json:"window_type"`
	StartTime  int64          `json:"start_time"`
	EndTime    int64          `json:"end_time"`
	RakeBps    uint16         `json:"rake_bps"`
}

func (f *MarketCreated) FactType() FactType     { return FactTypeMarketCreated }
func (f *MarketCreated) Market() common.Address { return f.MarketAddr }

// Deposited carries the stake in the asset's native precision. Decimals lets
// consumers normalize without an asset registry of their own.
type Deposited struct {
	MarketAddr common.Address `json:"market"`
	User       common.Address `json:"user"`
	Side       int32          `json:"side"`
	Asset      common.Address `json:"asset"`
	Amount     *big.Int       `json:"amount"`
	Decimals   uint8          `json:"decimals"`
}

func (f *Deposited) FactType() FactType     { return FactTypeDeposited }
func (f *Deposited) Market() common.Address { return f.MarketAddr }

type BettingClosed struct {
	MarketAddr common.Address `json:"market"`
}

func (f *BettingClosed) FactType() FactType     { return FactTypeBettingClosed }
func (f *BettingClosed) Market() common.Address { return f.MarketAddr }

type Resolved struct {
	MarketAddr     common.Address `json:"market"`
	Outcome        int32          `json:"outcome"`
	OpenReference  int64          `json:"open_reference"`
	CloseReference int64          `json:"close_reference"`
	SourceID       string         `json:"source_id"`
}

func (f *Resolved) FactType() FactType     { return FactTypeResolved }
func (f *Resolved) Market() common.Address { return f.MarketAddr }

// Claimed carries the payout in the winner's asset-native precision.
type Claimed struct {
	MarketAddr common.Address `json:"market"`
	User       common.Address `json:"user"`
	Asset      common.Address `json:"asset"`
	Payout     *big.Int       `json:"payout"`
}

func (f *Claimed) FactType() FactType     { return FactTypeClaimed }
func (f *Claimed) Market() common.Address { return f.MarketAddr }

// Refunded is emitted when a depositor takes the emergency-refund escape.
// Up and Down are the normalized principal removed per side; Amount is the
// transferred total in the user's asset-native precision.
type Refunded struct {
	MarketAddr common.Address `json:"market"`
	User       common.Address `json:"user"`
	Asset      common.Address `json:"asset"`
	Up         *big.Int       `json:"up"`
	Down       *big.Int       `json:"down"`
	Amount     *big.Int       `json:"amount"`
}

func (f *Refunded) FactType() FactType     { return FactTypeRefunded }
func (f *Refunded) Market() common.Address { return f.MarketAddr }

// RakeCollected carries the swept amount in asset-native precision.
type RakeCollected struct {
	MarketAddr common.Address `json:"market"`
	Asset      common.Address `json:"asset"`
	Amount     *big.Int       `json:"amount"`
}

func (f *RakeCollected) FactType() FactType     { return FactTypeRakeCollected }
func (f *RakeCollected) Market() common.Address { return f.MarketAddr }
