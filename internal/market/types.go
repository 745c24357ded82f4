package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the direction a depositor backs.
type Side int32

const (
	SideUp   Side = 0
	SideDown Side = 1
)

func (s Side) Valid() bool { return s == SideUp || s == SideDown }

func (s Side) String() string {
	switch s {
	case SideUp:
		return "up"
	case SideDown:
		return "down"
	default:
		return "invalid"
	}
}

// Outcome is the resolved result of a window.
type Outcome int32

const (
	OutcomeUnresolved Outcome = 0
	OutcomeUp         Outcome = 1
	OutcomeDown       Outcome = 2
)

func (o Outcome) Valid() bool { return o == OutcomeUp || o == OutcomeDown }

func (o Outcome) String() string {
	switch o {
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeUp:
		return "up"
	case OutcomeDown:
		return "down"
	default:
		return "invalid"
	}
}

// WinningSide maps a terminal outcome to the side it pays.
func (o Outcome) WinningSide() Side {
	if o == OutcomeDown {
		return SideDown
	}
	return SideUp
}

// WindowType is the duration class of a settlement window.
type WindowType int32

const (
	WindowDaily   WindowType = 0
	WindowWeekly  WindowType = 1
	WindowMonthly WindowType = 2
)

func (w WindowType) Valid() bool {
	return w == WindowDaily || w == WindowWeekly || w == WindowMonthly
}

func (w WindowType) String() string {
	switch w {
	case WindowDaily:
		return "daily"
	case WindowWeekly:
		return "weekly"
	case WindowMonthly:
		return "monthly"
	default:
		return "invalid"
	}
}

// AssetInfo describes a depositable asset and its native precision.
type AssetInfo struct {
	Addr     common.Address
	Decimals uint8
}

// UserRecord tracks a single depositor's normalized stake on each side,
// the asset they deposited with, and whether they have settled.
type UserRecord struct {
	Up      *big.Int
	Down    *big.Int
	Asset   common.Address
	Claimed bool
}

func newUserRecord() *UserRecord {
	return &UserRecord{Up: new(big.Int), Down: new(big.Int)}
}

// Total returns the user's combined principal across both sides.
func (u *UserRecord) Total() *big.Int {
	return new(big.Int).Add(u.Up, u.Down)
}

// Resolution captures the oracle observation a market settled against.
type Resolution struct {
	Outcome        Outcome
	OpenReference  int64
	CloseReference int64
	SourceID       string
	ResolvedAt     int64
}
