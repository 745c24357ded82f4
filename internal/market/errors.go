package market

import "errors"

// Input errors.
var (
	ErrZeroAmount      = errors.New("amount must be > 0")
	ErrAssetNotAllowed = errors.New("asset not allowed")
	ErrAssetMismatch   = errors.New("must use same asset")
	ErrNoAssets        = errors.New("no assets")
	ErrInvalidWindow   = errors.New("invalid window")
	ErrInvalidSide     = errors.New("invalid side")
	ErrInvalidOutcome  = errors.New("invalid outcome")
	ErrRakeTooHigh     = errors.New("rake too high")
)

// Authorization errors.
var (
	ErrNotAuthorized = errors.New("not authorized")
)

// State errors.
var (
	ErrBettingClosed    = errors.New("betting closed")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrTooEarly         = errors.New("too early")
	ErrAlreadyResolved  = errors.New("already resolved")
	ErrNotResolved      = errors.New("not resolved")
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrNoDeposit        = errors.New("no deposit")
	ErrNoWinningDeposit = errors.New("no winning deposit")
	ErrRefundTooEarly   = errors.New("refund window not open")
	ErrDuplicateMarket  = errors.New("market already exists")
	ErrMarketNotFound   = errors.New("market not found")
)
