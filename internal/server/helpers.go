package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"PariLedger/internal/market"
	"PariLedger/internal/vault"
)

// writeJSON marshals v as JSON and writes it with the given status code.
// If marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps the engine's error taxonomy to HTTP statuses:
// input 400, authorization 403, not-found 404, state 409.
func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, engineStatus(err), err.Error())
}

func engineStatus(err error) int {
	switch {
	case errors.Is(err, market.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, market.ErrZeroAmount),
		errors.Is(err, market.ErrAssetNotAllowed),
		errors.Is(err, market.ErrAssetMismatch),
		errors.Is(err, market.ErrNoAssets),
		errors.Is(err, market.ErrInvalidWindow),
		errors.Is(err, market.ErrInvalidSide),
		errors.Is(err, market.ErrInvalidOutcome),
		errors.Is(err, market.ErrRakeTooHigh):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrBettingClosed),
		errors.Is(err, market.ErrAlreadyClosed),
		errors.Is(err, market.ErrTooEarly),
		errors.Is(err, market.ErrAlreadyResolved),
		errors.Is(err, market.ErrNotResolved),
		errors.Is(err, market.ErrAlreadyClaimed),
		errors.Is(err, market.ErrNoDeposit),
		errors.Is(err, market.ErrNoWinningDeposit),
		errors.Is(err, market.ErrRefundTooEarly),
		errors.Is(err, market.ErrDuplicateMarket),
		errors.Is(err, vault.ErrInsufficientFunds):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseAddress parses a 0x-prefixed hex address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAmount parses a non-empty decimal amount string.
func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	out, ok := new(big.Int).SetString(s, 10)
	return out, ok
}

func parseSide(s string) (market.Side, bool) {
	switch strings.ToLower(s) {
	case "up":
		return market.SideUp, true
	case "down":
		return market.SideDown, true
	default:
		return 0, false
	}
}

func parseOutcome(s string) (market.Outcome, bool) {
	switch strings.ToLower(s) {
	case "up":
		return market.OutcomeUp, true
	case "down":
		return market.OutcomeDown, true
	default:
		return 0, false
	}
}

func parseWindowType(s string) (market.WindowType, bool) {
	switch strings.ToLower(s) {
	case "daily":
		return market.WindowDaily, true
	case "weekly":
		return market.WindowWeekly, true
	case "monthly":
		return market.WindowMonthly, true
	default:
		return 0, false
	}
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int64) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
