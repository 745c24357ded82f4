// Package market implements a single parimutuel UP/DOWN settlement instance.
//
// Each instance owns its own ledger: per-user stakes normalized to 18
// fraction digits, side accumulators, and a time-gated state machine
// Open -> BettingClosed -> Resolved (with an emergency refund escape when
// resolution never arrives). The instance never reads the wall clock;
// callers pass `now` (unix seconds) into every time-gated operation.
package market

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"PariLedger/internal/event"
	pmath "PariLedger/internal/math"
)

const (
	// BettingBuffer is the gap between betting close and window end.
	BettingBuffer = 600

	// RefundDelay is how long after resolutionTime the emergency refund
	// path stays shut while a resolution is still possible.
	RefundDelay = 7 * 24 * 3600

	// MaxRakeBps caps the rake at 10%.
	MaxRakeBps = 1000
)

// Custodian moves asset balances on behalf of the engine. Amounts are raw
// (asset-native precision). Implementations must be safe for concurrent use.
type Custodian interface {
	TransferFrom(asset, from, to common.Address, amount *big.Int) error
	Transfer(asset, from, to common.Address, amount *big.Int) error
	BalanceOf(asset, holder common.Address) *big.Int
}

// FactSink receives facts after the state change they describe is committed.
type FactSink interface {
	Record(fact event.Fact)
}

// Config fixes the immutable parameters of a settlement instance.
type Config struct {
	Addr           common.Address
	PairID         common.Hash
	WindowType     WindowType
	StartTime      int64
	EndTime        int64
	ResolutionTime int64
	RakeBps        uint16
	Admin          common.Address
	Assets         []AssetInfo
}

// BettingCloseTime is EndTime minus the fixed buffer.
func (c Config) BettingCloseTime() int64 { return c.EndTime - BettingBuffer }

// Market is a single settlement instance. All exported methods serialize on
// an internal mutex; every failed precondition leaves state untouched.
type Market struct {
	mu sync.Mutex

	cfg      Config
	assets   map[common.Address]uint8
	custody  Custodian
	sink     FactSink

	bettingClosed bool
	resolved      bool
	resolution    Resolution

	totalUp   *big.Int
	totalDown *big.Int
	users     map[common.Address]*UserRecord
	order     []common.Address
}

// New validates cfg and returns a fresh instance in the Open state.
// now is the creation timestamp used for the in-the-future checks.
func New(cfg Config, now int64, custody Custodian, sink FactSink) (*Market, error) {
	if cfg.RakeBps > MaxRakeBps {
		return nil, ErrRakeTooHigh
	}
	if len(cfg.Assets) == 0 {
		return nil, ErrNoAssets
	}
	if !cfg.WindowType.Valid() {
		return nil, ErrInvalidWindow
	}
	if cfg.StartTime >= cfg.EndTime ||
		cfg.ResolutionTime <= cfg.BettingCloseTime() ||
		cfg.BettingCloseTime() <= now ||
		cfg.ResolutionTime <= now {
		return nil, ErrInvalidWindow
	}

	assets := make(map[common.Address]uint8, len(cfg.Assets))
	for _, a := range cfg.Assets {
		if a.Decimals > pmath.NormalizedDecimals {
			return nil, fmt.Errorf("asset %s: %w", a.Addr.Hex(), ErrAssetNotAllowed)
		}
		assets[a.Addr] = a.Decimals
	}

	return &Market{
		cfg:       cfg,
		assets:    assets,
		custody:   custody,
		sink:      sink,
		totalUp:   new(big.Int),
		totalDown: new(big.Int),
		users:     make(map[common.Address]*UserRecord),
	}, nil
}

func (m *Market) Config() Config       { return m.cfg }
func (m *Market) Addr() common.Address { return m.cfg.Addr }

// Deposit pulls amount (raw, asset precision) from user and records the
// normalized stake on side. A user's asset is pinned by their first deposit.
func (m *Market) Deposit(now int64, user common.Address, side Side, asset common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if !side.Valid() {
		return ErrInvalidSide
	}
	if m.bettingClosed || now >= m.cfg.BettingCloseTime() {
		return ErrBettingClosed
	}
	decimals, ok := m.assets[asset]
	if !ok {
		return ErrAssetNotAllowed
	}
	rec := m.users[user]
	if rec != nil && rec.Total().Sign() > 0 && rec.Asset != asset {
		return ErrAssetMismatch
	}

	// Pull before recording so a failed transfer leaves nothing behind.
	if err := m.custody.TransferFrom(asset, user, m.cfg.Addr, amount); err != nil {
		return fmt.Errorf("deposit transfer: %w", err)
	}

	if rec == nil {
		rec = newUserRecord()
		m.users[user] = rec
		m.order = append(m.order, user)
	}
	rec.Asset = asset

	norm := pmath.Normalize(amount, decimals)
	if side == SideUp {
		rec.Up.Add(rec.Up, norm)
		m.totalUp.Add(m.totalUp, norm)
	} else {
		rec.Down.Add(rec.Down, norm)
		m.totalDown.Add(m.totalDown, norm)
	}

	m.emit(&event.Deposited{
		MarketAddr: m.cfg.Addr,
		User:       user,
		Side:       int32(side),
		Asset:      asset,
		Amount:     new(big.Int).Set(amount),
		Decimals:   decimals,
	})
	return nil
}

// CloseBetting flips the betting gate. Anyone may close once the close time
// has passed; before then only the admin can close early.
func (m *Market) CloseBetting(now int64, caller common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bettingClosed {
		return ErrAlreadyClosed
	}
	if now < m.cfg.BettingCloseTime() && caller != m.cfg.Admin {
		return ErrNotAuthorized
	}

	m.bettingClosed = true
	m.emit(&event.BettingClosed{MarketAddr: m.cfg.Addr})
	return nil
}

// Resolve records the terminal outcome. Betting is closed implicitly if the
// close entry point was never called.
func (m *Market) Resolve(now int64, caller common.Address, outcome Outcome, openRef, closeRef int64, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.cfg.Admin {
		return ErrNotAuthorized
	}
	if m.resolved {
		return ErrAlreadyResolved
	}
	if now < m.cfg.ResolutionTime {
		return ErrTooEarly
	}
	if !outcome.Valid() {
		return ErrInvalidOutcome
	}

	m.bettingClosed = true
	m.resolved = true
	m.resolution = Resolution{
		Outcome:        outcome,
		OpenReference:  openRef,
		CloseReference: closeRef,
		SourceID:       sourceID,
		ResolvedAt:     now,
	}

	m.emit(&event.Resolved{
		MarketAddr:     m.cfg.Addr,
		Outcome:        int32(outcome),
		OpenReference:  openRef,
		CloseReference: closeRef,
		SourceID:       sourceID,
	})
	return nil
}

// Claim pays out user's share of the raked pool, in their pinned asset.
// Both divisions truncate; the remainder stays in custody. Returns the
// normalized payout.
func (m *Market) Claim(user common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.resolved {
		return nil, ErrNotResolved
	}
	rec := m.users[user]
	if rec == nil || rec.Total().Sign() == 0 {
		return nil, ErrNoWinningDeposit
	}
	if rec.Claimed {
		return nil, ErrAlreadyClaimed
	}

	winAmt, sideTotal := rec.Up, m.totalUp
	if m.resolution.Outcome.WinningSide() == SideDown {
		winAmt, sideTotal = rec.Down, m.totalDown
	}
	if winAmt.Sign() == 0 {
		return nil, ErrNoWinningDeposit
	}

	pool := new(big.Int).Add(m.totalUp, m.totalDown)
	payoutPool := pmath.ApplyRake(pool, m.cfg.RakeBps)
	payout := pmath.MulDiv(payoutPool, winAmt, sideTotal)

	rec.Claimed = true

	raw := pmath.Denormalize(payout, m.assets[rec.Asset])
	if err := m.custody.Transfer(rec.Asset, m.cfg.Addr, user, raw); err != nil {
		rec.Claimed = false
		return nil, fmt.Errorf("claim transfer: %w", err)
	}

	m.emit(&event.Claimed{
		MarketAddr: m.cfg.Addr,
		User:       user,
		Asset:      rec.Asset,
		Payout:     new(big.Int).Set(raw),
	})
	return payout, nil
}

// EmergencyRefund returns user's full principal once the refund window opens
// on an unresolved market. The user's record is zeroed so the path cannot be
// taken twice. Returns the normalized principal.
func (m *Market) EmergencyRefund(now int64, user common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolved {
		return nil, ErrAlreadyResolved
	}
	if now < m.cfg.ResolutionTime+RefundDelay {
		return nil, ErrRefundTooEarly
	}
	rec := m.users[user]
	if rec == nil || rec.Total().Sign() == 0 {
		return nil, ErrNoDeposit
	}

	up := new(big.Int).Set(rec.Up)
	down := new(big.Int).Set(rec.Down)
	principal := new(big.Int).Add(up, down)

	m.totalUp.Sub(m.totalUp, up)
	m.totalDown.Sub(m.totalDown, down)
	rec.Up.SetInt64(0)
	rec.Down.SetInt64(0)

	raw := pmath.Denormalize(principal, m.assets[rec.Asset])
	if err := m.custody.Transfer(rec.Asset, m.cfg.Addr, user, raw); err != nil {
		rec.Up.Set(up)
		rec.Down.Set(down)
		m.totalUp.Add(m.totalUp, up)
		m.totalDown.Add(m.totalDown, down)
		return nil, fmt.Errorf("refund transfer: %w", err)
	}

	m.emit(&event.Refunded{
		MarketAddr: m.cfg.Addr,
		User:       user,
		Asset:      rec.Asset,
		Up:         up,
		Down:       down,
		Amount:     new(big.Int).Set(raw),
	})
	return principal, nil
}

// WithdrawRake sweeps the instance's remaining balance of asset to the
// admin. It requires resolution but does not wait for all claims; sweeping
// before winners have claimed takes their payouts with it.
func (m *Market) WithdrawRake(caller, asset common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.cfg.Admin {
		return nil, ErrNotAuthorized
	}
	if !m.resolved {
		return nil, ErrNotResolved
	}
	if _, ok := m.assets[asset]; !ok {
		return nil, ErrAssetNotAllowed
	}

	amount := m.custody.BalanceOf(asset, m.cfg.Addr)
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	if err := m.custody.Transfer(asset, m.cfg.Addr, m.cfg.Admin, amount); err != nil {
		return nil, fmt.Errorf("rake transfer: %w", err)
	}

	m.emit(&event.RakeCollected{
		MarketAddr: m.cfg.Addr,
		Asset:      asset,
		Amount:     new(big.Int).Set(amount),
	})
	return amount, nil
}

// Multiplier returns the 1e18-scaled payout-per-unit for side under the
// current pool. 1e18 when the pool is empty, 0 when the pool is funded but
// side is empty.
func (m *Market) Multiplier(side Side) (*big.Int, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pool := new(big.Int).Add(m.totalUp, m.totalDown)
	sideTotal := m.totalUp
	if side == SideDown {
		sideTotal = m.totalDown
	}
	return pmath.Multiplier(pool, sideTotal, m.cfg.RakeBps), nil
}

// View is a read-only snapshot for the query surface. Amounts are decimal
// strings at normalized precision.
type View struct {
	Addr           common.Address `json:"addr"`
	PairID         common.Hash    `json:"pair_id"`
	WindowType     string         `json:"window_type"`
	StartTime      int64          `json:"start_time"`
	EndTime        int64          `json:"end_time"`
	BettingClose   int64          `json:"betting_close_time"`
	ResolutionTime int64          `json:"resolution_time"`
	RakeBps        uint16         `json:"rake_bps"`
	BettingClosed  bool           `json:"betting_closed"`
	Resolved       bool           `json:"resolved"`
	Outcome        string         `json:"outcome"`
	TotalUp        string         `json:"total_up"`
	TotalDown      string         `json:"total_down"`
	Depositors     int            `json:"depositors"`
}

func (m *Market) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	return View{
		Addr:           m.cfg.Addr,
		PairID:         m.cfg.PairID,
		WindowType:     m.cfg.WindowType.String(),
		StartTime:      m.cfg.StartTime,
		EndTime:        m.cfg.EndTime,
		BettingClose:   m.cfg.BettingCloseTime(),
		ResolutionTime: m.cfg.ResolutionTime,
		RakeBps:        m.cfg.RakeBps,
		BettingClosed:  m.bettingClosed,
		Resolved:       m.resolved,
		Outcome:        m.resolution.Outcome.String(),
		TotalUp:        m.totalUp.String(),
		TotalDown:      m.totalDown.String(),
		Depositors:     len(m.users),
	}
}

// UserView is a depositor's position snapshot.
type UserView struct {
	User    common.Address `json:"user"`
	Asset   common.Address `json:"asset"`
	Up      string         `json:"up"`
	Down    string         `json:"down"`
	Claimed bool           `json:"claimed"`
}

func (m *Market) UserSnapshot(user common.Address) (UserView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.users[user]
	if rec == nil {
		return UserView{}, ErrNoDeposit
	}
	return UserView{
		User:    user,
		Asset:   rec.Asset,
		Up:      rec.Up.String(),
		Down:    rec.Down.String(),
		Claimed: rec.Claimed,
	}, nil
}

// Validate cross-checks the side accumulators against the per-user records.
func (m *Market) Validate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sumUp := new(big.Int)
	sumDown := new(big.Int)
	for _, rec := range m.users {
		sumUp.Add(sumUp, rec.Up)
		sumDown.Add(sumDown, rec.Down)
	}
	if sumUp.Cmp(m.totalUp) != 0 {
		return fmt.Errorf("up accumulator %s != user sum %s", m.totalUp, sumUp)
	}
	if sumDown.Cmp(m.totalDown) != 0 {
		return fmt.Errorf("down accumulator %s != user sum %s", m.totalDown, sumDown)
	}
	return nil
}

func (m *Market) emit(fact event.Fact) {
	if m.sink != nil {
		m.sink.Record(fact)
	}
}
