// Package registry creates and indexes settlement markets, one per
// (pair, window type, start time) key.
package registry

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"PariLedger/internal/event"
	"PariLedger/internal/market"
)

// Key identifies at most one market.
type Key struct {
	PairID     common.Hash
	WindowType market.WindowType
	StartTime  int64
}

// Addr derives the market address from the key. The derivation is
// deterministic so restarts and external indexers agree on identity.
func (k Key) Addr() common.Address {
	buf := make([]byte, 0, 32+4+8)
	buf = append(buf, k.PairID.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(k.WindowType))
	buf = binary.BigEndian.AppendUint64(buf, uint64(k.StartTime))
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}

// CreateParams carries everything Create needs beyond the key. Resolution
// happens at EndTime; the betting close is derived from it.
type CreateParams struct {
	Key     Key
	EndTime int64
	RakeBps uint16
	Assets  []market.AssetInfo
}

// Registry is the market factory and index. Creation is admin gated; markets
// are create-or-fail, never overwritten. Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	admin   common.Address
	custody market.Custodian
	sink    market.FactSink

	byKey  map[Key]*market.Market
	byAddr map[common.Address]*market.Market
	byPair map[common.Hash][]*market.Market
	all    []*market.Market
}

func New(admin common.Address, custody market.Custodian, sink market.FactSink) *Registry {
	return &Registry{
		admin:   admin,
		custody: custody,
		sink:    sink,
		byKey:   make(map[Key]*market.Market),
		byAddr:  make(map[common.Address]*market.Market),
		byPair:  make(map[common.Hash][]*market.Market),
	}
}

func (r *Registry) Admin() common.Address { return r.admin }

// Create validates, constructs, and indexes a new market for params.Key.
// Fails with ErrDuplicateMarket when the key is taken.
func (r *Registry) Create(now int64, caller common.Address, params CreateParams) (*market.Market, error) {
	if caller != r.admin {
		return nil, market.ErrNotAuthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKey[params.Key]; ok {
		return nil, market.ErrDuplicateMarket
	}

	cfg := market.Config{
		Addr:           params.Key.Addr(),
		PairID:         params.Key.PairID,
		WindowType:     params.Key.WindowType,
		StartTime:      params.Key.StartTime,
		EndTime:        params.EndTime,
		ResolutionTime: params.EndTime,
		RakeBps:        params.RakeBps,
		Admin:          r.admin,
		Assets:         params.Assets,
	}
	m, err := market.New(cfg, now, r.custody, r.sink)
	if err != nil {
		return nil, err
	}

	r.byKey[params.Key] = m
	r.byAddr[cfg.Addr] = m
	r.byPair[params.Key.PairID] = append(r.byPair[params.Key.PairID], m)
	r.all = append(r.all, m)

	if r.sink != nil {
		r.sink.Record(&event.MarketCreated{
			MarketAddr: cfg.Addr,
			PairID:     cfg.PairID,
			WindowType: int32(cfg.WindowType),
			StartTime:  cfg.StartTime,
			EndTime:    cfg.EndTime,
			RakeBps:    cfg.RakeBps,
		})
	}
	return m, nil
}

// Lookup returns the market at addr.
func (r *Registry) Lookup(addr common.Address) (*market.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byAddr[addr]
	if !ok {
		return nil, market.ErrMarketNotFound
	}
	return m, nil
}

// ByKey returns the market for key, if any.
func (r *Registry) ByKey(key Key) (*market.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byKey[key]
	if !ok {
		return nil, market.ErrMarketNotFound
	}
	return m, nil
}

// ByPair returns the pair's markets in creation order.
func (r *Registry) ByPair(pairID common.Hash) []*market.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*market.Market, len(r.byPair[pairID]))
	copy(out, r.byPair[pairID])
	return out
}

// All returns every market in creation order.
func (r *Registry) All() []*market.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*market.Market, len(r.all))
	copy(out, r.all)
	return out
}

// Count reports how many markets have been created.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}
