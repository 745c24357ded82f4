package registry

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"PariLedger/internal/event"
	"PariLedger/internal/market"
	"PariLedger/internal/vault"
)

var (
	admin    = common.BytesToAddress([]byte{0xad})
	outsider = common.BytesToAddress([]byte{0x05})

	pairUSDCOP = crypto.Keccak256Hash([]byte("USD/COP"))
	pairUSDMXN = crypto.Keccak256Hash([]byte("USD/MXN"))

	cUSD = common.BytesToAddress([]byte{0x01})
)

type captureSink struct {
	facts []event.Fact
}

func (s *captureSink) Record(fact event.Fact) { s.facts = append(s.facts, fact) }

func testParams(pair common.Hash, start int64) CreateParams {
	return CreateParams{
		Key: Key{
			PairID:     pair,
			WindowType: market.WindowDaily,
			StartTime:  start,
		},
		EndTime: start + 86400,
		RakeBps: 300,
		Assets:  []market.AssetInfo{{Addr: cUSD, Decimals: 18}},
	}
}

func TestCreate(t *testing.T) {
	sink := &captureSink{}
	r := New(admin, vault.New(), sink)

	params := testParams(pairUSDCOP, 10_000)
	m, err := r.Create(100, admin, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Addr() != params.Key.Addr() {
		t.Errorf("market addr = %s, want %s", m.Addr().Hex(), params.Key.Addr().Hex())
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
	// Resolution coincides with the window's end.
	if got := m.Snapshot().ResolutionTime; got != params.EndTime {
		t.Errorf("resolution time = %d, want %d", got, params.EndTime)
	}

	if len(sink.facts) != 1 || sink.facts[0].FactType() != event.FactTypeMarketCreated {
		t.Fatalf("facts = %v, want one MarketCreated", sink.facts)
	}
	created := sink.facts[0].(*event.MarketCreated)
	if created.PairID != pairUSDCOP || created.MarketAddr != m.Addr() {
		t.Errorf("created fact = %+v", created)
	}
}

func TestCreateDuplicate(t *testing.T) {
	r := New(admin, vault.New(), nil)

	params := testParams(pairUSDCOP, 10_000)
	if _, err := r.Create(100, admin, params); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Create(100, admin, params); !errors.Is(err, market.ErrDuplicateMarket) {
		t.Fatalf("duplicate create: got %v, want %v", err, market.ErrDuplicateMarket)
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}
}

func TestCreateAuthorization(t *testing.T) {
	r := New(admin, vault.New(), nil)

	if _, err := r.Create(100, outsider, testParams(pairUSDCOP, 10_000)); !errors.Is(err, market.ErrNotAuthorized) {
		t.Fatalf("got %v, want %v", err, market.ErrNotAuthorized)
	}
	if r.Count() != 0 {
		t.Errorf("count = %d, want 0", r.Count())
	}
}

func TestCreateInvalidDates(t *testing.T) {
	r := New(admin, vault.New(), nil)

	params := testParams(pairUSDCOP, 10_000)
	params.EndTime = params.Key.StartTime - 1
	if _, err := r.Create(100, admin, params); !errors.Is(err, market.ErrInvalidWindow) {
		t.Fatalf("got %v, want %v", err, market.ErrInvalidWindow)
	}
	if r.Count() != 0 {
		t.Errorf("failed create left a market behind")
	}
}

func TestKeyAddrDeterministic(t *testing.T) {
	a := Key{PairID: pairUSDCOP, WindowType: market.WindowDaily, StartTime: 10_000}
	b := Key{PairID: pairUSDCOP, WindowType: market.WindowDaily, StartTime: 10_000}
	if a.Addr() != b.Addr() {
		t.Error("same key produced different addresses")
	}

	variants := []Key{
		{PairID: pairUSDMXN, WindowType: market.WindowDaily, StartTime: 10_000},
		{PairID: pairUSDCOP, WindowType: market.WindowWeekly, StartTime: 10_000},
		{PairID: pairUSDCOP, WindowType: market.WindowDaily, StartTime: 10_001},
	}
	for _, v := range variants {
		if v.Addr() == a.Addr() {
			t.Errorf("key %+v collides with base key", v)
		}
	}
}

func TestLookupAndEnumeration(t *testing.T) {
	r := New(admin, vault.New(), nil)

	starts := []int64{10_000, 20_000, 30_000}
	var created []common.Address
	for _, start := range starts {
		pair := pairUSDCOP
		if start == 20_000 {
			pair = pairUSDMXN
		}
		m, err := r.Create(100, admin, testParams(pair, start))
		if err != nil {
			t.Fatalf("create %d: %v", start, err)
		}
		created = append(created, m.Addr())
	}

	m, err := r.Lookup(created[1])
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m.Addr() != created[1] {
		t.Errorf("lookup returned %s", m.Addr().Hex())
	}
	if _, err := r.Lookup(common.BytesToAddress([]byte{0xff})); !errors.Is(err, market.ErrMarketNotFound) {
		t.Fatalf("missing lookup: got %v, want %v", err, market.ErrMarketNotFound)
	}

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("all = %d markets, want 3", len(all))
	}
	for i, m := range all {
		if m.Addr() != created[i] {
			t.Errorf("all[%d] = %s, want %s (creation order)", i, m.Addr().Hex(), created[i].Hex())
		}
	}

	cop := r.ByPair(pairUSDCOP)
	if len(cop) != 2 {
		t.Fatalf("byPair = %d markets, want 2", len(cop))
	}
	if cop[0].Addr() != created[0] || cop[1].Addr() != created[2] {
		t.Error("byPair out of creation order")
	}
	if got := r.ByPair(crypto.Keccak256Hash([]byte("USD/XXX"))); len(got) != 0 {
		t.Errorf("unknown pair = %d markets, want 0", len(got))
	}
}

func TestByKey(t *testing.T) {
	r := New(admin, vault.New(), nil)

	params := testParams(pairUSDCOP, 10_000)
	m, err := r.Create(100, admin, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := r.ByKey(params.Key)
	if err != nil {
		t.Fatalf("byKey: %v", err)
	}
	if got != m {
		t.Error("byKey returned a different market")
	}

	missing := params.Key
	missing.StartTime = 99_999
	if _, err := r.ByKey(missing); !errors.Is(err, market.ErrMarketNotFound) {
		t.Fatalf("got %v, want %v", err, market.ErrMarketNotFound)
	}
}
