package projection

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PariLedger/internal/event"
	"PariLedger/internal/testutil"
)

func output(seq int64, fact event.Fact) event.Output {
	return event.Output{
		Envelope: event.Envelope{
			FactID:   uuid.New(),
			Sequence: seq,
			Type:     fact.FactType(),
			Emitted:  time.Now().UTC(),
		},
		Fact: fact,
	}
}

func runFacts(t *testing.T, w *Worker, inputChan chan event.Output, facts []event.Output) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	for _, f := range facts {
		inputChan <- f
	}
	close(inputChan)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain after channel close")
	}
}

func TestProjectionLifecycle(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	mktAddr := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	user := common.HexToAddress("0x01")
	asset := common.HexToAddress("0x02")

	inputChan := make(chan event.Output, 16)
	worker := NewWorker(db, inputChan, nil, zerolog.Nop())

	runFacts(t, worker, inputChan, []event.Output{
		output(0, &event.MarketCreated{
			MarketAddr: mktAddr,
			PairID:     common.HexToHash("0x01"),
			WindowType: 0,
			StartTime:  1000,
			EndTime:    2000,
			RakeBps:    300,
		}),
		output(1, &event.Deposited{MarketAddr: mktAddr, User: user, Side: 0, Asset: asset, Amount: big.NewInt(150), Decimals: 18}),
		output(2, &event.Deposited{MarketAddr: mktAddr, User: user, Side: 1, Asset: asset, Amount: big.NewInt(50), Decimals: 18}),
		output(3, &event.BettingClosed{MarketAddr: mktAddr}),
		output(4, &event.Resolved{MarketAddr: mktAddr, Outcome: 1, SourceID: "test"}),
		output(5, &event.Claimed{MarketAddr: mktAddr, User: user, Asset: asset, Payout: big.NewInt(194)}),
		output(6, &event.RakeCollected{MarketAddr: mktAddr, Asset: asset, Amount: big.NewInt(6)}),
	})

	var status, outcome, totalUp, totalDown string
	var claims, lastSeq int64
	err := db.QueryRow(`
		SELECT status, outcome, total_up::text, total_down::text, claims, last_sequence
		FROM pari.market_state WHERE market_addr = $1
	`, mktAddr.Hex()).Scan(&status, &outcome, &totalUp, &totalDown, &claims, &lastSeq)
	if err != nil {
		t.Fatalf("query state: %v", err)
	}

	if status != "settled" {
		t.Errorf("status = %q, want settled", status)
	}
	if outcome != "up" {
		t.Errorf("outcome = %q, want up", outcome)
	}
	if totalUp != "150" || totalDown != "50" {
		t.Errorf("totals = %s/%s, want 150/50", totalUp, totalDown)
	}
	if claims != 1 {
		t.Errorf("claims = %d, want 1", claims)
	}
	if lastSeq != 6 {
		t.Errorf("last_sequence = %d, want 6", lastSeq)
	}

	var watermark int64
	err = db.QueryRow(`SELECT last_sequence FROM pari.watermark WHERE worker_id = 'market_state'`).Scan(&watermark)
	if err != nil {
		t.Fatalf("query watermark: %v", err)
	}
	if watermark != 6 {
		t.Errorf("watermark = %d, want 6", watermark)
	}
}

func TestProjectionRefundShrinksTotals(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	mktAddr := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	user := common.HexToAddress("0x01")
	asset := common.HexToAddress("0x02")

	inputChan := make(chan event.Output, 16)
	worker := NewWorker(db, inputChan, nil, zerolog.Nop())

	runFacts(t, worker, inputChan, []event.Output{
		output(0, &event.MarketCreated{
			MarketAddr: mktAddr,
			PairID:     common.HexToHash("0x02"),
			WindowType: 0,
			StartTime:  1000,
			EndTime:    2000,
			RakeBps:    300,
		}),
		output(1, &event.Deposited{MarketAddr: mktAddr, User: user, Side: 0, Asset: asset, Amount: big.NewInt(70), Decimals: 18}),
		output(2, &event.Deposited{MarketAddr: mktAddr, User: user, Side: 1, Asset: asset, Amount: big.NewInt(30), Decimals: 18}),
		output(3, &event.Refunded{
			MarketAddr: mktAddr,
			User:       user,
			Asset:      asset,
			Up:         big.NewInt(70),
			Down:       big.NewInt(30),
			Amount:     big.NewInt(100),
		}),
	})

	var totalUp, totalDown string
	err := db.QueryRow(`
		SELECT total_up::text, total_down::text FROM pari.market_state WHERE market_addr = $1
	`, mktAddr.Hex()).Scan(&totalUp, &totalDown)
	if err != nil {
		t.Fatalf("query state: %v", err)
	}
	if totalUp != "0" || totalDown != "0" {
		t.Errorf("totals after refund = %s/%s, want 0/0", totalUp, totalDown)
	}
}
