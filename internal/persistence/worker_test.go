package persistence

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

func testOutput(seq int64, fact event.Fact) event.Output {
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

func TestRowsFromOutput(t *testing.T) {
	mktAddr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	created := &event.MarketCreated{
		MarketAddr: mktAddr,
		PairID:     common.HexToHash("0x01"),
		WindowType: 1,
		StartTime:  1000,
		EndTime:    2000,
		RakeBps:    300,
	}

	fact, market, err := RowsFromOutput(testOutput(7, created))
	if err != nil {
		t.Fatalf("RowsFromOutput: %v", err)
	}
	if fact.Sequence != 7 || fact.FactType != "MarketCreated" {
		t.Errorf("fact row = %+v, want sequence 7 type MarketCreated", fact)
	}
	if market == nil {
		t.Fatal("expected a market row for MarketCreated")
	}
	if market.MarketAddr != mktAddr.Hex() || market.RakeBps != 300 || market.CreatedSequence != 7 {
		t.Errorf("market row = %+v", market)
	}

	deposited := &event.Deposited{
		MarketAddr: mktAddr,
		User:       common.HexToAddress("0x01"),
		Side:       0,
		Asset:      common.HexToAddress("0x02"),
		Amount:     big.NewInt(500),
	}
	_, market, err = RowsFromOutput(testOutput(8, deposited))
	if err != nil {
		t.Fatalf("RowsFromOutput: %v", err)
	}
	if market != nil {
		t.Error("Deposited should not produce a market row")
	}
}

func TestWorkerWritesBatches(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	inputChan := make(chan event.Output, 16)
	worker := NewWorker(db, inputChan, 4, 50*time.Millisecond, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	mktAddr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	inputChan <- testOutput(0, &event.MarketCreated{
		MarketAddr: mktAddr,
		PairID:     common.HexToHash("0x01"),
		WindowType: 0,
		StartTime:  1000,
		EndTime:    2000,
		RakeBps:    300,
	})
	inputChan <- testOutput(1, &event.Deposited{
		MarketAddr: mktAddr,
		User:       common.HexToAddress("0x01"),
		Side:       0,
		Asset:      common.HexToAddress("0x02"),
		Amount:     big.NewInt(100),
	})
	close(inputChan)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain after channel close")
	}

	var factCount, marketCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pari.events`).Scan(&factCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM pari.markets`).Scan(&marketCount); err != nil {
		t.Fatalf("count markets: %v", err)
	}
	if factCount != 2 {
		t.Errorf("fact count = %d, want 2", factCount)
	}
	if marketCount != 1 {
		t.Errorf("market count = %d, want 1", marketCount)
	}
}

func TestWriteFactBatchIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := NewFactLogWriter(db)

	out := testOutput(42, &event.BettingClosed{
		MarketAddr: common.HexToAddress("0x00000000000000000000000000000000000000bb"),
	})
	fact, _, err := RowsFromOutput(out)
	if err != nil {
		t.Fatalf("RowsFromOutput: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := writer.WriteFactBatch(ctx, db, []FactRow{fact}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pari.events WHERE sequence = 42`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("retried batch wrote %d rows, want 1", count)
	}
}
