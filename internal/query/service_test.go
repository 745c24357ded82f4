package query

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"PariLedger/internal/event"
	"PariLedger/internal/persistence"
	"PariLedger/internal/testutil"
)

func TestEventsByMarket(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewFactLogWriter(db)
	mktAddr := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	var rows []persistence.FactRow
	for seq := int64(0); seq < 5; seq++ {
		addr := mktAddr
		if seq == 3 {
			addr = other
		}
		fact, _, err := persistence.RowsFromOutput(event.Output{
			Envelope: event.Envelope{
				FactID:   uuid.New(),
				Sequence: seq,
				Type:     event.FactTypeDeposited,
				Emitted:  time.Now().UTC(),
			},
			Fact: &event.Deposited{
				MarketAddr: addr,
				User:       common.HexToAddress("0x01"),
				Side:       0,
				Asset:      common.HexToAddress("0x02"),
				Amount:     big.NewInt(seq + 1),
			},
		})
		if err != nil {
			t.Fatalf("RowsFromOutput: %v", err)
		}
		rows = append(rows, fact)
	}
	if err := writer.WriteFactBatch(ctx, db, rows); err != nil {
		t.Fatalf("seed facts: %v", err)
	}

	svc := NewService(db)

	facts, err := svc.EventsByMarket(ctx, mktAddr.Hex(), -1, 100)
	if err != nil {
		t.Fatalf("EventsByMarket: %v", err)
	}
	if len(facts) != 4 {
		t.Fatalf("got %d facts, want 4", len(facts))
	}
	for i := 1; i < len(facts); i++ {
		if facts[i].Sequence <= facts[i-1].Sequence {
			t.Errorf("facts out of order: %d then %d", facts[i-1].Sequence, facts[i].Sequence)
		}
	}

	page, err := svc.EventsByMarket(ctx, mktAddr.Hex(), facts[1].Sequence, 100)
	if err != nil {
		t.Fatalf("EventsByMarket page: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("page after sequence %d has %d facts, want 2", facts[1].Sequence, len(page))
	}
}

func TestMarketStateMissing(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	state, err := svc.MarketState(context.Background(), "0xdoesnotexist")
	if err != nil {
		t.Fatalf("MarketState: %v", err)
	}
	if state != nil {
		t.Errorf("state = %+v, want nil for missing market", state)
	}
}

func TestWatermarkEmpty(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	seq, err := svc.Watermark(context.Background())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if seq != 0 {
		t.Errorf("watermark = %d, want 0 on empty table", seq)
	}
}
