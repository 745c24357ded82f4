package event

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type dropTally struct {
	mu    sync.Mutex
	count int
}

func (d *dropTally) PublishDropped(factType string) {
	d.mu.Lock()
	d.count++
	d.mu.Unlock()
}

func testFact() Fact {
	return &BettingClosed{MarketAddr: common.BytesToAddress([]byte{0x01})}
}

func TestRecordAssignsSequence(t *testing.T) {
	persist := make(chan Output, 16)
	r := NewRecorder(7, persist, nil, nil)

	for i := 0; i < 3; i++ {
		r.Record(testFact())
	}

	for want := int64(7); want < 10; want++ {
		out := <-persist
		if out.Envelope.Sequence != want {
			t.Errorf("sequence = %d, want %d", out.Envelope.Sequence, want)
		}
		if out.Envelope.Type != FactTypeBettingClosed {
			t.Errorf("type = %s", out.Envelope.Type)
		}
		if out.Envelope.FactID.String() == "00000000-0000-0000-0000-000000000000" {
			t.Error("fact ID not assigned")
		}
	}

	if got := r.Sequence(); got != 10 {
		t.Errorf("next sequence = %d, want 10", got)
	}
}

func TestRecordPublishDropsWhenFull(t *testing.T) {
	persist := make(chan Output, 16)
	publish := make(chan Output, 1)
	drops := &dropTally{}
	r := NewRecorder(0, persist, publish, drops)

	// Second record finds the publish channel full and drops; the persist
	// side still receives every fact.
	r.Record(testFact())
	r.Record(testFact())

	if len(persist) != 2 {
		t.Errorf("persist received %d facts, want 2", len(persist))
	}
	if len(publish) != 1 {
		t.Errorf("publish holds %d facts, want 1", len(publish))
	}
	if drops.count != 1 {
		t.Errorf("drops = %d, want 1", drops.count)
	}
}

func TestRecordConcurrentSequences(t *testing.T) {
	persist := make(chan Output, 256)
	r := NewRecorder(0, persist, nil, nil)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(testFact())
		}()
	}
	wg.Wait()
	close(persist)

	seen := make(map[int64]bool)
	for out := range persist {
		if seen[out.Envelope.Sequence] {
			t.Fatalf("duplicate sequence %d", out.Envelope.Sequence)
		}
		seen[out.Envelope.Sequence] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d unique sequences, want %d", len(seen), n)
	}
}
