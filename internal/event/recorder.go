package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every recorded fact with its position in the global order.
type Envelope struct {
	FactID   uuid.UUID `json:"fact_id"`
	Sequence int64     `json:"sequence"`
	Type     FactType  `json:"type"`
	Emitted  time.Time `json:"emitted"`
}

// Output is the unit handed to downstream workers.
type Output struct {
	Envelope Envelope
	Fact     Fact
}

// DropCounter is notified whenever a non-blocking publish send is dropped.
type DropCounter interface {
	PublishDropped(factType string)
}

// Recorder assigns a global monotonic sequence to emitted facts and fans
// them out to the persist and publish channels. The persist channel uses a
// blocking send so no fact is lost: if the persistence worker falls behind,
// the engine stalls. The publish channel is best-effort with counted drops;
// indexers can rebuild from the persisted event log.
type Recorder struct {
	mu       sync.Mutex
	sequence int64

	persistChan chan<- Output
	publishChan chan<- Output
	drops       DropCounter
}

func NewRecorder(startSequence int64, persistChan, publishChan chan<- Output, drops DropCounter) *Recorder {
	return &Recorder{
		sequence:    startSequence,
		persistChan: persistChan,
		publishChan: publishChan,
		drops:       drops,
	}
}

// Record sequences and emits a fact. Callers must only invoke Record after
// the state change the fact describes has been committed.
func (r *Recorder) Record(fact Fact) {
	r.mu.Lock()
	seq := r.sequence
	r.sequence++
	r.mu.Unlock()

	out := Output{
		Envelope: Envelope{
			FactID:   uuid.New(),
			Sequence: seq,
			Type:     fact.FactType(),
			Emitted:  time.Now().UTC(),
		},
		Fact: fact,
	}

	if r.persistChan != nil {
		r.persistChan <- out
	}

	if r.publishChan != nil {
		select {
		case r.publishChan <- out:
		default:
			if r.drops != nil {
				r.drops.PublishDropped(fact.FactType().String())
			}
		}
	}
}

// Sequence returns the next sequence number to be assigned.
func (r *Recorder) Sequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}
