package obs

import (
	"sync/atomic"
	"time"
)

// OrderTracer issues the correlation id stamped on every event an order
// emits, from the first ack through fills to the position update each
// fill produces, so one order's trail can be filtered out of the stream.
//
// The process start second is packed into the high 32 bits so ids from
// separate runs never collide in persisted event logs.
type OrderTracer struct {
	epoch uint64
	seq   atomic.Uint64
}

func NewOrderTracer() *OrderTracer {
	return &OrderTracer{epoch: uint64(time.Now().UTC().Unix()) << 32}
}

// Next returns a fresh id. Safe for concurrent use; a nil tracer yields
// zero, which consumers treat as "uncorrelated".
func (t *OrderTracer) Next() uint64 {
	if t == nil {
		return 0
	}
	return t.epoch | (t.seq.Add(1) & 0xffff_ffff)
}
