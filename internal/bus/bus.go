package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

// OverflowPolicy selects what Publish does when a partition queue is full.
// DropOldest only ever applies to market data events; order and position
// events always block the publisher until the partition has room.
type OverflowPolicy uint8

const (
	OverflowBlock OverflowPolicy = iota
	OverflowDropOldest
)

// Handler consumes events delivered on a partition goroutine. Events for the
// same symbol are never delivered concurrently to the same handler.
type Handler func(schema.Event)

// Config controls partition sizing and overflow behavior.
type Config struct {
	Capacity         int
	MarketDataPolicy OverflowPolicy
}

// Bus routes events to handlers, partitioned by symbol. Each symbol has one
// bounded queue and one dispatcher goroutine, so delivery is serial and
// in-order per symbol while distinct symbols run concurrently. A slow
// handler stalls only its own symbol.
type Bus struct {
	cfg        Config
	metrics    *obs.Metrics
	partitions map[schema.SymbolID]*partition
	order      []schema.SymbolID

	mu      sync.Mutex // guards handler registration before Run
	running atomic.Bool
	closed  atomic.Bool
	drops   atomic.Uint64
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a bus with one partition per symbol in the registry.
func New(reg *schema.Registry, cfg Config, metrics *obs.Metrics) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	b := &Bus{
		cfg:        cfg,
		metrics:    metrics,
		partitions: make(map[schema.SymbolID]*partition, reg.SymbolCount()),
		done:       make(chan struct{}),
	}
	for i := 0; i < reg.SymbolCount(); i++ {
		spec, ok := reg.SymbolAt(i)
		if !ok {
			continue
		}
		b.partitions[spec.ID] = newPartition(spec.ID, cfg.Capacity)
		b.order = append(b.order, spec.ID)
	}
	return b
}

// Subscribe registers a handler for a single symbol. Registration is only
// valid before Run.
func (b *Bus) Subscribe(symbolID schema.SymbolID, h Handler) error {
	if h == nil {
		return exception.ErrBusNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.partitions[symbolID]
	if !ok {
		return exception.ErrBusUnknownSymbol
	}
	p.handlers = append(p.handlers, h)
	return nil
}

// SubscribeAll registers a handler on every partition.
func (b *Bus) SubscribeAll(h Handler) error {
	if h == nil {
		return exception.ErrBusNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.order {
		p := b.partitions[id]
		p.handlers = append(p.handlers, h)
	}
	return nil
}

// Publish enqueues an event on its symbol partition. When the partition is
// full, a market data event under the DropOldest policy evicts the oldest
// pending market data event (superseded by this one); everything else blocks.
func (b *Bus) Publish(e schema.Event) error {
	if b.closed.Load() {
		return exception.ErrBusClosed
	}
	p, ok := b.partitions[e.SymbolID]
	if !ok {
		return exception.ErrBusUnknownSymbol
	}
	droppable := e.Header.Type == schema.EventMarketData && b.cfg.MarketDataPolicy == OverflowDropOldest
	dropped, err := p.push(e, droppable)
	if dropped > 0 {
		b.drops.Add(dropped)
		b.metrics.AddBusDrops(dropped)
		logs.Warnf("bus: partition %d full, evicted %d pending market data event(s)", e.SymbolID, dropped)
	}
	return err
}

// TryPublish enqueues without blocking. Used by publishers running on a
// partition dispatch goroutine, where a blocking publish into a full
// partition would deadlock. A full partition returns ErrBusOverflow; for
// order/position events the caller must treat that as a sizing error, never
// a silent drop.
func (b *Bus) TryPublish(e schema.Event) error {
	if b.closed.Load() {
		return exception.ErrBusClosed
	}
	p, ok := b.partitions[e.SymbolID]
	if !ok {
		return exception.ErrBusUnknownSymbol
	}
	return p.tryPush(e)
}

// Run starts one dispatcher goroutine per partition and blocks until Close
// (or context cancellation) and all partitions have drained.
func (b *Bus) Run(ctx context.Context) {
	if b.running.Swap(true) {
		return
	}
	for _, id := range b.order {
		p := b.partitions[id]
		b.wg.Add(1)
		go func(p *partition) {
			defer b.wg.Done()
			p.run(ctx, b.done)
		}(p)
	}
	b.wg.Wait()
}

// Close stops the bus from accepting new events. Pending events are still
// delivered before the partitions stop.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.done)
	for _, id := range b.order {
		b.partitions[id].close()
	}
}

// Drops reports how many market data events were evicted under the
// drop-oldest policy.
func (b *Bus) Drops() uint64 {
	return b.drops.Load()
}

// partition is a bounded FIFO guarded by a mutex rather than a channel so a
// full queue can evict its oldest market data entry without reordering the
// events that remain.
type partition struct {
	symbolID schema.SymbolID
	handlers []Handler
	capacity int

	mu      sync.Mutex
	notFull *sync.Cond
	queue   []schema.Event
	closed  bool
	notify  chan struct{}
}

func newPartition(symbolID schema.SymbolID, capacity int) *partition {
	p := &partition{
		symbolID: symbolID,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
	p.notFull = sync.NewCond(&p.mu)
	return p
}

func (p *partition) push(e schema.Event, droppable bool) (dropped uint64, err error) {
	p.mu.Lock()
	for len(p.queue) >= p.capacity {
		if p.closed {
			p.mu.Unlock()
			return dropped, exception.ErrBusClosed
		}
		if droppable {
			if idx := p.oldestMarketData(); idx >= 0 {
				p.queue = append(p.queue[:idx], p.queue[idx+1:]...)
				dropped++
				continue
			}
		}
		p.notFull.Wait()
	}
	if p.closed {
		p.mu.Unlock()
		return dropped, exception.ErrBusClosed
	}
	p.queue = append(p.queue, e)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return dropped, nil
}

func (p *partition) tryPush(e schema.Event) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return exception.ErrBusClosed
	}
	if len(p.queue) >= p.capacity {
		p.mu.Unlock()
		return exception.ErrBusOverflow
	}
	p.queue = append(p.queue, e)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

func (p *partition) oldestMarketData() int {
	for i := range p.queue {
		if p.queue[i].Header.Type == schema.EventMarketData {
			return i
		}
	}
	return -1
}

func (p *partition) pop() (schema.Event, bool) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return schema.Event{}, false
	}
	e := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()
	p.notFull.Signal()
	return e, true
}

func (p *partition) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.notFull.Broadcast()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *partition) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *partition) run(ctx context.Context, done <-chan struct{}) {
	for {
		for {
			e, ok := p.pop()
			if !ok {
				break
			}
			p.dispatch(e)
		}
		if p.isClosed() {
			// Drain anything pushed between the last pop and close.
			for {
				e, ok := p.pop()
				if !ok {
					return
				}
				p.dispatch(e)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-done:
		case <-p.notify:
		}
	}
}

func (p *partition) dispatch(e schema.Event) {
	for _, h := range p.handlers {
		h(e)
	}
}
