package store

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/schema"
)

// FillRow is one executed fill delta.
type FillRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ClientID  uint64 `gorm:"index"`
	Symbol    string `gorm:"index;size:32"`
	Side      string `gorm:"size:8"`
	Kind      string `gorm:"size:24"`
	Price     int64
	Qty       int64
	FilledQty int64
	EventTs   int64
	CreatedAt time.Time
}

// PositionRow is a point-in-time position after a fill.
type PositionRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol        string `gorm:"index;size:32"`
	Qty           int64
	AvgEntryPrice int64
	EventTs       int64
	CreatedAt     time.Time
}

type row struct {
	fill *FillRow
	pos  *PositionRow
}

// Recorder persists fill and position events in batches. Handle is safe to
// call from bus partition goroutines: it never blocks, dropping with a log
// when the writer falls behind.
type Recorder struct {
	client *Client
	reg    *schema.Registry
	batch  int
	ch     chan row
	done   chan struct{}
}

// NewRecorder creates a recorder writing through the given client.
func NewRecorder(client *Client, reg *schema.Registry, batchSize int) *Recorder {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Recorder{
		client: client,
		reg:    reg,
		batch:  batchSize,
		ch:     make(chan row, 16*batchSize),
		done:   make(chan struct{}),
	}
}

// Handle is the bus handler. Only executed fills and position updates are
// persisted.
func (r *Recorder) Handle(e schema.Event) {
	switch e.Header.Type {
	case schema.EventOrder:
		if e.Order == nil {
			return
		}
		switch e.Order.Kind {
		case schema.OrderUpdatePartiallyFilled, schema.OrderUpdateFilled:
		default:
			return
		}
		r.push(row{fill: &FillRow{
			ClientID:  e.Order.ClientID,
			Symbol:    r.symbolName(e.SymbolID),
			Side:      e.Order.Side.String(),
			Kind:      e.Order.Kind.String(),
			Price:     int64(e.Order.Price),
			Qty:       int64(e.Order.Qty),
			FilledQty: int64(e.Order.FilledQty),
			EventTs:   e.Header.TsEvent,
		}})
	case schema.EventPosition:
		if e.Position == nil {
			return
		}
		r.push(row{pos: &PositionRow{
			Symbol:        r.symbolName(e.SymbolID),
			Qty:           int64(e.Position.Qty),
			AvgEntryPrice: int64(e.Position.AvgEntryPrice),
			EventTs:       e.Header.TsEvent,
		}})
	}
}

func (r *Recorder) push(item row) {
	select {
	case r.ch <- item:
	default:
		logs.Warnf("store: recorder queue full, row dropped")
	}
}

func (r *Recorder) symbolName(id schema.SymbolID) string {
	if r.reg != nil {
		if spec, ok := r.reg.Symbol(id); ok {
			return spec.Name
		}
	}
	return ""
}

// Run consumes queued rows until ctx is done, flushing on batch size or a
// short interval, whichever comes first. The queue is drained on exit.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	fills := make([]FillRow, 0, r.batch)
	positions := make([]PositionRow, 0, r.batch)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(fills) > 0 {
			if err := r.client.DB().CreateInBatches(fills, r.batch).Error; err != nil {
				logs.Errorf("store: insert %d fills failed: %+v", len(fills), err)
			}
			fills = fills[:0]
		}
		if len(positions) > 0 {
			if err := r.client.DB().CreateInBatches(positions, r.batch).Error; err != nil {
				logs.Errorf("store: insert %d positions failed: %+v", len(positions), err)
			}
			positions = positions[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case item := <-r.ch:
					if item.fill != nil {
						fills = append(fills, *item.fill)
					}
					if item.pos != nil {
						positions = append(positions, *item.pos)
					}
				default:
					flush()
					return
				}
			}
		case <-ticker.C:
			flush()
		case item := <-r.ch:
			if item.fill != nil {
				fills = append(fills, *item.fill)
			}
			if item.pos != nil {
				positions = append(positions, *item.pos)
			}
			if len(fills)+len(positions) >= r.batch {
				flush()
			}
		}
	}
}

// Done is closed once Run has flushed and returned.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}
