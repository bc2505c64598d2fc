package risk

import (
	"errors"

	"main/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

var (
	ErrKillSwitch    = errors.New("risk: kill switch engaged")
	ErrPositionLimit = errors.New("risk: position notional over limit")
	ErrPriceBand     = errors.New("risk: snapshot outside reference band")
	ErrCrossedBook   = errors.New("risk: crossed or empty book")
)

// Config defines the pre-quote limits checked before every requote.
type Config struct {
	KillSwitch           bool            `json:"killSwitch"`
	MaxPositionNotional  schema.Notional `json:"maxPositionNotional"`
	MaxPriceDeviationBps int64           `json:"maxPriceDeviationBps"`
}

// Guard evaluates whether quoting should proceed for a symbol. A deny means
// the maker skips the requote and keeps its live orders untouched.
type Guard struct {
	cfg      Config
	refPrice int64
}

// NewGuard creates a guard with static limits.
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Check validates the snapshot and position against the configured limits.
func (g *Guard) Check(snap schema.MarketSnapshot, pos schema.Position) error {
	if g.cfg.KillSwitch {
		return ErrKillSwitch
	}
	if snap.BidPrice <= 0 || snap.AskPrice <= 0 || snap.BidPrice >= snap.AskPrice {
		return ErrCrossedBook
	}

	mid := int64(snap.MidPrice)
	if mid == 0 {
		mid = (int64(snap.BidPrice) + int64(snap.AskPrice)) / 2
	}

	if g.cfg.MaxPriceDeviationBps > 0 && g.refPrice > 0 {
		diff := mid - g.refPrice
		if diff < 0 {
			diff = -diff
		}
		if exceedsDeviation(diff, g.refPrice, g.cfg.MaxPriceDeviationBps) {
			return ErrPriceBand
		}
	}
	g.refPrice = mid

	if g.cfg.MaxPositionNotional > 0 {
		notional, over := mulNotional(schema.Price(mid), pos.Qty)
		if over || notional > g.cfg.MaxPositionNotional || notional < -g.cfg.MaxPositionNotional {
			return ErrPositionLimit
		}
	}
	return nil
}

func mulNotional(price schema.Price, qty schema.Quantity) (schema.Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	ap, aq := p, q
	if ap < 0 {
		ap = -ap
	}
	if aq < 0 {
		aq = -aq
	}
	if ap > maxInt64/aq {
		return 0, true
	}
	return schema.Notional(p * q), false
}

func exceedsDeviation(diff, ref, bps int64) bool {
	if diff <= 0 || ref <= 0 || bps <= 0 {
		return false
	}
	if diff > maxInt64/10000 {
		return true
	}
	lhs := diff * 10000
	if ref > maxInt64/bps {
		return true
	}
	rhs := ref * bps
	return lhs > rhs
}
