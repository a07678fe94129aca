// Package position implements the position book (C2): per (account,
// instrument) running inventory and volume-weighted average cost, derived
// by applying each settled fill. Spot positions are long-only: unlike the
// perpetual-futures position this logic is generalized from, there is no
// short side, no margin, and no mark-price PnL to track. The matching
// engine bounds a sell by the base asset locked in the ledger, not by this
// book, and base asset credited by a deposit has no position here, so a
// sell fill can exceed the recorded Quantity; ApplyFill then floors the
// position at zero.
package position

import (
	"sync"

	"github.com/clob-exchange/matching-engine/internal/money"
)

type Side int

const (
	Buy Side = iota
	Sell
)

// Position is one account's inventory in one instrument's base asset.
type Position struct {
	Account    string
	Instrument string

	// Quantity is always >= 0; short positions are out of scope.
	Quantity money.Amount

	// AverageCost is > 0 when Quantity > 0, undefined (reported as zero)
	// otherwise.
	AverageCost money.Amount

	// TotalInvested == Quantity * AverageCost, maintained directly rather
	// than recomputed, per spec.
	TotalInvested money.Amount
}

// RealizedDelta reports what changed about a position's realized side as
// the result of applying exactly one fill.
type RealizedDelta struct {
	Account     string
	Instrument  string
	RealizedPnL money.Amount // zero on a buy fill
	NewQuantity money.Amount
	NewAvgCost  money.Amount
}

// Book is a thread-safe map of positions keyed by (account, instrument).
type Book struct {
	mu        sync.RWMutex
	positions map[string]map[string]*Position
}

// NewBook returns an empty position book.
func NewBook() *Book {
	return &Book{positions: make(map[string]map[string]*Position)}
}

func (b *Book) getOrCreate(account, instrument string) *Position {
	byInstrument, ok := b.positions[account]
	if !ok {
		byInstrument = make(map[string]*Position)
		b.positions[account] = byInstrument
	}
	pos, ok := byInstrument[instrument]
	if !ok {
		pos = &Position{Account: account, Instrument: instrument}
		byInstrument[instrument] = pos
	}
	return pos
}

// Get returns a snapshot of an account's position in instrument. Returns
// the zero position if none is open.
func (b *Book) Get(account, instrument string) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byInstrument, ok := b.positions[account]
	if !ok {
		return Position{Account: account, Instrument: instrument}
	}
	pos, ok := byInstrument[instrument]
	if !ok {
		return Position{Account: account, Instrument: instrument}
	}
	return *pos
}

// ListByAccount returns a snapshot of every instrument position an account
// holds, including zero-quantity (fully closed) positions still on record.
func (b *Book) ListByAccount(account string) []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byInstrument, ok := b.positions[account]
	if !ok {
		return nil
	}
	out := make([]Position, 0, len(byInstrument))
	for _, pos := range byInstrument {
		out = append(out, *pos)
	}
	return out
}

// ApplyFill updates the position for one side of a trade: qty base units
// traded at price (quote per base). Matches spec §4.2 exactly:
//
//	Buy:  invested' = invested + qty*price, q' = q + qty, avg' = invested'/q'
//	Sell: invested' = invested*(1 - qty/q), q' = q - qty, avg' = avg
//	      realized  = qty*(price - avg)
//
// A Sell whose qty reaches or exceeds the held quantity closes the
// position: Quantity, TotalInvested and AverageCost are all set to zero.
// Realized PnL is measured against the average cost before the fill, which
// is zero for base asset the account never bought through this book.
func (b *Book) ApplyFill(account, instrument string, side Side, qty, price money.Amount) RealizedDelta {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.getOrCreate(account, instrument)

	var realized money.Amount
	if side == Buy {
		pos.TotalInvested = pos.TotalInvested.Add(qty.Mul(price))
		pos.Quantity = pos.Quantity.Add(qty)
		if pos.Quantity.IsPositive() {
			pos.AverageCost = pos.TotalInvested.Div(pos.Quantity)
		} else {
			pos.AverageCost = money.Zero
		}
	} else {
		realized = qty.Mul(price.Sub(pos.AverageCost))
		if pos.Quantity.IsPositive() {
			fraction := money.New(1).Sub(qty.Div(pos.Quantity))
			pos.TotalInvested = pos.TotalInvested.Mul(fraction)
		}
		pos.Quantity = pos.Quantity.Sub(qty)
		if !pos.Quantity.IsPositive() {
			pos.Quantity = money.Zero
			pos.TotalInvested = money.Zero
			pos.AverageCost = money.Zero
		}
		// AverageCost is unchanged on a sell per spec, unless the position
		// is now fully closed (handled above).
	}

	return RealizedDelta{
		Account:     account,
		Instrument:  instrument,
		RealizedPnL: realized,
		NewQuantity: pos.Quantity,
		NewAvgCost:  pos.AverageCost,
	}
}
