// Package instrument implements the tradable-instrument registry (C7):
// the set of symbols the matching engine will accept orders for, their
// base/quote denomination, and their price/quantity rounding granularity.
package instrument

import (
	"fmt"
	"sync"

	"github.com/clob-exchange/matching-engine/internal/money"
)

// Instrument describes one tradable market, e.g. BTC/USDT.
type Instrument struct {
	Symbol   string
	Base     string // asset the quantity is denominated in
	Quote    string // asset the price is denominated in
	TickSize money.Amount
	LotSize  money.Amount
	Active   bool

	// ReferencePrice is a pure telemetry field, updated by the optional
	// price-oracle adapter; it never participates in matching.
	ReferencePrice money.Amount

	// PreventSelfTrade is the optional per-instrument flag DESIGN NOTES §9
	// allows as an extension to the spec's no-prevention default. It is
	// stored only: the matching engine does not read it, so self-trades
	// always match.
	PreventSelfTrade bool

	CreatedAt int64 // unix millis, telemetry only
}

// Validate enforces the §3 invariant base != quote and positive rounding
// granularities.
func (i *Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("instrument: symbol cannot be empty")
	}
	if i.Base == "" || i.Quote == "" {
		return fmt.Errorf("instrument %s: base and quote assets must be set", i.Symbol)
	}
	if i.Base == i.Quote {
		return fmt.Errorf("instrument %s: base and quote must differ", i.Symbol)
	}
	if !i.TickSize.IsPositive() {
		return fmt.Errorf("instrument %s: tick size must be positive", i.Symbol)
	}
	if !i.LotSize.IsPositive() {
		return fmt.Errorf("instrument %s: lot size must be positive", i.Symbol)
	}
	return nil
}

// RoundPrice aligns a price down to the instrument's tick size.
func (i *Instrument) RoundPrice(p money.Amount) money.Amount {
	return money.RoundToStep(p, i.TickSize)
}

// RoundQuantity aligns a quantity down to the instrument's lot size.
func (i *Instrument) RoundQuantity(q money.Amount) money.Amount {
	return money.RoundToStep(q, i.LotSize)
}

// Registry is a thread-safe set of Instruments keyed by symbol, directly
// generalized from the teacher's market.MarketRegistry (register/lookup/
// list-active, same locking shape).
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
}

// NewRegistry returns an empty instrument registry.
func NewRegistry() *Registry {
	return &Registry{instruments: make(map[string]*Instrument)}
}

// Register adds a new instrument. Returns an error if the symbol already
// exists or the instrument fails validation.
func (r *Registry) Register(i *Instrument) error {
	if i == nil {
		return fmt.Errorf("instrument: cannot register nil instrument")
	}
	if err := i.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[i.Symbol]; exists {
		return fmt.Errorf("instrument %s already registered", i.Symbol)
	}
	r.instruments[i.Symbol] = i
	return nil
}

// Get returns the instrument for symbol, or an error if unknown.
func (r *Registry) Get(symbol string) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}
	return i, nil
}

// ListActive returns all instruments currently accepting orders.
func (r *Registry) ListActive() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instrument, 0, len(r.instruments))
	for _, i := range r.instruments {
		if i.Active {
			out = append(out, i)
		}
	}
	return out
}

// List returns every registered instrument, active or not.
func (r *Registry) List() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instrument, 0, len(r.instruments))
	for _, i := range r.instruments {
		out = append(out, i)
	}
	return out
}

// Deactivate flips an instrument's active flag off; existing resting
// orders are untouched (the matching engine still services cancels on an
// inactive instrument, it just rejects new admissions).
func (r *Registry) Deactivate(symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.instruments[symbol]
	if !ok {
		return fmt.Errorf("instrument %s not found", symbol)
	}
	i.Active = false
	return nil
}

// UpdateReferencePrice is the price-oracle adapter's write path (§6):
// a pure telemetry update that never touches matching state.
func (r *Registry) UpdateReferencePrice(symbol string, price money.Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.instruments[symbol]
	if !ok {
		return fmt.Errorf("instrument %s not found", symbol)
	}
	i.ReferencePrice = price
	return nil
}
