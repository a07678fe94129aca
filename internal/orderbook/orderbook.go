// Package orderbook implements the resting-order book (C4): one side's
// bids and one side's asks for a single instrument, indexed by price with
// FIFO time priority within a price level. It is a pure data structure —
// it has no notion of accounts, balances, or settlement; the matching
// engine (C5) is the only caller and owns all of that.
//
// The structure is the teacher's heap-plus-FIFO-queue design, generalized
// from int64 tick prices to money.Amount so price levels carry arbitrary
// decimal precision.
package orderbook

import (
	"container/heap"
	"sort"

	"github.com/clob-exchange/matching-engine/internal/money"
)

type Side int8

const (
	Buy Side = iota
	Sell
)

// RestingOrder is one order resting in the book, consumable in place by
// the matching engine as it fills (Remaining shrinks without a reinsert).
type RestingOrder struct {
	ID         string
	Account    string
	Side       Side
	Price      money.Amount
	Remaining  money.Amount
	CreatedSeq uint64 // monotonic admission sequence; breaks price ties FIFO
}

// PriceLevel is one row of aggregated depth.
type PriceLevel struct {
	Price      money.Amount
	Quantity   money.Amount
	OrderCount int // number of resting orders contributing to Quantity
}

// Book is the resting-order structure for exactly one instrument. It is
// NOT safe for concurrent use — callers (the per-instrument matching actor)
// serialize all access themselves, per SPEC_FULL §4.5's single-writer rule.
type Book struct {
	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	bids map[string][]*RestingOrder // price key -> FIFO queue, best-price-first heap indexes these keys
	asks map[string][]*RestingOrder

	index map[string]priceKey // order ID -> which side/price it rests at
}

type priceKey struct {
	side  Side
	price money.Amount
	key   string
}

// New returns an empty book.
func New() *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)
	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[string][]*RestingOrder),
		asks:    make(map[string][]*RestingOrder),
		index:   make(map[string]priceKey),
	}
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (money.Amount, bool) { return b.bidHeap.Peek() }

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (money.Amount, bool) { return b.askHeap.Peek() }

// PeekBestBid returns the oldest order at the best bid price, without
// removing it.
func (b *Book) PeekBestBid() *RestingOrder { return b.peekBest(b.bidHeap, b.bids) }

// PeekBestAsk returns the oldest order at the best ask price, without
// removing it.
func (b *Book) PeekBestAsk() *RestingOrder { return b.peekBest(b.askHeap, b.asks) }

func (b *Book) peekBest(h interface {
	Len() int
}, levels map[string][]*RestingOrder) *RestingOrder {
	for {
		var p money.Amount
		var ok bool
		switch hh := h.(type) {
		case *MaxPriceHeap:
			p, ok = hh.Peek()
		case *MinPriceHeap:
			p, ok = hh.Peek()
		}
		if !ok {
			return nil
		}
		queue := levels[p.String()]
		if len(queue) > 0 {
			return queue[0]
		}
		// Stale empty level left by a prior pop; drop it and retry.
		b.popLevel(h, levels, p)
	}
}

func (b *Book) popLevel(h interface{ Len() int }, levels map[string][]*RestingOrder, p money.Amount) {
	delete(levels, p.String())
	switch hh := h.(type) {
	case *MaxPriceHeap:
		removeFromHeap(hh, p)
	case *MinPriceHeap:
		removeFromHeap(hh, p)
	}
}

func removeFromHeap(h heap.Interface, p money.Amount) {
	switch hh := h.(type) {
	case *MaxPriceHeap:
		for i, v := range *hh {
			if v.Equal(p) {
				heap.Remove(hh, i)
				return
			}
		}
	case *MinPriceHeap:
		for i, v := range *hh {
			if v.Equal(p) {
				heap.Remove(hh, i)
				return
			}
		}
	}
}

// Insert adds a resting order to the appropriate side/price queue.
func (b *Book) Insert(o *RestingOrder) {
	key := o.Price.String()
	if o.Side == Buy {
		if len(b.bids[key]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[key] = append(b.bids[key], o)
	} else {
		if len(b.asks[key]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[key] = append(b.asks[key], o)
	}
	b.index[o.ID] = priceKey{side: o.Side, price: o.Price, key: key}
}

// ConsumeBestFront reduces the remaining quantity of the oldest order at
// the best price on side by qty, popping it off the queue (and off the
// heap if its level is now empty) once Remaining reaches zero. Returns
// false if side is empty.
func (b *Book) ConsumeBestFront(side Side, qty money.Amount) (*RestingOrder, bool) {
	var front *RestingOrder
	if side == Buy {
		front = b.PeekBestBid()
	} else {
		front = b.PeekBestAsk()
	}
	if front == nil {
		return nil, false
	}
	front.Remaining = front.Remaining.Sub(qty)
	if !front.Remaining.IsPositive() {
		b.removeFront(side, front)
	}
	return front, true
}

func (b *Book) removeFront(side Side, o *RestingOrder) {
	key := o.Price.String()
	if side == Buy {
		queue := b.bids[key]
		if len(queue) > 0 {
			b.bids[key] = queue[1:]
		}
		if len(b.bids[key]) == 0 {
			b.popLevel(b.bidHeap, b.bids, o.Price)
		}
	} else {
		queue := b.asks[key]
		if len(queue) > 0 {
			b.asks[key] = queue[1:]
		}
		if len(b.asks[key]) == 0 {
			b.popLevel(b.askHeap, b.asks, o.Price)
		}
	}
	delete(b.index, o.ID)
}

// Remove cancels a resting order by ID, wherever it is in its queue.
// Returns false if the ID is not resting.
func (b *Book) Remove(id string) bool {
	pk, ok := b.index[id]
	if !ok {
		return false
	}
	levels := b.bids
	h := heap.Interface(b.bidHeap)
	if pk.side == Sell {
		levels = b.asks
		h = b.askHeap
	}
	queue := levels[pk.key]
	for i, o := range queue {
		if o.ID == id {
			queue = append(queue[:i], queue[i+1:]...)
			levels[pk.key] = queue
			if len(queue) == 0 {
				delete(levels, pk.key)
				removeFromHeap(h, pk.price)
			}
			delete(b.index, id)
			return true
		}
	}
	return false
}

// Get returns the resting order for id, if any, without removing it.
func (b *Book) Get(id string) (*RestingOrder, bool) {
	pk, ok := b.index[id]
	if !ok {
		return nil, false
	}
	levels := b.bids
	if pk.side == Sell {
		levels = b.asks
	}
	for _, o := range levels[pk.key] {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// IsCrossed reports whether the book's best bid is at or above its best
// ask, which must never be true once the matching engine returns control
// to another caller.
func (b *Book) IsCrossed() bool {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk {
		return false
	}
	return bid.GreaterThanOrEqual(ask)
}

// AggregateDepth returns up to maxLevels price levels for side, best price
// first, with quantity summed across every resting order at that price.
// maxLevels <= 0 means unlimited.
func (b *Book) AggregateDepth(side Side, maxLevels int) []PriceLevel {
	levels := b.bids
	if side == Sell {
		levels = b.asks
	}

	out := make([]PriceLevel, 0, len(levels))
	for _, queue := range levels {
		if len(queue) == 0 {
			continue
		}
		total := money.Zero
		for _, o := range queue {
			total = total.Add(o.Remaining)
		}
		out = append(out, PriceLevel{Price: queue[0].Price, Quantity: total, OrderCount: len(queue)})
	}

	if side == Buy {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	}

	if maxLevels > 0 && len(out) > maxLevels {
		out = out[:maxLevels]
	}
	return out
}
