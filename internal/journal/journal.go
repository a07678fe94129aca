// Package journal implements the trade journal (C6): an append-only,
// subscriber-based stream of everything that happened inside the exchange
// — trades, deposits, withdrawals, cancellations, rejections. Delivery
// policy is deliberately asymmetric, per SPEC_FULL §4.6: a Trade event is
// never allowed to silently vanish, so publishing one blocks until every
// subscriber has room; every other event type is best-effort, using the
// teacher hub's non-blocking select/default drop so a slow subscriber can
// never stall deposits, withdrawals, or cancellations.
package journal

import (
	"sync"
	"sync/atomic"

	"github.com/clob-exchange/matching-engine/internal/money"
	"github.com/clob-exchange/matching-engine/internal/orderstore"
)

type EventType int8

const (
	TradeEvent EventType = iota
	DepositEvent
	WithdrawalEvent
	OrderCancelledEvent
	OrderRejectedEvent
)

// Event is one journal entry. Only the fields relevant to Type are set.
type Event struct {
	Type       EventType
	Seq        uint64
	Timestamp  int64 // unix millis

	// Trade fields
	TradeID      string
	Instrument   string
	TakerOrderID string
	MakerOrderID string
	TakerAccount string
	MakerAccount string
	TakerSide    orderstore.Side
	Price        money.Amount
	Quantity     money.Amount
	// SellerRealizedPnL is the seller side's RealizedDelta from C2, carried
	// here so a downstream consumer doesn't need its own position book.
	SellerRealizedPnL money.Amount

	// Deposit/Withdrawal fields
	Account string
	Asset   string
	Amount  money.Amount

	// Cancellation/rejection fields
	OrderID string
	Reason  string
}

const subscriberBuffer = 256

type subscriber struct {
	ch chan Event
}

// Journal is a thread-safe append-only event bus. The zero value is not
// usable; construct with New.
type Journal struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	seq         uint64

	droppedNonTrade atomic.Uint64
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{subscribers: make(map[*subscriber]struct{})}
}

// Subscribe registers a new listener and returns a channel of every event
// published from this point forward, plus an unsubscribe func.
func (j *Journal) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	j.mu.Lock()
	j.subscribers[sub] = struct{}{}
	j.mu.Unlock()

	unsubscribe := func() {
		j.mu.Lock()
		if _, ok := j.subscribers[sub]; ok {
			delete(j.subscribers, sub)
			close(sub.ch)
		}
		j.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish appends an event and fans it out to every subscriber. Trade
// events are sent with a blocking send, one subscriber after another, so a
// subscriber whose buffer is full holds up this call (and delivery to the
// subscribers after it) until it drains; every other event type is dropped
// for a subscriber whose buffer is already full, and the drop is counted.
func (j *Journal) Publish(e Event) {
	e.Seq = atomic.AddUint64(&j.seq, 1)

	j.mu.RLock()
	defer j.mu.RUnlock()

	for sub := range j.subscribers {
		if e.Type == TradeEvent {
			sub.ch <- e
			continue
		}
		select {
		case sub.ch <- e:
		default:
			j.droppedNonTrade.Add(1)
		}
	}
}

// DroppedNonTradeCount returns the cumulative number of non-trade events
// dropped because a subscriber's buffer was full.
func (j *Journal) DroppedNonTradeCount() uint64 {
	return j.droppedNonTrade.Load()
}

// SubscriberCount returns the number of currently registered subscribers.
func (j *Journal) SubscriberCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.subscribers)
}
