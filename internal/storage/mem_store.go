package storage

import (
	"sync"

	"github.com/clob-exchange/matching-engine/internal/orderstore"
)

// MemStore is the in-memory Store implementation: it satisfies the Store
// interface with no durability, for tests and for the devnet configuration
// where §6 allows an absent persistence backend. Unlike a nil Store, a
// MemStore still exercises the matching engine's persistence code paths.
type MemStore struct {
	mu        sync.Mutex
	orders    map[string]*orderstore.Order // instrument+id -> order
	trades    map[string][]TradeRecord     // instrument -> trades, append order
	positions map[string]PositionRecord    // account+instrument -> position
	balances  map[string]BalanceRecord     // account+asset -> balance
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		orders:    make(map[string]*orderstore.Order),
		trades:    make(map[string][]TradeRecord),
		positions: make(map[string]PositionRecord),
		balances:  make(map[string]BalanceRecord),
	}
}

func (s *MemStore) SaveOrder(o *orderstore.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.Instrument+"\x00"+o.ID] = &cp
	return nil
}

func (s *MemStore) LoadOpenOrders(instrument string) ([]*orderstore.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*orderstore.Order
	for _, o := range s.orders {
		if o.Instrument == instrument && o.Status.Resting() {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) AppendTrade(t TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.Instrument] = append(s.trades[t.Instrument], t)
	return nil
}

func (s *MemStore) UpsertPosition(p PositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Account+"\x00"+p.Instrument] = p
	return nil
}

func (s *MemStore) UpsertBalance(b BalanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[b.Account+"\x00"+b.Asset] = b
	return nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
