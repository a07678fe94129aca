package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/clob-exchange/matching-engine/internal/orderstore"
)

// PebbleStore is the durable Store backend, keyed the way the teacher's
// pkg/storage/pebble_store.go keys accounts/positions/orders/trades, with
// prefixes adapted to this exchange's entities instead of a perp account.
//
// Key schema:
//
//	bal:<account>:<asset>                   -> BalanceRecord
//	pos:<account>:<instrument>               -> PositionRecord
//	ord:<instrument>:<orderID>                -> orderstore.Order
//	trade:<instrument>:<020d-seq>:<tradeID>   -> TradeRecord
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) a Pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func balanceKey(account, asset string) []byte {
	return []byte(fmt.Sprintf("bal:%s:%s", account, asset))
}

func positionKey(account, instrument string) []byte {
	return []byte(fmt.Sprintf("pos:%s:%s", account, instrument))
}

func orderKey(instrument, orderID string) []byte {
	return []byte(fmt.Sprintf("ord:%s:%s", instrument, orderID))
}

func orderPrefix(instrument string) []byte {
	return []byte(fmt.Sprintf("ord:%s:", instrument))
}

func tradeKey(instrument string, sequence uint64, tradeID string) []byte {
	return []byte(fmt.Sprintf("trade:%s:%020d:%s", instrument, sequence, tradeID))
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func (s *PebbleStore) SaveOrder(o *orderstore.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("storage: marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.Instrument, o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadOpenOrders(instrument string) ([]*orderstore.Order, error) {
	prefix := orderPrefix(instrument)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("storage: iterate orders: %w", err)
	}
	defer iter.Close()

	var orders []*orderstore.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o orderstore.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue
		}
		if o.Status.Resting() {
			orders = append(orders, &o)
		}
	}
	return orders, nil
}

func (s *PebbleStore) AppendTrade(t TradeRecord) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("storage: marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(t.Instrument, t.Sequence, t.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("storage: append trade: %w", err)
	}
	return nil
}

func (s *PebbleStore) UpsertPosition(p PositionRecord) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage: marshal position: %w", err)
	}
	if err := s.db.Set(positionKey(p.Account, p.Instrument), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: upsert position: %w", err)
	}
	return nil
}

func (s *PebbleStore) UpsertBalance(b BalanceRecord) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("storage: marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKey(b.Account, b.Asset), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: upsert balance: %w", err)
	}
	return nil
}

var _ Store = (*PebbleStore)(nil)
