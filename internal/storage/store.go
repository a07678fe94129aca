// Package storage defines the optional persistence boundary (§6): if a
// Store is configured, the core writes orders, trades, balances, and
// positions through it; if absent, the core runs in memory and loses state
// on restart. Two implementations are provided: PebbleStore (durable, keyed
// the way the teacher's pkg/storage/pebble_store.go and
// pkg/app/core/account/store.go key accounts/orders/trades) and MemStore
// (the in-memory fallback).
package storage

import (
	"github.com/clob-exchange/matching-engine/internal/money"
	"github.com/clob-exchange/matching-engine/internal/orderstore"
)

// TradeRecord is the durable shape of one settled trade leg pair.
type TradeRecord struct {
	ID           string
	Instrument   string
	Price        money.Amount
	Quantity     money.Amount
	BuyerAccount string
	SellerAccount string
	MakerOrderID string
	TakerOrderID string
	Sequence     uint64
	Timestamp    int64
}

// PositionRecord is the durable shape of one (account, instrument) position.
type PositionRecord struct {
	Account       string
	Instrument    string
	Quantity      money.Amount
	AverageCost   money.Amount
	TotalInvested money.Amount
}

// BalanceRecord is the durable shape of one (account, asset) balance pair.
type BalanceRecord struct {
	Account   string
	Asset     string
	Available money.Amount
	Locked    money.Amount
}

// Store is the persistence boundary the matching core writes through. Every
// method may return an infrastructure error; the matching engine retries a
// failed write once and then logs it. The order is not rejected and no
// collateral is released when the retry also fails.
type Store interface {
	SaveOrder(o *orderstore.Order) error
	LoadOpenOrders(instrument string) ([]*orderstore.Order, error)
	AppendTrade(t TradeRecord) error
	UpsertPosition(p PositionRecord) error
	UpsertBalance(b BalanceRecord) error
	Close() error
}
