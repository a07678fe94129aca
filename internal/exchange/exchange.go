// Package exchange implements the core API facade (C8): the single entry
// point every adapter (REST, WebSocket, CLI) calls through. It owns the
// instrument registry and one matching-engine actor per instrument, and
// translates component-level errors into the §7 taxonomy.
package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clob-exchange/matching-engine/internal/apperr"
	"github.com/clob-exchange/matching-engine/internal/instrument"
	"github.com/clob-exchange/matching-engine/internal/journal"
	"github.com/clob-exchange/matching-engine/internal/ledger"
	"github.com/clob-exchange/matching-engine/internal/matching"
	"github.com/clob-exchange/matching-engine/internal/money"
	"github.com/clob-exchange/matching-engine/internal/orderstore"
	"github.com/clob-exchange/matching-engine/internal/position"
	"github.com/clob-exchange/matching-engine/internal/storage"
	"github.com/clob-exchange/matching-engine/internal/util"
)

// Exchange wires C1-C7 together and exposes the §4.8 operation surface.
type Exchange struct {
	registry  *instrument.Registry
	ledger    *ledger.Ledger
	positions *position.Book
	orders    *orderstore.Store
	journal   *journal.Journal
	store     storage.Store
	logger    *zap.SugaredLogger
	clock     util.Clock

	mu      sync.RWMutex
	engines map[string]*matching.Engine
	cancel  map[string]context.CancelFunc

	tradesMu       sync.RWMutex
	recentTrades   map[string][]storage.TradeRecord // instrument -> ring buffer, newest last
	unsubscribeJnl func()
}

// recentTradesPerInstrument bounds list_trades memory without a backing
// store; older trades are still in the journal stream for any subscriber
// that wants full history.
const recentTradesPerInstrument = 1000

// New constructs an Exchange with no instruments registered. store may be
// nil (in-memory only, per §6).
func New(store storage.Store, logger *zap.SugaredLogger, clock util.Clock) *Exchange {
	if clock == nil {
		clock = util.RealClock{}
	}
	x := &Exchange{
		registry:     instrument.NewRegistry(),
		ledger:       ledger.New(),
		positions:    position.NewBook(),
		orders:       orderstore.New(),
		journal:      journal.New(),
		store:        store,
		logger:       logger,
		clock:        clock,
		engines:      make(map[string]*matching.Engine),
		cancel:       make(map[string]context.CancelFunc),
		recentTrades: make(map[string][]storage.TradeRecord),
	}
	events, unsubscribe := x.journal.Subscribe()
	x.unsubscribeJnl = unsubscribe
	go x.recordRecentTrades(events)
	return x
}

// recordRecentTrades is a long-lived journal subscriber feeding list_trades
// directly from memory, independent of whether a Store is configured; it
// exits when Close unsubscribes it and the channel is closed.
func (x *Exchange) recordRecentTrades(events <-chan journal.Event) {
	for e := range events {
		if e.Type != journal.TradeEvent {
			continue
		}
		buyerAccount, sellerAccount := e.MakerAccount, e.TakerAccount
		if e.TakerSide == orderstore.Buy {
			buyerAccount, sellerAccount = e.TakerAccount, e.MakerAccount
		}
		rec := storage.TradeRecord{
			ID: e.TradeID, Instrument: e.Instrument, Price: e.Price, Quantity: e.Quantity,
			BuyerAccount: buyerAccount, SellerAccount: sellerAccount,
			MakerOrderID: e.MakerOrderID, TakerOrderID: e.TakerOrderID,
			Sequence: e.Seq, Timestamp: e.Timestamp,
		}

		x.tradesMu.Lock()
		buf := append(x.recentTrades[e.Instrument], rec)
		if len(buf) > recentTradesPerInstrument {
			buf = buf[len(buf)-recentTradesPerInstrument:]
		}
		x.recentTrades[e.Instrument] = buf
		x.tradesMu.Unlock()
	}
}

func newOrderID() string { return uuid.NewString() }

func (x *Exchange) nowMillis() int64 { return x.clock.Now().UnixMilli() }

// RegisterInstrument adds a tradable instrument and starts its matching
// actor. It is the administrative counterpart to the engine's per-account
// operations and is not itself single-writer (instruments are registered
// before trading begins, or serialized by the caller).
func (x *Exchange) RegisterInstrument(i *instrument.Instrument) error {
	if err := x.registry.Register(i); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidOrder, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	eng := matching.New(i, x.ledger, x.positions, x.orders, x.journal, x.store, x.logger, newOrderID, x.nowMillis)
	go eng.Run(ctx)

	x.engines[i.Symbol] = eng
	x.cancel[i.Symbol] = cancel
	return nil
}

func (x *Exchange) engineFor(symbol string) (*matching.Engine, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	eng, ok := x.engines[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownInstrument, symbol)
	}
	return eng, nil
}

// Close stops every instrument's matching actor and the persistence store.
func (x *Exchange) Close() error {
	x.mu.Lock()
	for _, cancel := range x.cancel {
		cancel()
	}
	x.mu.Unlock()

	if x.unsubscribeJnl != nil {
		x.unsubscribeJnl()
	}

	if x.store != nil {
		return x.store.Close()
	}
	return nil
}

// PlaceOrderRequest is the facade-level admission request.
type PlaceOrderRequest struct {
	Account    string
	Instrument string
	Side       orderstore.Side
	Type       orderstore.Type
	Price      money.Amount
	Quantity   money.Amount
}

// PlaceOrder implements the place_order row of §4.8.
func (x *Exchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (matching.PlaceOrderResult, error) {
	eng, err := x.engineFor(req.Instrument)
	if err != nil {
		return matching.PlaceOrderResult{}, err
	}
	res, err := eng.PlaceOrder(ctx, matching.PlaceOrderRequest{
		Account: req.Account, Side: req.Side, Type: req.Type,
		Price: req.Price, Quantity: req.Quantity,
	})
	return res, err
}

// CancelOrder implements the cancel_order row of §4.8.
func (x *Exchange) CancelOrder(ctx context.Context, account, orderID string) (matching.CancelResult, error) {
	order, ok := x.orders.Get(orderID)
	if !ok {
		return matching.CancelResult{}, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderID)
	}
	eng, err := x.engineFor(order.Instrument)
	if err != nil {
		return matching.CancelResult{}, err
	}
	res, err := eng.CancelOrder(ctx, account, orderID)
	return res, err
}

// Deposit implements the deposit row of §4.8. Deposits and withdrawals are
// account/asset-level, not instrument-level, so they bypass the
// per-instrument writer entirely and go straight to the ledger.
func (x *Exchange) Deposit(account, asset string, amount money.Amount) (available, locked money.Amount, err error) {
	if !amount.IsPositive() {
		return money.Zero, money.Zero, fmt.Errorf("%w: deposit amount must be positive", apperr.ErrInvalidAmount)
	}
	x.ledger.Credit(account, asset, amount)
	x.journal.Publish(journal.Event{
		Type: journal.DepositEvent, Timestamp: x.nowMillis(),
		Account: account, Asset: asset, Amount: amount,
	})
	available, locked = x.ledger.Balance(account, asset)
	return available, locked, nil
}

// Withdraw implements the withdraw row of §4.8.
func (x *Exchange) Withdraw(account, asset string, amount money.Amount) (available, locked money.Amount, err error) {
	if !amount.IsPositive() {
		return money.Zero, money.Zero, fmt.Errorf("%w: withdrawal amount must be positive", apperr.ErrInvalidAmount)
	}
	if err := x.ledger.Debit(account, asset, amount); err != nil {
		return money.Zero, money.Zero, fmt.Errorf("%w: %v", apperr.ErrInsufficientFunds, err)
	}
	x.journal.Publish(journal.Event{
		Type: journal.WithdrawalEvent, Timestamp: x.nowMillis(),
		Account: account, Asset: asset, Amount: amount,
	})
	available, locked = x.ledger.Balance(account, asset)
	return available, locked, nil
}

// OrderBookView is the get_order_book result shape.
type OrderBookView struct {
	Instrument string
	Snapshot   matching.BookSnapshot
	Spread     money.Amount
	HasSpread  bool
}

// GetOrderBook implements the get_order_book row of §4.8.
func (x *Exchange) GetOrderBook(ctx context.Context, instrumentSymbol string, maxLevels int) (OrderBookView, error) {
	eng, err := x.engineFor(instrumentSymbol)
	if err != nil {
		return OrderBookView{}, err
	}
	snap, err := eng.GetOrderBook(ctx, maxLevels)
	if err != nil {
		return OrderBookView{}, err
	}
	view := OrderBookView{Instrument: instrumentSymbol, Snapshot: snap}
	if snap.HasBestBid && snap.HasBestAsk {
		view.Spread = snap.BestAsk.Sub(snap.BestBid)
		view.HasSpread = true
	}
	return view, nil
}

// AccountView is the get_account result shape.
type AccountView struct {
	Account   string
	Balances  map[string]struct{ Available, Locked money.Amount }
	Positions []position.Position
}

// GetAccount implements the get_account row of §4.8.
func (x *Exchange) GetAccount(account string) AccountView {
	return AccountView{
		Account:   account,
		Balances:  x.ledger.AllBalances(account),
		Positions: x.positions.ListByAccount(account),
	}
}

// GetOrder implements the get_order row of §4.8. The returned pointer is a
// private copy the caller owns outright; it never aliases memory the
// matching engine might still be mutating.
func (x *Exchange) GetOrder(orderID string) (*orderstore.Order, error) {
	o, ok := x.orders.Get(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderID)
	}
	return &o, nil
}

// ListOrdersFilter narrows list_orders results.
type ListOrdersFilter struct {
	Instrument string
	Status     *orderstore.Status
}

// ListOrders implements the list_orders row of §4.8.
func (x *Exchange) ListOrders(account string, filter ListOrdersFilter) []*orderstore.Order {
	orders := x.orders.ListByAccount(account, filter.Instrument)
	out := make([]*orderstore.Order, 0, len(orders))
	for i := range orders {
		if filter.Status != nil && orders[i].Status != *filter.Status {
			continue
		}
		out = append(out, &orders[i])
	}
	return out
}

// ListTrades implements the list_trades row of §4.8: the limit most recent
// trades for an instrument, newest last. Served from the in-memory ring
// buffer fed by the journal subscriber, so it works identically whether or
// not a Store is configured.
func (x *Exchange) ListTrades(instrumentSymbol string, limit int) ([]storage.TradeRecord, error) {
	if _, err := x.engineFor(instrumentSymbol); err != nil {
		return nil, err
	}

	x.tradesMu.RLock()
	defer x.tradesMu.RUnlock()

	trades := x.recentTrades[instrumentSymbol]
	if limit <= 0 || limit >= len(trades) {
		out := make([]storage.TradeRecord, len(trades))
		copy(out, trades)
		return out, nil
	}
	out := make([]storage.TradeRecord, limit)
	copy(out, trades[len(trades)-limit:])
	return out, nil
}

// GetInstrument is a supplemental read over C7 (§4.8 additions).
func (x *Exchange) GetInstrument(symbol string) (*instrument.Instrument, error) {
	i, err := x.registry.Get(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnknownInstrument, err)
	}
	return i, nil
}

// ListInstruments is a supplemental read over C7 (§4.8 additions).
func (x *Exchange) ListInstruments() []*instrument.Instrument {
	return x.registry.List()
}

// PushReferencePrice is the optional price-oracle adapter's write path.
func (x *Exchange) PushReferencePrice(symbol string, price money.Amount) error {
	if err := x.registry.UpdateReferencePrice(symbol, price); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrUnknownInstrument, err)
	}
	return nil
}

// Subscribe exposes the trade journal to a downstream consumer (API
// WebSocket hub, analytics, audit).
func (x *Exchange) Subscribe() (<-chan journal.Event, func()) {
	return x.journal.Subscribe()
}
