// Package matching implements the matching engine (C5): the per-instrument
// single-writer orchestrator that validates admission, locks collateral,
// drives price-time-priority matching, settles trades atomically through
// the ledger, and updates positions and the trade journal.
//
// Per-instrument serialization is a command-queue actor — one goroutine per
// instrument draining a buffered channel — styled directly on the teacher's
// consensus.Engine.Run(ctx) select-loop. The channel read is the
// acquisition of the writer slot. When a storage.Store is configured, its
// SaveOrder and AppendTrade calls run synchronously inside the loop, so a
// slow store delays every later command for the instrument.
package matching

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clob-exchange/matching-engine/internal/apperr"
	"github.com/clob-exchange/matching-engine/internal/instrument"
	"github.com/clob-exchange/matching-engine/internal/journal"
	"github.com/clob-exchange/matching-engine/internal/ledger"
	"github.com/clob-exchange/matching-engine/internal/money"
	"github.com/clob-exchange/matching-engine/internal/orderbook"
	"github.com/clob-exchange/matching-engine/internal/orderstore"
	"github.com/clob-exchange/matching-engine/internal/position"
	"github.com/clob-exchange/matching-engine/internal/storage"
)

// Fill is one leg of matching that the facade/journal/API render to a caller.
type Fill struct {
	TradeID      string
	Price        money.Amount
	Quantity     money.Amount
	MakerOrderID string
	TakerOrderID string
	MakerAccount string
	TakerAccount string
}

// PlaceOrderRequest is the admission request for a new order.
type PlaceOrderRequest struct {
	Account  string
	Side     orderstore.Side
	Type     orderstore.Type
	Price    money.Amount // ignored for Market
	Quantity money.Amount
}

// PlaceOrderResult is what the caller of place_order receives.
type PlaceOrderResult struct {
	OrderID      string
	Status       orderstore.Status
	Filled       money.Amount
	Remaining    money.Amount
	Fills        []Fill
	RejectReason string
	Err          error
}

// CancelResult is what the caller of cancel_order receives.
type CancelResult struct {
	Order orderstore.Order
	Err   error
}

type idGenerator func() string

// Engine is the single-writer actor for one instrument.
type Engine struct {
	instrument *instrument.Instrument
	book       *orderbook.Book
	ledger     *ledger.Ledger
	positions  *position.Book
	orders     *orderstore.Store
	journal    *journal.Journal
	store      storage.Store // optional
	logger     *zap.SugaredLogger
	newID      idGenerator
	now        func() int64

	cmdCh chan any

	createdSeq uint64
	tradeSeq   uint64
}

// New constructs an engine for a single instrument. newID supplies order
// and trade IDs (google/uuid in production, a deterministic stub in tests).
// now supplies unix-millis timestamps for journal/order records.
func New(
	inst *instrument.Instrument,
	led *ledger.Ledger,
	positions *position.Book,
	orders *orderstore.Store,
	j *journal.Journal,
	store storage.Store,
	logger *zap.SugaredLogger,
	newID func() string,
	now func() int64,
) *Engine {
	return &Engine{
		instrument: inst,
		book:       orderbook.New(),
		ledger:     led,
		positions:  positions,
		orders:     orders,
		journal:    j,
		store:      store,
		logger:     logger,
		newID:      newID,
		now:        now,
		cmdCh:      make(chan any, 256),
	}
}

// Run drains the command queue until ctx is cancelled. It is meant to run
// in its own goroutine for the engine's whole lifetime.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-e.cmdCh:
			switch cmd := c.(type) {
			case *placeCmd:
				cmd.resp <- e.handlePlace(cmd.req)
			case *cancelCmd:
				cmd.resp <- e.handleCancel(cmd.account, cmd.orderID)
			case *snapshotCmd:
				cmd.resp <- e.handleSnapshot(cmd.maxLevels)
			}
		}
	}
}

type placeCmd struct {
	req  PlaceOrderRequest
	resp chan PlaceOrderResult
}

type cancelCmd struct {
	account string
	orderID string
	resp    chan CancelResult
}

type snapshotCmd struct {
	maxLevels int
	resp      chan BookSnapshot
}

// PlaceOrder submits an admission request and blocks until the engine has
// processed it (or ctx is cancelled while waiting for the writer slot).
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	resp := make(chan PlaceOrderResult, 1)
	select {
	case e.cmdCh <- &placeCmd{req: req, resp: resp}:
	case <-ctx.Done():
		return PlaceOrderResult{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, r.Err
	case <-ctx.Done():
		return PlaceOrderResult{}, ctx.Err()
	}
}

// CancelOrder submits a cancellation request and blocks until processed.
func (e *Engine) CancelOrder(ctx context.Context, account, orderID string) (CancelResult, error) {
	resp := make(chan CancelResult, 1)
	select {
	case e.cmdCh <- &cancelCmd{account: account, orderID: orderID, resp: resp}:
	case <-ctx.Done():
		return CancelResult{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, r.Err
	case <-ctx.Done():
		return CancelResult{}, ctx.Err()
	}
}

// BookSnapshot is a consistent point-in-time view of aggregated depth.
type BookSnapshot struct {
	Bids       []orderbook.PriceLevel
	Asks       []orderbook.PriceLevel
	BestBid    money.Amount
	HasBestBid bool
	BestAsk    money.Amount
	HasBestAsk bool
}

// GetOrderBook returns a consistent snapshot of aggregated depth, taken
// inside the writer so it can never straddle an in-progress matching step.
func (e *Engine) GetOrderBook(ctx context.Context, maxLevels int) (BookSnapshot, error) {
	resp := make(chan BookSnapshot, 1)
	select {
	case e.cmdCh <- &snapshotCmd{maxLevels: maxLevels, resp: resp}:
	case <-ctx.Done():
		return BookSnapshot{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return BookSnapshot{}, ctx.Err()
	}
}

func (e *Engine) handleSnapshot(maxLevels int) BookSnapshot {
	bid, hasBid := e.book.BestBid()
	ask, hasAsk := e.book.BestAsk()
	return BookSnapshot{
		Bids:       e.book.AggregateDepth(orderbook.Buy, maxLevels),
		Asks:       e.book.AggregateDepth(orderbook.Sell, maxLevels),
		BestBid:    bid,
		HasBestBid: hasBid,
		BestAsk:    ask,
		HasBestAsk: hasAsk,
	}
}

func (e *Engine) handlePlace(req PlaceOrderRequest) PlaceOrderResult {
	if err := e.validateAdmission(req); err != nil {
		return PlaceOrderResult{Err: err}
	}
	if !e.instrument.Active {
		return PlaceOrderResult{Err: fmt.Errorf("%w: %s", apperr.ErrInstrumentInactive, e.instrument.Symbol)}
	}

	lockAsset, lockAmount := e.collateralRequirement(req)

	if lockAmount.IsPositive() {
		if err := e.ledger.Lock(req.Account, lockAsset, lockAmount); err != nil {
			return PlaceOrderResult{Err: fmt.Errorf("%w: %v", economicErrorFor(req.Side), err)}
		}
	}

	e.createdSeq++
	order := &orderstore.Order{
		ID:         e.newID(),
		Account:    req.Account,
		Instrument: e.instrument.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Price:      req.Price,
		Quantity:   req.Quantity,
		Status:     orderstore.Open,
		CreatedSeq: e.createdSeq,
		CreatedAt:  e.now(),
	}
	if err := e.orders.Insert(order); err != nil {
		// ID collision is practically impossible with uuid generation; treat
		// as an infrastructure failure and refund the lock.
		if lockAmount.IsPositive() {
			_ = e.ledger.Unlock(req.Account, lockAsset, lockAmount)
		}
		return PlaceOrderResult{Err: fmt.Errorf("%w: %v", apperr.ErrPersistenceFailure, err)}
	}
	e.persistOrder(order)

	fills := e.matchLoop(order, lockAsset, lockAmount)

	remaining := order.Remaining()
	if order.Type == orderstore.Market {
		e.finalizeMarketOrder(order, lockAsset, lockAmount, fills)
	} else if remaining.IsPositive() && order.Status.Resting() {
		e.book.Insert(&orderbook.RestingOrder{
			ID:         order.ID,
			Account:    order.Account,
			Side:       bookSide(order.Side),
			Price:      order.Price,
			Remaining:  remaining,
			CreatedSeq: order.CreatedSeq,
		})
	}
	e.persistOrder(order)

	var placeErr error
	if order.Status == orderstore.Rejected {
		placeErr = fmt.Errorf("%w: %s", apperr.ErrNoLiquidity, order.RejectReason)
	}

	return PlaceOrderResult{
		OrderID:      order.ID,
		Status:       order.Status,
		Filled:       order.Filled,
		Remaining:    order.Remaining(),
		Fills:        fills,
		RejectReason: order.RejectReason,
		Err:          placeErr,
	}
}

func economicErrorFor(side orderstore.Side) error {
	if side == orderstore.Buy {
		return apperr.ErrInsufficientFunds
	}
	return apperr.ErrInsufficientShares
}

func bookSide(s orderstore.Side) orderbook.Side {
	if s == orderstore.Buy {
		return orderbook.Buy
	}
	return orderbook.Sell
}

func (e *Engine) validateAdmission(req PlaceOrderRequest) error {
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", apperr.ErrInvalidOrder)
	}
	switch req.Type {
	case orderstore.Limit:
		if !req.Price.IsPositive() {
			return fmt.Errorf("%w: limit order requires a positive price", apperr.ErrInvalidOrder)
		}
		if !money.AlignsToStep(req.Price, e.instrument.TickSize) {
			return fmt.Errorf("%w: price %s not aligned to tick size %s", apperr.ErrInvalidOrder, req.Price, e.instrument.TickSize)
		}
	case orderstore.Market:
		if req.Price.IsPositive() {
			return fmt.Errorf("%w: market order must not specify a price", apperr.ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown order type", apperr.ErrInvalidOrder)
	}
	return nil
}

// collateralRequirement implements §4.5.1 step 2.
func (e *Engine) collateralRequirement(req PlaceOrderRequest) (asset string, amount money.Amount) {
	switch {
	case req.Side == orderstore.Buy && req.Type == orderstore.Limit:
		return e.instrument.Quote, req.Price.Mul(req.Quantity)
	case req.Side == orderstore.Sell && req.Type == orderstore.Limit:
		return e.instrument.Base, req.Quantity
	case req.Side == orderstore.Buy && req.Type == orderstore.Market:
		return e.instrument.Quote, e.estimateMarketBuyNotional(req.Quantity)
	default: // Sell + Market
		return e.instrument.Base, req.Quantity
	}
}

// estimateMarketBuyNotional walks the resting ask side summing
// price*remaining until quantity is covered or the book is exhausted, per
// §4.5.1's Market-Buy collateral policy. Because the engine is the sole
// writer for this instrument, the book it observes here is identical to
// the book the matching loop will observe moments later, so the estimate
// and the eventual real consumption always agree exactly.
func (e *Engine) estimateMarketBuyNotional(quantity money.Amount) money.Amount {
	remaining := quantity
	total := money.Zero
	for _, lvl := range e.book.AggregateDepth(orderbook.Sell, 0) {
		if !remaining.IsPositive() {
			break
		}
		take := money.Min(remaining, lvl.Quantity)
		total = total.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
	}
	return total
}

// matchLoop implements §4.5.2.
func (e *Engine) matchLoop(taker *orderstore.Order, lockAsset string, lockedAmount money.Amount) []Fill {
	var fills []Fill
	opposite := orderbook.Sell
	if taker.Side == orderstore.Sell {
		opposite = orderbook.Buy
	}

	for {
		remaining := taker.Remaining()
		if !remaining.IsPositive() {
			break
		}

		var maker *orderbook.RestingOrder
		if opposite == orderbook.Sell {
			maker = e.book.PeekBestAsk()
		} else {
			maker = e.book.PeekBestBid()
		}
		if maker == nil {
			break
		}

		if !crosses(taker, maker) {
			break
		}

		tradePrice := maker.Price
		tradeQty := money.Min(remaining, maker.Remaining)

		fill := e.settleTrade(taker, maker, tradePrice, tradeQty)
		fills = append(fills, fill)

		// Taker's store record advances through the same locked path as the
		// maker's, fill by fill, so a concurrent Get/List never sees it jump
		// straight from admission to its final state.
		if err := e.orders.ApplyFill(taker.ID, tradeQty); err != nil && e.logger != nil {
			e.logger.Errorw("apply_fill on taker failed", "order_id", taker.ID, "error", err)
		}
		taker.Filled = taker.Filled.Add(tradeQty)
		if taker.Remaining().IsPositive() {
			taker.Status = orderstore.PartiallyFilled
		} else {
			taker.Status = orderstore.Filled
		}

		if err := e.orders.ApplyFill(maker.ID, tradeQty); err != nil && e.logger != nil {
			e.logger.Errorw("apply_fill on maker failed", "order_id", maker.ID, "error", err)
		}

		// Limit orders (taker or resting maker) locked at their own price;
		// release any per-fill price-improvement surplus immediately so the
		// remaining locked balance always equals price*remaining, matching
		// the cancellation refund formula in §4.5.4.
		if taker.Type == orderstore.Limit && taker.Side == orderstore.Buy {
			improvement := taker.Price.Sub(tradePrice).Mul(tradeQty)
			if improvement.IsPositive() {
				if err := e.ledger.Unlock(taker.Account, lockAsset, improvement); err != nil && e.logger != nil {
					e.logger.Errorw("price improvement unlock failed", "account", taker.Account, "error", err)
				}
			}
		}

		e.book.ConsumeBestFront(opposite, tradeQty)
	}

	return fills
}

func crosses(taker *orderstore.Order, maker *orderbook.RestingOrder) bool {
	if taker.Type == orderstore.Market {
		return true
	}
	if taker.Side == orderstore.Buy {
		return taker.Price.GreaterThanOrEqual(maker.Price)
	}
	return taker.Price.LessThanOrEqual(maker.Price)
}

// settleTrade implements §4.5.3: atomic ledger legs, position updates for
// both sides, and a journal publish.
func (e *Engine) settleTrade(taker *orderstore.Order, maker *orderbook.RestingOrder, price, qty money.Amount) Fill {
	notional := price.Mul(qty)

	var buyerAccount, sellerAccount, buyerOrderID, sellerOrderID string
	if taker.Side == orderstore.Buy {
		buyerAccount, sellerAccount = taker.Account, maker.Account
		buyerOrderID, sellerOrderID = taker.ID, maker.ID
	} else {
		buyerAccount, sellerAccount = maker.Account, taker.Account
		buyerOrderID, sellerOrderID = maker.ID, taker.ID
	}

	legs := []ledger.Leg{
		{Account: buyerAccount, Asset: e.instrument.Quote, Pool: ledger.Locked, Delta: notional.Neg()},
		{Account: buyerAccount, Asset: e.instrument.Base, Pool: ledger.Available, Delta: qty},
		{Account: sellerAccount, Asset: e.instrument.Base, Pool: ledger.Locked, Delta: qty.Neg()},
		{Account: sellerAccount, Asset: e.instrument.Quote, Pool: ledger.Available, Delta: notional},
	}
	if err := e.ledger.TransferAtomic(legs); err != nil && e.logger != nil {
		// The admission-time lock guarantees solvency for exactly this
		// settlement; reaching this branch means a programming invariant
		// was violated elsewhere, not a caller-expected economic error.
		e.logger.Errorw("settlement transfer failed despite admission-time lock", "error", err)
	}

	e.positions.ApplyFill(buyerAccount, e.instrument.Symbol, position.Buy, qty, price)
	sellDelta := e.positions.ApplyFill(sellerAccount, e.instrument.Symbol, position.Sell, qty, price)

	e.tradeSeq++
	tradeID := e.newID()
	e.journal.Publish(journal.Event{
		Type:              journal.TradeEvent,
		Timestamp:         e.now(),
		TradeID:           tradeID,
		Instrument:        e.instrument.Symbol,
		TakerOrderID:      taker.ID,
		MakerOrderID:      maker.ID,
		TakerAccount:      taker.Account,
		MakerAccount:      maker.Account,
		TakerSide:         taker.Side,
		Price:             price,
		Quantity:          qty,
		SellerRealizedPnL: sellDelta.RealizedPnL,
	})

	if e.store != nil {
		rec := storage.TradeRecord{
			ID: tradeID, Instrument: e.instrument.Symbol, Price: price, Quantity: qty,
			BuyerAccount: buyerAccount, SellerAccount: sellerAccount,
			MakerOrderID: maker.ID, TakerOrderID: taker.ID,
			Sequence: e.tradeSeq, Timestamp: e.now(),
		}
		e.persistWithRetry(func() error { return e.store.AppendTrade(rec) }, "append_trade")
	}

	return Fill{
		TradeID:      tradeID,
		Price:        price,
		Quantity:     qty,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		MakerAccount: maker.Account,
		TakerAccount: taker.Account,
	}
}

// finalizeMarketOrder implements the Market-order tail of §4.5.1 step 6:
// residue is cancelled (never rests) and unconsumed collateral is unlocked.
func (e *Engine) finalizeMarketOrder(order *orderstore.Order, lockAsset string, lockedAmount money.Amount, fills []Fill) {
	var consumed money.Amount
	if order.Side == orderstore.Buy {
		// What actually left the locked quote pool is exactly the notional
		// of this order's own fills, read straight off the fills it
		// produced rather than re-estimated from the book.
		consumed = money.Zero
		for _, f := range fills {
			consumed = consumed.Add(f.Price.Mul(f.Quantity))
		}
	} else {
		consumed = order.Filled
	}
	residual := lockedAmount.Sub(consumed)
	if residual.IsPositive() {
		if err := e.ledger.Unlock(order.Account, lockAsset, residual); err != nil && e.logger != nil {
			e.logger.Errorw("market order residual unlock failed", "order_id", order.ID, "error", err)
		}
	}

	if order.Remaining().IsPositive() {
		if len(fills) == 0 {
			if err := e.orders.Reject(order.ID, "no liquidity"); err != nil && e.logger != nil {
				e.logger.Errorw("reject failed", "order_id", order.ID, "error", err)
			}
			order.Status = orderstore.Rejected
			order.RejectReason = "no liquidity"
			e.journal.Publish(journal.Event{
				Type: journal.OrderRejectedEvent, Timestamp: e.now(),
				OrderID: order.ID, Reason: order.RejectReason,
			})
		} else {
			if err := e.orders.Cancel(order.ID); err != nil && e.logger != nil {
				e.logger.Errorw("cancel failed", "order_id", order.ID, "error", err)
			}
			order.Status = orderstore.Cancelled
		}
	}
}

func (e *Engine) handleCancel(account, orderID string) CancelResult {
	order, ok := e.orders.Get(orderID)
	if !ok {
		return CancelResult{Err: fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderID)}
	}
	if order.Account != account {
		return CancelResult{Err: fmt.Errorf("%w: order %s", apperr.ErrNotOwner, orderID)}
	}
	if !order.Status.Resting() {
		return CancelResult{Err: fmt.Errorf("%w: order %s status=%s", apperr.ErrNotCancellable, orderID, order.Status)}
	}

	e.book.Remove(order.ID)

	var asset string
	var refund money.Amount
	if order.Side == orderstore.Buy {
		asset = e.instrument.Quote
		refund = order.Price.Mul(order.Remaining())
	} else {
		asset = e.instrument.Base
		refund = order.Remaining()
	}
	if refund.IsPositive() {
		if err := e.ledger.Unlock(order.Account, asset, refund); err != nil && e.logger != nil {
			e.logger.Errorw("cancel refund unlock failed", "order_id", order.ID, "error", err)
		}
	}

	if err := e.orders.Cancel(order.ID); err != nil {
		return CancelResult{Err: fmt.Errorf("%w: %v", apperr.ErrNotCancellable, err)}
	}
	order.Status = orderstore.Cancelled
	e.persistOrder(&order)

	e.journal.Publish(journal.Event{
		Type: journal.OrderCancelledEvent, Timestamp: e.now(), OrderID: order.ID,
	})

	return CancelResult{Order: order}
}

func (e *Engine) persistOrder(o *orderstore.Order) {
	if e.store == nil {
		return
	}
	e.persistWithRetry(func() error { return e.store.SaveOrder(o) }, "save_order")
}

// persistWithRetry implements §7's infrastructure-error policy: retry once,
// then log and move on (the in-memory state is already authoritative; the
// caller already has its result, so a second persistence failure does not
// unwind an already-committed match).
func (e *Engine) persistWithRetry(op func() error, label string) {
	if err := op(); err != nil {
		if err2 := op(); err2 != nil && e.logger != nil {
			e.logger.Errorw("persistence failed after retry", "op", label, "error", err2)
		}
	}
}
