package matching_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/clob-exchange/matching-engine/internal/apperr"
	"github.com/clob-exchange/matching-engine/internal/instrument"
	"github.com/clob-exchange/matching-engine/internal/journal"
	"github.com/clob-exchange/matching-engine/internal/ledger"
	"github.com/clob-exchange/matching-engine/internal/matching"
	"github.com/clob-exchange/matching-engine/internal/money"
	"github.com/clob-exchange/matching-engine/internal/orderstore"
	"github.com/clob-exchange/matching-engine/internal/position"
)

func amt(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.NewFromString(s)
	if err != nil {
		t.Fatalf("money.NewFromString(%q): %v", s, err)
	}
	return a
}

type harness struct {
	t      *testing.T
	ledger *ledger.Ledger
	engine *matching.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	inst := &instrument.Instrument{
		Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT",
		TickSize: amt(t, "0.01"), LotSize: amt(t, "0.0001"), Active: true,
	}
	led := ledger.New()
	var idCounter int
	newID := func() string {
		idCounter++
		return fmt.Sprintf("id-%d", idCounter)
	}
	now := func() int64 { return 1700000000000 }

	eng := matching.New(inst, led, position.NewBook(), orderstore.New(), journal.New(), nil, nil, newID, now)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	return &harness{t: t, ledger: led, engine: eng}
}

func (h *harness) place(req matching.PlaceOrderRequest) matching.PlaceOrderResult {
	h.t.Helper()
	res, _ := h.engine.PlaceOrder(context.Background(), req)
	return res
}

func TestS1DirectFullMatch(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit("alice", "USDT", amt(t, "100000"))
	h.ledger.Credit("bob", "BTC", amt(t, "2.0"))

	buy := h.place(matching.PlaceOrderRequest{Account: "alice", Side: orderstore.Buy, Type: orderstore.Limit, Price: amt(t, "50000"), Quantity: amt(t, "1.0")})
	if buy.Err != nil {
		t.Fatalf("alice's buy failed: %v", buy.Err)
	}
	sell := h.place(matching.PlaceOrderRequest{Account: "bob", Side: orderstore.Sell, Type: orderstore.Limit, Price: amt(t, "50000"), Quantity: amt(t, "1.0")})
	if sell.Err != nil {
		t.Fatalf("bob's sell failed: %v", sell.Err)
	}
	if len(sell.Fills) != 1 || !sell.Fills[0].Price.Equal(amt(t, "50000")) || !sell.Fills[0].Quantity.Equal(amt(t, "1.0")) {
		t.Fatalf("unexpected fills: %+v", sell.Fills)
	}

	aliceBTC, aliceBTCLocked := h.ledger.Balance("alice", "BTC")
	aliceUSDT, aliceUSDTLocked := h.ledger.Balance("alice", "USDT")
	if !aliceBTC.Equal(amt(t, "1.0")) || !aliceBTCLocked.IsZero() {
		t.Fatalf("alice BTC = %s/%s, want 1.0/0", aliceBTC, aliceBTCLocked)
	}
	if !aliceUSDT.Equal(amt(t, "50000")) || !aliceUSDTLocked.IsZero() {
		t.Fatalf("alice USDT = %s/%s, want 50000/0", aliceUSDT, aliceUSDTLocked)
	}

	bobBTC, bobBTCLocked := h.ledger.Balance("bob", "BTC")
	bobUSDT, _ := h.ledger.Balance("bob", "USDT")
	if !bobBTC.Equal(amt(t, "1.0")) || !bobBTCLocked.IsZero() {
		t.Fatalf("bob BTC = %s/%s, want 1.0/0", bobBTC, bobBTCLocked)
	}
	if !bobUSDT.Equal(amt(t, "50000")) {
		t.Fatalf("bob USDT = %s, want 50000", bobUSDT)
	}

	snap, err := h.engine.GetOrderBook(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Fatalf("book should be empty after a full match, got bids=%v asks=%v", snap.Bids, snap.Asks)
	}
}

func TestS2PartialFillResidueRests(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit("alice", "USDT", amt(t, "100000"))
	h.ledger.Credit("bob", "BTC", amt(t, "1.0"))

	h.place(matching.PlaceOrderRequest{Account: "alice", Side: orderstore.Buy, Type: orderstore.Limit, Price: amt(t, "50000"), Quantity: amt(t, "2.0")})
	sell := h.place(matching.PlaceOrderRequest{Account: "bob", Side: orderstore.Sell, Type: orderstore.Limit, Price: amt(t, "50000"), Quantity: amt(t, "1.0")})
	if sell.Err != nil {
		t.Fatalf("bob's sell failed: %v", sell.Err)
	}

	aliceBTC, _ := h.ledger.Balance("alice", "BTC")
	aliceUSDTAvail, aliceUSDTLocked := h.ledger.Balance("alice", "USDT")
	if !aliceBTC.Equal(amt(t, "1.0")) {
		t.Fatalf("alice BTC = %s, want 1.0", aliceBTC)
	}
	if !aliceUSDTAvail.IsZero() || !aliceUSDTLocked.Equal(amt(t, "50000")) {
		t.Fatalf("alice USDT = %s avail / %s locked, want 0/50000", aliceUSDTAvail, aliceUSDTLocked)
	}

	snap, _ := h.engine.GetOrderBook(context.Background(), 10)
	if len(snap.Bids) != 1 || !snap.Bids[0].Quantity.Equal(amt(t, "1.0")) {
		t.Fatalf("expected one resting bid of 1.0, got %+v", snap.Bids)
	}
}

func TestS3PriceImprovementAccruesToTaker(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit("bob", "BTC", amt(t, "1.0"))
	h.ledger.Credit("alice", "USDT", amt(t, "100000"))

	h.place(matching.PlaceOrderRequest{Account: "bob", Side: orderstore.Sell, Type: orderstore.Limit, Price: amt(t, "49900"), Quantity: amt(t, "1.0")})
	buy := h.place(matching.PlaceOrderRequest{Account: "alice", Side: orderstore.Buy, Type: orderstore.Limit, Price: amt(t, "50100"), Quantity: amt(t, "1.0")})
	if buy.Err != nil {
		t.Fatalf("alice's buy failed: %v", buy.Err)
	}
	if len(buy.Fills) != 1 || !buy.Fills[0].Price.Equal(amt(t, "49900")) {
		t.Fatalf("trade price = %+v, want maker's price 49900", buy.Fills)
	}

	aliceUSDT, aliceLocked := h.ledger.Balance("alice", "USDT")
	if !aliceUSDT.Equal(amt(t, "50100")) {
		t.Fatalf("alice USDT available = %s, want 50100 (100000 - 49900)", aliceUSDT)
	}
	if !aliceLocked.IsZero() {
		t.Fatalf("alice USDT locked = %s, want 0 after full fill + improvement refund", aliceLocked)
	}
}

func TestS4TimePriorityAtSamePrice(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit("a", "USDT", amt(t, "1000"))
	h.ledger.Credit("b", "USDT", amt(t, "1000"))
	h.ledger.Credit("c", "BTC", amt(t, "1.0"))

	h.place(matching.PlaceOrderRequest{Account: "a", Side: orderstore.Buy, Type: orderstore.Limit, Price: amt(t, "100"), Quantity: amt(t, "1")})
	h.place(matching.PlaceOrderRequest{Account: "b", Side: orderstore.Buy, Type: orderstore.Limit, Price: amt(t, "100"), Quantity: amt(t, "1")})
	sell := h.place(matching.PlaceOrderRequest{Account: "c", Side: orderstore.Sell, Type: orderstore.Limit, Price: amt(t, "100"), Quantity: amt(t, "1")})

	if len(sell.Fills) != 1 || sell.Fills[0].MakerAccount != "a" {
		t.Fatalf("expected order A (first in) to fill, got %+v", sell.Fills)
	}

	snap, _ := h.engine.GetOrderBook(context.Background(), 10)
	if len(snap.Bids) != 1 || !snap.Bids[0].Quantity.Equal(amt(t, "1")) {
		t.Fatalf("expected B's order still resting with qty 1, got %+v", snap.Bids)
	}
}

func TestS5CancellationRefundsCollateral(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit("alice", "USDT", amt(t, "100000"))

	placed := h.place(matching.PlaceOrderRequest{Account: "alice", Side: orderstore.Buy, Type: orderstore.Limit, Price: amt(t, "50000"), Quantity: amt(t, "1.0")})
	avail, locked := h.ledger.Balance("alice", "USDT")
	if !avail.IsZero() || !locked.Equal(amt(t, "50000")) {
		t.Fatalf("after place: avail=%s locked=%s, want 0/50000", avail, locked)
	}

	cancel, err := h.engine.CancelOrder(context.Background(), "alice", placed.OrderID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancel.Order.Status != orderstore.Cancelled {
		t.Fatalf("status = %v, want Cancelled", cancel.Order.Status)
	}

	avail, locked = h.ledger.Balance("alice", "USDT")
	if !avail.Equal(amt(t, "100000")) || !locked.IsZero() {
		t.Fatalf("after cancel: avail=%s locked=%s, want 100000/0", avail, locked)
	}
}

func TestS6InsufficientFundsRejectedBeforeStateChange(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit("alice", "USDT", amt(t, "40000"))

	res := h.place(matching.PlaceOrderRequest{Account: "alice", Side: orderstore.Buy, Type: orderstore.Limit, Price: amt(t, "50000"), Quantity: amt(t, "1.0")})
	if res.Err == nil {
		t.Fatalf("expected InsufficientFunds, got success")
	}
	if res.OrderID != "" {
		t.Fatalf("no order id should be issued on rejection, got %q", res.OrderID)
	}

	avail, locked := h.ledger.Balance("alice", "USDT")
	if !avail.Equal(amt(t, "40000")) || !locked.IsZero() {
		t.Fatalf("ledger must be unchanged: avail=%s locked=%s, want 40000/0", avail, locked)
	}
}

func TestMarketBuyWithNoLiquidityIsRejected(t *testing.T) {
	h := newHarness(t)
	h.ledger.Credit("alice", "USDT", amt(t, "100000"))

	res := h.place(matching.PlaceOrderRequest{Account: "alice", Side: orderstore.Buy, Type: orderstore.Market, Quantity: amt(t, "1.0")})
	if res.Err == nil || res.Status != orderstore.Rejected {
		t.Fatalf("expected a rejected market order, got %+v err=%v", res, res.Err)
	}

	avail, locked := h.ledger.Balance("alice", "USDT")
	if !avail.Equal(amt(t, "100000")) || !locked.IsZero() {
		t.Fatalf("ledger must be unchanged on no-liquidity reject: avail=%s locked=%s", avail, locked)
	}
}

func TestZeroQuantityIsInvalidOrder(t *testing.T) {
	h := newHarness(t)
	res := h.place(matching.PlaceOrderRequest{Account: "alice", Side: orderstore.Buy, Type: orderstore.Limit, Price: amt(t, "100"), Quantity: amt(t, "0")})
	if res.Err == nil {
		t.Fatalf("expected InvalidOrder for zero quantity")
	}
	if !errors.Is(res.Err, apperr.ErrInvalidOrder) {
		t.Fatalf("error = %v, want wrapping ErrInvalidOrder", res.Err)
	}
}
