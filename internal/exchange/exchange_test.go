package exchange_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clob-exchange/matching-engine/internal/apperr"
	"github.com/clob-exchange/matching-engine/internal/exchange"
	"github.com/clob-exchange/matching-engine/internal/instrument"
	"github.com/clob-exchange/matching-engine/internal/money"
	"github.com/clob-exchange/matching-engine/internal/orderstore"
)

func amt(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.NewFromString(s)
	if err != nil {
		t.Fatalf("money.NewFromString(%q): %v", s, err)
	}
	return a
}

func newTestExchange(t *testing.T) *exchange.Exchange {
	t.Helper()
	x := exchange.New(nil, nil, nil)
	t.Cleanup(func() { _ = x.Close() })

	err := x.RegisterInstrument(&instrument.Instrument{
		Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT",
		TickSize: amt(t, "0.01"), LotSize: amt(t, "0.0001"), Active: true,
	})
	if err != nil {
		t.Fatalf("RegisterInstrument: %v", err)
	}
	return x
}

func TestPlaceOrderUnknownInstrument(t *testing.T) {
	x := newTestExchange(t)
	_, err := x.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Account: "alice", Instrument: "ETH/USDT", Side: orderstore.Buy, Type: orderstore.Limit,
		Price: amt(t, "100"), Quantity: amt(t, "1"),
	})
	if !errors.Is(err, apperr.ErrUnknownInstrument) {
		t.Fatalf("err = %v, want ErrUnknownInstrument", err)
	}
}

func TestDepositAndPlaceOrderRoundTrip(t *testing.T) {
	x := newTestExchange(t)

	avail, locked, err := x.Deposit("alice", "USDT", amt(t, "100000"))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if !avail.Equal(amt(t, "100000")) || !locked.IsZero() {
		t.Fatalf("avail=%s locked=%s after deposit, want 100000/0", avail, locked)
	}

	res, err := x.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Account: "alice", Instrument: "BTC/USDT", Side: orderstore.Buy, Type: orderstore.Limit,
		Price: amt(t, "50000"), Quantity: amt(t, "1.0"),
	})
	if err != nil || res.Err != nil {
		t.Fatalf("PlaceOrder failed: err=%v res.Err=%v", err, res.Err)
	}
	if res.OrderID == "" {
		t.Fatalf("expected an order id")
	}

	order, err := x.GetOrder(res.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Status != orderstore.Open {
		t.Fatalf("status = %v, want Open", order.Status)
	}

	view := x.GetAccount("alice")
	bal := view.Balances["USDT"]
	if !bal.Available.IsZero() || !bal.Locked.Equal(amt(t, "50000")) {
		t.Fatalf("alice USDT = %s avail / %s locked, want 0/50000", bal.Available, bal.Locked)
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	x := newTestExchange(t)
	_, _, err := x.Deposit("alice", "USDT", amt(t, "0"))
	if !errors.Is(err, apperr.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	x := newTestExchange(t)
	_, _, err := x.Withdraw("alice", "USDT", amt(t, "1"))
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestCancelOrderNotFound(t *testing.T) {
	x := newTestExchange(t)
	_, err := x.CancelOrder(context.Background(), "alice", "no-such-order")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelOrderNotOwner(t *testing.T) {
	x := newTestExchange(t)
	x.Deposit("alice", "USDT", amt(t, "100000"))
	res, err := x.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Account: "alice", Instrument: "BTC/USDT", Side: orderstore.Buy, Type: orderstore.Limit,
		Price: amt(t, "50000"), Quantity: amt(t, "1.0"),
	})
	if err != nil || res.Err != nil {
		t.Fatalf("PlaceOrder failed: err=%v res.Err=%v", err, res.Err)
	}

	_, err = x.CancelOrder(context.Background(), "mallory", res.OrderID)
	if !errors.Is(err, apperr.ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}

func TestGetOrderBookReportsSpread(t *testing.T) {
	x := newTestExchange(t)
	x.Deposit("alice", "USDT", amt(t, "100000"))
	x.Deposit("bob", "BTC", amt(t, "1.0"))

	x.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Account: "alice", Instrument: "BTC/USDT", Side: orderstore.Buy, Type: orderstore.Limit,
		Price: amt(t, "49900"), Quantity: amt(t, "1.0"),
	})
	x.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Account: "bob", Instrument: "BTC/USDT", Side: orderstore.Sell, Type: orderstore.Limit,
		Price: amt(t, "50100"), Quantity: amt(t, "1.0"),
	})

	view, err := x.GetOrderBook(context.Background(), "BTC/USDT", 10)
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if !view.HasSpread || !view.Spread.Equal(amt(t, "200")) {
		t.Fatalf("spread = %v (has=%v), want 200", view.Spread, view.HasSpread)
	}
}

func TestListTradesReturnsSettledTrades(t *testing.T) {
	x := newTestExchange(t)
	x.Deposit("alice", "USDT", amt(t, "100000"))
	x.Deposit("bob", "BTC", amt(t, "1.0"))

	x.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Account: "alice", Instrument: "BTC/USDT", Side: orderstore.Buy, Type: orderstore.Limit,
		Price: amt(t, "50000"), Quantity: amt(t, "1.0"),
	})
	res, err := x.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Account: "bob", Instrument: "BTC/USDT", Side: orderstore.Sell, Type: orderstore.Limit,
		Price: amt(t, "50000"), Quantity: amt(t, "1.0"),
	})
	if err != nil || res.Err != nil {
		t.Fatalf("sell failed: err=%v res.Err=%v", err, res.Err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := x.ListTrades("BTC/USDT", 0)
		if err != nil {
			t.Fatalf("ListTrades: %v", err)
		}
		if len(got) == 1 {
			if got[0].BuyerAccount != "alice" || got[0].SellerAccount != "bob" {
				t.Fatalf("trade = %+v, want buyer=alice seller=bob", got[0])
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("trade never appeared in ListTrades within the deadline")
}

func TestListTradesUnknownInstrument(t *testing.T) {
	x := newTestExchange(t)
	_, err := x.ListTrades("ETH/USDT", 0)
	if !errors.Is(err, apperr.ErrUnknownInstrument) {
		t.Fatalf("err = %v, want ErrUnknownInstrument", err)
	}
}
