package orderbook_test

import (
	"testing"

	"github.com/clob-exchange/matching-engine/internal/money"
	"github.com/clob-exchange/matching-engine/internal/orderbook"
)

func amt(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.NewFromString(s)
	if err != nil {
		t.Fatalf("money.NewFromString(%q): %v", s, err)
	}
	return a
}

func TestBestBidAskTracksInsertions(t *testing.T) {
	b := orderbook.New()
	b.Insert(&orderbook.RestingOrder{ID: "b1", Side: orderbook.Buy, Price: amt(t, "99"), Remaining: amt(t, "1"), CreatedSeq: 1})
	b.Insert(&orderbook.RestingOrder{ID: "b2", Side: orderbook.Buy, Price: amt(t, "101"), Remaining: amt(t, "1"), CreatedSeq: 2})
	b.Insert(&orderbook.RestingOrder{ID: "a1", Side: orderbook.Sell, Price: amt(t, "105"), Remaining: amt(t, "1"), CreatedSeq: 3})
	b.Insert(&orderbook.RestingOrder{ID: "a2", Side: orderbook.Sell, Price: amt(t, "103"), Remaining: amt(t, "1"), CreatedSeq: 4})

	bid, ok := b.BestBid()
	if !ok || !bid.Equal(amt(t, "101")) {
		t.Fatalf("best bid = %v, ok=%v, want 101", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Equal(amt(t, "103")) {
		t.Fatalf("best ask = %v, ok=%v, want 103", ask, ok)
	}
}

func TestFIFOWithinPriceLevel(t *testing.T) {
	b := orderbook.New()
	b.Insert(&orderbook.RestingOrder{ID: "first", Side: orderbook.Buy, Price: amt(t, "100"), Remaining: amt(t, "5"), CreatedSeq: 1})
	b.Insert(&orderbook.RestingOrder{ID: "second", Side: orderbook.Buy, Price: amt(t, "100"), Remaining: amt(t, "5"), CreatedSeq: 2})

	front := b.PeekBestBid()
	if front == nil || front.ID != "first" {
		t.Fatalf("front = %v, want order 'first'", front)
	}

	b.ConsumeBestFront(orderbook.Buy, amt(t, "5"))
	front = b.PeekBestBid()
	if front == nil || front.ID != "second" {
		t.Fatalf("front after consuming first = %v, want order 'second'", front)
	}
}

func TestConsumeBestFrontPartialFillLeavesRemainder(t *testing.T) {
	b := orderbook.New()
	b.Insert(&orderbook.RestingOrder{ID: "maker", Side: orderbook.Sell, Price: amt(t, "50"), Remaining: amt(t, "10"), CreatedSeq: 1})

	maker, ok := b.ConsumeBestFront(orderbook.Sell, amt(t, "4"))
	if !ok {
		t.Fatalf("expected a maker to be consumed")
	}
	if !maker.Remaining.Equal(amt(t, "6")) {
		t.Fatalf("remaining = %s, want 6", maker.Remaining)
	}
	front := b.PeekBestAsk()
	if front == nil || front.ID != "maker" {
		t.Fatalf("partially filled maker should still be resting at front")
	}
}

func TestRemoveCancelsRestingOrder(t *testing.T) {
	b := orderbook.New()
	b.Insert(&orderbook.RestingOrder{ID: "x", Side: orderbook.Buy, Price: amt(t, "10"), Remaining: amt(t, "1"), CreatedSeq: 1})

	if !b.Remove("x") {
		t.Fatalf("Remove(x) = false, want true")
	}
	if _, ok := b.BestBid(); ok {
		t.Fatalf("book should be empty after removing its only order")
	}
	if b.Remove("x") {
		t.Fatalf("Remove(x) a second time should report false")
	}
}

func TestAggregateDepthOrdering(t *testing.T) {
	b := orderbook.New()
	b.Insert(&orderbook.RestingOrder{ID: "b1", Side: orderbook.Buy, Price: amt(t, "99"), Remaining: amt(t, "1"), CreatedSeq: 1})
	b.Insert(&orderbook.RestingOrder{ID: "b2", Side: orderbook.Buy, Price: amt(t, "101"), Remaining: amt(t, "2"), CreatedSeq: 2})
	b.Insert(&orderbook.RestingOrder{ID: "b3", Side: orderbook.Buy, Price: amt(t, "101"), Remaining: amt(t, "3"), CreatedSeq: 3})

	depth := b.AggregateDepth(orderbook.Buy, 10)
	if len(depth) != 2 {
		t.Fatalf("len(depth) = %d, want 2", len(depth))
	}
	if !depth[0].Price.Equal(amt(t, "101")) || !depth[0].Quantity.Equal(amt(t, "5")) {
		t.Fatalf("top level = %+v, want price 101 qty 5", depth[0])
	}
	if depth[0].OrderCount != 2 {
		t.Fatalf("top level order count = %d, want 2 (b2, b3)", depth[0].OrderCount)
	}
	if !depth[1].Price.Equal(amt(t, "99")) {
		t.Fatalf("second level price = %s, want 99", depth[1].Price)
	}
	if depth[1].OrderCount != 1 {
		t.Fatalf("second level order count = %d, want 1 (b1)", depth[1].OrderCount)
	}
}

func TestIsCrossedDetectsCrossedBook(t *testing.T) {
	b := orderbook.New()
	b.Insert(&orderbook.RestingOrder{ID: "b1", Side: orderbook.Buy, Price: amt(t, "100"), Remaining: amt(t, "1"), CreatedSeq: 1})
	if b.IsCrossed() {
		t.Fatalf("one-sided book should never be crossed")
	}
	b.Insert(&orderbook.RestingOrder{ID: "a1", Side: orderbook.Sell, Price: amt(t, "90"), Remaining: amt(t, "1"), CreatedSeq: 2})
	if !b.IsCrossed() {
		t.Fatalf("bid 100 / ask 90 should be reported as crossed")
	}
}
