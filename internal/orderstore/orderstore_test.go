package orderstore_test

import (
	"sync"
	"testing"

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

func TestInsertDoesNotAliasCallersPointer(t *testing.T) {
	s := orderstore.New()
	o := &orderstore.Order{ID: "o1", Account: "alice", Quantity: amt(t, "10")}
	if err := s.Insert(o); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Mutating the caller's struct after Insert must never be visible
	// through Get: the store keeps its own copy.
	o.Filled = amt(t, "7")
	o.Status = orderstore.PartiallyFilled

	got, ok := s.Get("o1")
	if !ok {
		t.Fatalf("Get(o1) not found")
	}
	if !got.Filled.IsZero() || got.Status != orderstore.Open {
		t.Fatalf("Get returned %+v, want untouched by caller's later mutation", got)
	}
}

func TestApplyFillVisibleThroughGet(t *testing.T) {
	s := orderstore.New()
	o := &orderstore.Order{ID: "o1", Account: "alice", Quantity: amt(t, "10")}
	if err := s.Insert(o); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.ApplyFill("o1", amt(t, "4")); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	got, _ := s.Get("o1")
	if !got.Filled.Equal(amt(t, "4")) || got.Status != orderstore.PartiallyFilled {
		t.Fatalf("got %+v, want filled=4 status=partially_filled", got)
	}

	if err := s.ApplyFill("o1", amt(t, "6")); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	got, _ = s.Get("o1")
	if !got.Filled.Equal(amt(t, "10")) || got.Status != orderstore.Filled {
		t.Fatalf("got %+v, want filled=10 status=filled", got)
	}
}

// TestConcurrentGetDuringApplyFillNeverObservesTornState exercises the
// race a reader (API list/get) and a writer (the matching engine settling
// fills) produce if Get ever returned a pointer into the store's own
// memory: this only passes cleanly under `go test -race`, but even without
// the race detector it pins down that every Get reflects one complete
// ApplyFill step, never a half-applied one.
func TestConcurrentGetDuringApplyFillNeverObservesTornState(t *testing.T) {
	s := orderstore.New()
	o := &orderstore.Order{ID: "o1", Account: "alice", Quantity: amt(t, "1000")}
	if err := s.Insert(o); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = s.ApplyFill("o1", amt(t, "1"))
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			got, ok := s.Get("o1")
			if !ok {
				t.Errorf("Get(o1) not found mid-fill")
				return
			}
			if got.Filled.IsNegative() || got.Filled.GreaterThan(amt(t, "1000")) {
				t.Errorf("Get returned an out-of-range Filled: %s", got.Filled)
				return
			}
		}
	}()

	wg.Wait()
}

func TestListByAccountReturnsIndependentCopies(t *testing.T) {
	s := orderstore.New()
	if err := s.Insert(&orderstore.Order{ID: "o1", Account: "alice", Instrument: "BTC/USDT", Quantity: amt(t, "1")}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	orders := s.ListByAccount("alice", "")
	if len(orders) != 1 {
		t.Fatalf("len(orders) = %d, want 1", len(orders))
	}
	orders[0].Status = orderstore.Cancelled

	got, _ := s.Get("o1")
	if got.Status != orderstore.Open {
		t.Fatalf("mutating a ListByAccount result leaked into the store: status=%s", got.Status)
	}
}
