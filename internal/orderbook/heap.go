package orderbook

import "github.com/clob-exchange/matching-engine/internal/money"

// MaxPriceHeap implements heap.Interface over bid prices: highest price on
// top, generalized from the teacher's int64-tick MaxPriceHeap to
// money.Amount so price levels are no longer bounded to integer ticks.
type MaxPriceHeap []money.Amount

func (h MaxPriceHeap) Len() int           { return len(h) }
func (h MaxPriceHeap) Less(i, j int) bool { return h[i].GreaterThan(h[j]) }
func (h MaxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MaxPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(money.Amount))
}

func (h *MaxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Peek returns the top element without removing it.
func (h MaxPriceHeap) Peek() (money.Amount, bool) {
	if len(h) == 0 {
		return money.Zero, false
	}
	return h[0], true
}

// MinPriceHeap implements heap.Interface over ask prices: lowest price on
// top.
type MinPriceHeap []money.Amount

func (h MinPriceHeap) Len() int           { return len(h) }
func (h MinPriceHeap) Less(i, j int) bool { return h[i].LessThan(h[j]) }
func (h MinPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MinPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(money.Amount))
}

func (h *MinPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Peek returns the top element without removing it.
func (h MinPriceHeap) Peek() (money.Amount, bool) {
	if len(h) == 0 {
		return money.Zero, false
	}
	return h[0], true
}
