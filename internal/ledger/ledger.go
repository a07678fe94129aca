// Package ledger implements the custodial balance ledger (C1): available
// and locked balances per (account, asset), with an atomic multi-leg
// transfer primitive that the matching engine uses to settle a trade
// without ever exposing an intermediate negative or partially-applied
// state to a concurrent reader.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/clob-exchange/matching-engine/internal/money"
)

// ErrInsufficientFunds is returned by Debit, Lock, and Leg application
// when an account's available balance cannot cover the requested amount.
var ErrInsufficientFunds = fmt.Errorf("ledger: insufficient funds")

// Leg is one line of a multi-leg atomic transfer: a signed delta applied
// to either the available or the locked pool of (account, asset).
type Leg struct {
	Account string
	Asset   string
	Pool    Pool
	Delta   money.Amount // may be negative
}

// Pool distinguishes the unencumbered balance from collateral locked by
// open orders, per spec §3/§4.1.
type Pool int

const (
	Available Pool = iota
	Locked
)

type balance struct {
	available money.Amount
	locked    money.Amount
}

// shardCount buckets accounts across independent mutexes so unrelated
// accounts' transfers never serialize on each other, per SPEC_FULL §4.1.
const shardCount = 64

// Ledger is the sole source of truth for every account's balances. It is
// safe for concurrent use by multiple goroutines (multiple matching-engine
// instrument actors settle trades against the same ledger concurrently).
type Ledger struct {
	shards [shardCount]*shard
}

type shard struct {
	index    int
	mu       sync.Mutex
	balances map[string]map[string]*balance // account -> asset -> balance
}

// New returns an empty ledger.
func New() *Ledger {
	l := &Ledger{}
	for i := range l.shards {
		l.shards[i] = &shard{index: i, balances: make(map[string]map[string]*balance)}
	}
	return l
}

func shardFor(l *Ledger, account string) *shard {
	h := fnv32(account)
	return l.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

func (s *shard) get(account, asset string) *balance {
	accts, ok := s.balances[account]
	if !ok {
		accts = make(map[string]*balance)
		s.balances[account] = accts
	}
	b, ok := accts[asset]
	if !ok {
		b = &balance{}
		accts[asset] = b
	}
	return b
}

// Credit increases an account's available balance. It never fails.
func (l *Ledger) Credit(account, asset string, amount money.Amount) {
	if !amount.IsPositive() {
		return
	}
	s := shardFor(l, account)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(account, asset)
	b.available = b.available.Add(amount)
}

// Debit decreases an account's available balance. Fails with
// ErrInsufficientFunds, leaving the balance unchanged, if available is
// below amount.
func (l *Ledger) Debit(account, asset string, amount money.Amount) error {
	if !amount.IsPositive() {
		return nil
	}
	s := shardFor(l, account)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(account, asset)
	if b.available.LessThan(amount) {
		return fmt.Errorf("%w: account=%s asset=%s have=%s need=%s", ErrInsufficientFunds, account, asset, b.available, amount)
	}
	b.available = b.available.Sub(amount)
	return nil
}

// Lock moves amount from available into the locked pool (collateral
// encumbrance on order admission). Fails with ErrInsufficientFunds,
// leaving balances unchanged, if available is below amount.
func (l *Ledger) Lock(account, asset string, amount money.Amount) error {
	if !amount.IsPositive() {
		return nil
	}
	s := shardFor(l, account)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(account, asset)
	if b.available.LessThan(amount) {
		return fmt.Errorf("%w: account=%s asset=%s have=%s need=%s", ErrInsufficientFunds, account, asset, b.available, amount)
	}
	b.available = b.available.Sub(amount)
	b.locked = b.locked.Add(amount)
	return nil
}

// Unlock moves amount from locked back into available (cancel refund, or
// residual release after a partial market-order fill).
func (l *Ledger) Unlock(account, asset string, amount money.Amount) error {
	if !amount.IsPositive() {
		return nil
	}
	s := shardFor(l, account)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(account, asset)
	if b.locked.LessThan(amount) {
		return fmt.Errorf("ledger: cannot unlock more than locked: account=%s asset=%s locked=%s unlock=%s", account, asset, b.locked, amount)
	}
	b.locked = b.locked.Sub(amount)
	b.available = b.available.Add(amount)
	return nil
}

// Balance returns the available and locked amounts for (account, asset).
func (l *Ledger) Balance(account, asset string) (available, locked money.Amount) {
	s := shardFor(l, account)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(account, asset)
	return b.available, b.locked
}

// AllBalances returns a snapshot of every asset balance held by account.
func (l *Ledger) AllBalances(account string) map[string]struct{ Available, Locked money.Amount } {
	s := shardFor(l, account)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]struct{ Available, Locked money.Amount })
	for asset, b := range s.balances[account] {
		out[asset] = struct{ Available, Locked money.Amount }{b.available, b.locked}
	}
	return out
}

// TransferAtomic applies every leg or none. Legs touch at most two
// distinct accounts in the matching engine's usage (a trade settlement),
// but the primitive is general. The lock identity is the shard, not the
// account, so locks are acquired in ascending shard index order. Sorting
// by account name instead is not sufficient: two accounts' relative name
// order says nothing about their relative shard order, so a name-derived
// order can have two concurrent transfers lock the same pair of shards in
// opposite directions. Sorting by shard index gives every transfer a
// single, shared total order over locks, which is what rules out
// deadlock.
func (l *Ledger) TransferAtomic(legs []Leg) error {
	if len(legs) == 0 {
		return nil
	}

	involved := map[string]*shard{}
	for _, leg := range legs {
		involved[leg.Account] = shardFor(l, leg.Account)
	}

	distinct := make([]*shard, 0, len(involved))
	seen := map[*shard]bool{}
	for _, s := range involved {
		if seen[s] {
			continue
		}
		seen[s] = true
		distinct = append(distinct, s)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i].index < distinct[j].index })

	for _, s := range distinct {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range distinct {
			s.mu.Unlock()
		}
	}()

	// Validate every debiting leg before mutating anything, so a failure
	// leaves the ledger byte-for-byte unchanged.
	for _, leg := range legs {
		if leg.Delta.IsNegative() {
			s := involved[leg.Account]
			b := s.get(leg.Account, leg.Asset)
			need := leg.Delta.Neg()
			var have money.Amount
			switch leg.Pool {
			case Available:
				have = b.available
			case Locked:
				have = b.locked
			}
			if have.LessThan(need) {
				return fmt.Errorf("%w: account=%s asset=%s pool=%d have=%s need=%s", ErrInsufficientFunds, leg.Account, leg.Asset, leg.Pool, have, need)
			}
		}
	}

	for _, leg := range legs {
		s := involved[leg.Account]
		b := s.get(leg.Account, leg.Asset)
		switch leg.Pool {
		case Available:
			b.available = b.available.Add(leg.Delta)
		case Locked:
			b.locked = b.locked.Add(leg.Delta)
		}
	}
	return nil
}
