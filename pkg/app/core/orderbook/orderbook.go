// Package orderbook stores conditional orders per pair and side in
// append-only sequences. An order's index is its position of insertion and
// never changes; orders are retired by status, not removed.
package orderbook

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/journal"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
)

type book struct {
	buys  []*Order
	sells []*Order
}

func (b *book) side(s Side) *[]*Order {
	if s == Buy {
		return &b.buys
	}
	return &b.sells
}

// Ref addresses one order.
type Ref struct {
	Pair  market.PairKey
	Side  Side
	Index uint64
}

type Store struct {
	j     *journal.Journal
	books map[market.PairKey]*book
	dirty map[Ref]struct{}
}

func NewStore(j *journal.Journal) *Store {
	return &Store{
		j:     j,
		books: make(map[market.PairKey]*book),
		dirty: make(map[Ref]struct{}),
	}
}

// Place appends o to its (pair, side) sequence and returns the assigned index.
// Index, ID, Filled and Status are set by the store.
func (s *Store) Place(o *Order, now int64) (uint64, error) {
	if o == nil {
		return 0, errors.New("nil order")
	}
	if o.Side != Buy && o.Side != Sell {
		return 0, errors.Newf("invalid side %d", o.Side)
	}
	if o.AmountIn == nil || o.AmountIn.IsZero() {
		return 0, errors.Wrap(dexerr.ErrInvalidAmount, "order amountIn must be positive")
	}

	b := s.books[o.Pair]
	if b == nil {
		b = &book{}
		key := o.Pair
		s.j.Append(func() { delete(s.books, key) })
		s.books[o.Pair] = b
	}
	seq := b.side(o.Side)
	index := uint64(len(*seq))

	stored := o.Clone()
	stored.Index = index
	stored.ID = OrderID(o.Pair, o.Side, index)
	stored.Filled = new(uint256.Int)
	stored.Status = Active
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.MinAmountOut == nil {
		stored.MinAmountOut = new(uint256.Int)
	}

	s.j.Append(func() { *seq = (*seq)[:index] })
	*seq = append(*seq, stored)
	s.markDirty(stored)
	return index, nil
}

// Get returns a copy of the order or ErrOrderNotFound.
func (s *Store) Get(pair market.PairKey, side Side, index uint64) (*Order, error) {
	o, err := s.lookup(pair, side, index)
	if err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

// Orders returns copies of one side of a pair in index order.
func (s *Store) Orders(pair market.PairKey, side Side) []*Order {
	b := s.books[pair]
	if b == nil {
		return nil
	}
	seq := *b.side(side)
	out := make([]*Order, len(seq))
	for i, o := range seq {
		out[i] = o.Clone()
	}
	return out
}

func (s *Store) Len(pair market.PairKey, side Side) int {
	b := s.books[pair]
	if b == nil {
		return 0
	}
	return len(*b.side(side))
}

// Deactivate retires an active order with the given terminal status.
// Retiring an order that is no longer active is a no-op.
func (s *Store) Deactivate(pair market.PairKey, side Side, index uint64, status Status, now int64) error {
	o, err := s.lookup(pair, side, index)
	if err != nil {
		return err
	}
	if !o.IsActive() {
		return nil
	}
	if status == Active {
		return errors.New("deactivate requires a terminal status")
	}
	next := o.Clone()
	next.Status = status
	next.UpdatedAt = now
	s.replace(pair, side, index, next)
	return nil
}

// Fill records amount as executed. A fully consumed order becomes Filled; a
// partial fill either stays Active or is Closed when closeRemainder is set.
func (s *Store) Fill(pair market.PairKey, side Side, index uint64, amount *uint256.Int, closeRemainder bool, now int64) (*Order, error) {
	o, err := s.lookup(pair, side, index)
	if err != nil {
		return nil, err
	}
	if !o.IsActive() {
		return nil, errors.Newf("order %s is %s", o.ID, o.Status)
	}
	if amount.Gt(o.Remaining()) {
		return nil, errors.Wrapf(dexerr.ErrInvalidAmount, "fill %s exceeds remaining %s", amount.Dec(), o.Remaining().Dec())
	}

	next := o.Clone()
	next.Filled = new(uint256.Int).Add(o.Filled, amount)
	next.UpdatedAt = now
	switch {
	case next.Remaining().IsZero():
		next.Status = Filled
	case closeRemainder:
		next.Status = Closed
	}
	s.replace(pair, side, index, next)
	return next.Clone(), nil
}

// Restore re-inserts a persisted order. Orders of one (pair, side) must be
// restored in index order.
func (s *Store) Restore(o *Order) error {
	b := s.books[o.Pair]
	if b == nil {
		b = &book{}
		s.books[o.Pair] = b
	}
	seq := b.side(o.Side)
	if o.Index != uint64(len(*seq)) {
		return errors.Newf("order %s restored at index %d, expected %d", o.ID, o.Index, len(*seq))
	}
	*seq = append(*seq, o.Clone())
	return nil
}

// Pairs lists the pairs that have at least one order, in key order.
func (s *Store) Pairs() []market.PairKey {
	keys := make([]market.PairKey, 0, len(s.books))
	for k := range s.books {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// TakeDirty returns copies of the orders changed since the last call, in
// (pair, side, index) order, and clears the set.
func (s *Store) TakeDirty() []*Order {
	refs := make([]Ref, 0, len(s.dirty))
	for r := range s.dirty {
		refs = append(refs, r)
	}
	s.dirty = make(map[Ref]struct{})

	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Pair != b.Pair {
			return a.Pair.Less(b.Pair)
		}
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		return a.Index < b.Index
	})

	out := make([]*Order, 0, len(refs))
	for _, r := range refs {
		// a reverted placement leaves a ref past the end
		if o, err := s.lookup(r.Pair, r.Side, r.Index); err == nil {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (s *Store) lookup(pair market.PairKey, side Side, index uint64) (*Order, error) {
	b := s.books[pair]
	if b == nil {
		return nil, errors.Wrapf(dexerr.ErrOrderNotFound, "no orders for pair %s", pair)
	}
	seq := *b.side(side)
	if index >= uint64(len(seq)) {
		return nil, errors.Wrapf(dexerr.ErrOrderNotFound, "%s order %d of pair %s", side, index, pair)
	}
	return seq[index], nil
}

func (s *Store) replace(pair market.PairKey, side Side, index uint64, next *Order) {
	b := s.books[pair]
	seq := *b.side(side)
	old := seq[index]
	// resolve the slice again on undo, a later append may have moved it
	s.j.Append(func() { (*b.side(side))[index] = old })
	seq[index] = next
	s.markDirty(next)
}

func (s *Store) markDirty(o *Order) {
	s.dirty[Ref{Pair: o.Pair, Side: o.Side, Index: o.Index}] = struct{}{}
}
