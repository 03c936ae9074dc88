// Package oracle provides external reference prices for order placement.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
)

var ErrNoFeed = errors.New("no price feed for pair")

// Price is a reference price and the time it was last updated.
type Price struct {
	Value     *uint256.Int
	UpdatedAt time.Time
}

type Oracle interface {
	ReferencePrice(ctx context.Context, pair market.PairKey) (Price, error)
}

// Static serves prices set in memory.
type Static struct {
	mu     sync.RWMutex
	prices map[market.PairKey]Price
}

func NewStatic() *Static {
	return &Static{prices: make(map[market.PairKey]Price)}
}

func (s *Static) Set(pair market.PairKey, value *uint256.Int, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[pair] = Price{Value: value.Clone(), UpdatedAt: updatedAt}
}

func (s *Static) ReferencePrice(_ context.Context, pair market.PairKey) (Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[pair]
	if !ok {
		return Price{}, errors.Wrapf(ErrNoFeed, "pair %s", pair)
	}
	return Price{Value: p.Value.Clone(), UpdatedAt: p.UpdatedAt}, nil
}
