package matching

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
)

// OrderParams describes a conditional order as submitted by a trader.
// PriceCondition and VolumeCondition of nil or zero mean unconditional.
type OrderParams struct {
	TokenIn         common.Address
	TokenOut        common.Address
	AmountIn        *uint256.Int
	MinAmountOut    *uint256.Int
	IsBuy           bool
	PriceCondition  *uint256.Int
	ExpirationTime  int64
	TimeLocked      bool
	VolumeCondition *uint256.Int
}

// PlaceConditionalOrder stores an order whose conditions are re-evaluated on
// every match attempt. No funds move until the order is matched.
func (e *Engine) PlaceConditionalOrder(caller common.Address, params OrderParams) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.place(caller, params, "conditional")
}

// PlaceOrderWithExternalPriceCondition checks params.PriceCondition against
// the oracle's reference price once, at submission. The stored order carries
// no standing price condition.
func (e *Engine) PlaceOrderWithExternalPriceCondition(ctx context.Context, caller common.Address, params OrderParams) (uint64, error) {
	key, err := market.NewPairKey(params.TokenIn, params.TokenOut)
	if err != nil {
		return 0, err
	}
	if params.PriceCondition == nil || params.PriceCondition.IsZero() {
		return 0, errors.Wrap(dexerr.ErrInvalidAmount, "external price condition must be positive")
	}
	// query outside the lock, the oracle may be remote
	if err := e.checkReference(ctx, key, params.IsBuy, params.PriceCondition); err != nil {
		metrics.EngineErrorsTotal.WithLabelValues("place_order_external", dexerr.Kind(err)).Inc()
		return 0, err
	}

	params.PriceCondition = nil
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.place(caller, params, "external")
}

func (e *Engine) checkReference(ctx context.Context, key market.PairKey, isBuy bool, cond *uint256.Int) error {
	if e.oracle == nil {
		return errors.Wrapf(dexerr.ErrPriceConditionNotMet, "no price oracle for %s", key)
	}
	ref, err := e.oracle.ReferencePrice(ctx, key)
	if err != nil {
		e.logger.Warnw("reference price unavailable", "pair", key.String(), "err", err)
		return errors.Wrapf(dexerr.ErrPriceConditionNotMet, "reference price for %s: %v", key, err)
	}
	if ref.Value == nil {
		return errors.Wrapf(dexerr.ErrPriceConditionNotMet, "empty reference price for %s", key)
	}
	if age := e.clock.Now().Sub(ref.UpdatedAt); e.cfg.OracleMaxAge > 0 && age > e.cfg.OracleMaxAge {
		return errors.Wrapf(dexerr.ErrPriceConditionNotMet, "reference price for %s is %s old", key, age)
	}
	if !priceSatisfied(isBuy, ref.Value, cond) {
		return errors.Wrapf(dexerr.ErrPriceConditionNotMet, "reference %s, condition %s (%s)",
			ref.Value.Dec(), cond.Dec(), orderbook.SideOf(isBuy))
	}
	return nil
}

// place stores the order. Callers hold e.mu.
func (e *Engine) place(caller common.Address, params OrderParams, kind string) (uint64, error) {
	var index uint64
	side := orderbook.SideOf(params.IsBuy)
	err := e.atomic("place_order", func() error {
		if params.AmountIn == nil || params.AmountIn.IsZero() {
			return errors.Wrap(dexerr.ErrInvalidAmount, "amountIn must be positive")
		}
		key, err := market.NewPairKey(params.TokenIn, params.TokenOut)
		if err != nil {
			return err
		}
		if !e.st.Pairs.Exists(params.TokenIn, params.TokenOut) {
			return errors.Wrapf(dexerr.ErrPairNotFound, "pair %s", key)
		}

		now := e.now()
		o := &orderbook.Order{
			Pair:            key,
			Side:            side,
			Trader:          caller,
			TokenIn:         params.TokenIn,
			TokenOut:        params.TokenOut,
			AmountIn:        params.AmountIn.Clone(),
			MinAmountOut:    params.MinAmountOut,
			PriceCondition:  params.PriceCondition,
			ExpirationTime:  params.ExpirationTime,
			TimeLocked:      params.TimeLocked,
			VolumeCondition: params.VolumeCondition,
		}
		if o.TimeLocked {
			o.UnlockTime = now + int64(e.cfg.TimeLock.Seconds())
		}
		index, err = e.st.Orders.Place(o, now)
		if err != nil {
			return err
		}
		e.onCommit(func() {
			metrics.OrdersPlacedTotal.WithLabelValues(side.String(), kind).Inc()
			e.logger.Infow("order placed", "pair", key.String(), "side", side.String(), "index", index,
				"trader", caller.Hex(), "amountIn", params.AmountIn.Dec(), "kind", kind)
		})
		return nil
	})
	return index, err
}

// CancelOrder retires the caller's order. Cancelling an order that is
// already inactive succeeds without effect.
func (e *Engine) CancelOrder(caller, tokenA, tokenB common.Address, index uint64, isBuy bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.atomic("cancel_order", func() error {
		key, err := market.NewPairKey(tokenA, tokenB)
		if err != nil {
			return err
		}
		side := orderbook.SideOf(isBuy)
		o, err := e.st.Orders.Get(key, side, index)
		if err != nil {
			return err
		}
		if o.Trader != caller {
			return errors.Wrapf(dexerr.ErrUnauthorized, "%s order %d belongs to %s", side, index, o.Trader.Hex())
		}
		if !o.IsActive() {
			return nil
		}
		if err := e.st.Orders.Deactivate(key, side, index, orderbook.Cancelled, e.now()); err != nil {
			return err
		}
		e.onCommit(func() { metrics.OrdersCancelledTotal.Inc() })
		return nil
	})
}

// Orders returns one side of a pair's book in index order, inactive orders
// included.
func (e *Engine) Orders(tokenA, tokenB common.Address, isBuy bool) ([]*orderbook.Order, error) {
	key, err := market.NewPairKey(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.st.Pairs.Exists(tokenA, tokenB) {
		return nil, errors.Wrapf(dexerr.ErrPairNotFound, "pair %s", key)
	}
	return e.st.Orders.Orders(key, orderbook.SideOf(isBuy)), nil
}

func (e *Engine) Order(tokenA, tokenB common.Address, index uint64, isBuy bool) (*orderbook.Order, error) {
	key, err := market.NewPairKey(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.Orders.Get(key, orderbook.SideOf(isBuy), index)
}

// priceSatisfied: a buy wants price <= cond, a sell wants price >= cond.
func priceSatisfied(isBuy bool, price, cond *uint256.Int) bool {
	if isBuy {
		return !price.Gt(cond)
	}
	return !price.Lt(cond)
}
