package matching

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
)

// Fill is one settled taker/maker match.
type Fill struct {
	TakerIndex  uint64           `json:"takerIndex"`
	MakerIndex  uint64           `json:"makerIndex"`
	Amount      *uint256.Int     `json:"amount"`
	Swap        pool.SwapResult  `json:"swap"`
	TakerStatus orderbook.Status `json:"takerStatus"`
	MakerStatus orderbook.Status `json:"makerStatus"`
}

type MatchReport struct {
	Pair      market.PairKey `json:"pair"`
	TakerSide orderbook.Side `json:"takerSide"`
	Fills     []Fill         `json:"fills"`
}

// Volume is the sum of matched amounts.
func (r MatchReport) Volume() *uint256.Int {
	v := new(uint256.Int)
	for _, f := range r.Fills {
		v.Add(v, f.Amount)
	}
	return v
}

// MatchConditionalOrders walks the requested side of the pair in index order
// and pairs every eligible order with the earliest eligible opposite order
// trading the reverse direction. Each match is settled by one pool swap of
// the taker's input, sized to the smaller remaining amount.
//
// An unmet volume condition on a taker or its counterparty fails the whole
// call and nothing is applied.
func (e *Engine) MatchConditionalOrders(tokenA, tokenB common.Address, buySide bool) (MatchReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report MatchReport
	err := e.atomic("match_orders", func() error {
		p, err := e.st.Pairs.Pool(tokenA, tokenB)
		if err != nil {
			return err
		}
		key, _ := market.NewPairKey(tokenA, tokenB)
		takerSide := orderbook.SideOf(buySide)
		report = MatchReport{Pair: key, TakerSide: takerSide}

		now := e.now()
		n := e.st.Orders.Len(key, takerSide)
		for i := 0; i < n; i++ {
			taker, err := e.st.Orders.Get(key, takerSide, uint64(i))
			if err != nil {
				return err
			}
			if !e.eligible(taker, p, now) {
				continue
			}
			maker := e.counterparty(key, taker, p, now)
			if maker == nil {
				if taker.HasVolumeCondition() {
					return errors.Wrapf(dexerr.ErrVolumeConditionNotMet,
						"%s order %d needs %s, no counterparty", takerSide, taker.Index, taker.VolumeCondition.Dec())
				}
				continue
			}
			if err := volumeSatisfied(taker, maker); err != nil {
				return err
			}
			if err := volumeSatisfied(maker, taker); err != nil {
				return err
			}

			fill, err := e.settle(p, key, taker, maker, now)
			if err != nil {
				return err
			}
			report.Fills = append(report.Fills, fill)
		}
		return nil
	})
	if err != nil {
		return MatchReport{}, err
	}
	if len(report.Fills) > 0 {
		e.logger.Infow("orders matched", "pair", report.Pair.String(), "takerSide", report.TakerSide.String(),
			"fills", len(report.Fills), "volume", report.Volume().Dec())
	}
	return report, nil
}

func (e *Engine) settle(p *pool.Pool, key market.PairKey, taker, maker *orderbook.Order, now int64) (Fill, error) {
	amount := taker.Remaining()
	if r := maker.Remaining(); r.Lt(amount) {
		amount = r
	}
	minOut, err := pool.CeilMulDiv(taker.MinAmountOut, amount, taker.AmountIn)
	if err != nil {
		return Fill{}, err
	}
	res, err := p.Swap(taker.Trader, taker.TokenIn, amount, minOut, taker.Trader)
	if err != nil {
		return Fill{}, errors.Wrapf(err, "settle %s order %d against %s order %d",
			taker.Side, taker.Index, maker.Side, maker.Index)
	}

	closeRemainder := e.cfg.PartialFill == RemainderClosed
	t, err := e.st.Orders.Fill(key, taker.Side, taker.Index, amount, closeRemainder, now)
	if err != nil {
		return Fill{}, err
	}
	m, err := e.st.Orders.Fill(key, maker.Side, maker.Index, amount, closeRemainder, now)
	if err != nil {
		return Fill{}, err
	}

	pair := pairLabel(p)
	e.onCommit(func() {
		observeSwap(p, res)
		metrics.OrderFillsTotal.WithLabelValues(pair).Inc()
	})
	return Fill{
		TakerIndex:  taker.Index,
		MakerIndex:  maker.Index,
		Amount:      amount,
		Swap:        res,
		TakerStatus: t.Status,
		MakerStatus: m.Status,
	}, nil
}

// counterparty returns the earliest eligible opposite-side order that trades
// the reverse direction of taker.
func (e *Engine) counterparty(key market.PairKey, taker *orderbook.Order, p *pool.Pool, now int64) *orderbook.Order {
	for _, o := range e.st.Orders.Orders(key, taker.Side.Opposite()) {
		if o.TokenIn != taker.TokenOut || o.TokenOut != taker.TokenIn {
			continue
		}
		if e.eligible(o, p, now) {
			return o
		}
	}
	return nil
}

// eligible checks every condition except volume, which depends on the
// counterparty.
func (e *Engine) eligible(o *orderbook.Order, p *pool.Pool, now int64) bool {
	if !o.IsActive() || o.Expired(now) || o.Locked(now) || o.Remaining().IsZero() {
		return false
	}
	if !o.HasPriceCondition() {
		return true
	}
	price, ok := p.Price(o.Base(), e.scale())
	if !ok {
		return false
	}
	return priceSatisfied(o.IsBuy(), price, o.PriceCondition)
}

// volumeSatisfied requires the counterparty to offer at least o's volume
// condition.
func volumeSatisfied(o, counter *orderbook.Order) error {
	if !o.HasVolumeCondition() {
		return nil
	}
	if avail := counter.Remaining(); avail.Lt(o.VolumeCondition) {
		return errors.Wrapf(dexerr.ErrVolumeConditionNotMet, "%s order %d needs %s, counterparty offers %s",
			o.Side, o.Index, o.VolumeCondition.Dec(), avail.Dec())
	}
	return nil
}
