package matching

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/oracle"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	genesis  = time.Unix(1_700_000_000, 0)
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fixture struct {
	eng    *Engine
	clock  *util.ManualClock
	orc    *oracle.Static
	a, b   common.Address
	pair   market.PairKey
	poolAt common.Address
}

// newFixture lists pair A/B, funds every account with 1,000,000 of each token,
// approves the pool and seeds it with 1,000/1,000 from the operator.
func newFixture(t testing.TB, cfg Config) *fixture {
	t.Helper()
	clock := util.NewManualClock(genesis)
	orc := oracle.NewStatic()
	eng := New(cfg, NewState(cfg.FeeBps), orc, clock, zap.NewNop().Sugar())

	a, err := eng.CreateToken("AAA", operator, 0)
	require.NoError(t, err)
	b, err := eng.CreateToken("BBB", operator, 0)
	require.NoError(t, err)
	ps, err := eng.CreatePair(a, b)
	require.NoError(t, err)

	for _, who := range []common.Address{operator, alice, bob} {
		for _, tok := range []common.Address{a, b} {
			require.NoError(t, eng.Mint(operator, tok, who, u(1_000_000)))
			require.NoError(t, eng.Approve(who, tok, ps.Address, token.MaxAmount()))
		}
	}
	_, err = eng.AddLiquidity(operator, a, b, u(1_000), u(1_000))
	require.NoError(t, err)

	pair, err := market.NewPairKey(a, b)
	require.NoError(t, err)
	return &fixture{eng: eng, clock: clock, orc: orc, a: a, b: b, pair: pair, poolAt: ps.Address}
}

// buy spends A for B, sell spends B for A; B is the base in both cases.
func (f *fixture) buy(amountIn uint64) OrderParams {
	return OrderParams{TokenIn: f.a, TokenOut: f.b, AmountIn: u(amountIn), MinAmountOut: u(amountIn / 2), IsBuy: true, PriceCondition: u(100)}
}

func (f *fixture) sell(amountIn uint64) OrderParams {
	return OrderParams{TokenIn: f.b, TokenOut: f.a, AmountIn: u(amountIn), MinAmountOut: u(amountIn * 2), IsBuy: false, PriceCondition: u(100)}
}

func (f *fixture) reserves(t *testing.T) (*uint256.Int, *uint256.Int) {
	t.Helper()
	ra, rb, err := f.eng.Reserves(f.a, f.b)
	require.NoError(t, err)
	return ra, rb
}

func (f *fixture) volume(t *testing.T) *uint256.Int {
	t.Helper()
	v, err := f.eng.TotalVolume(f.a, f.b)
	require.NoError(t, err)
	return v
}

func (f *fixture) order(t *testing.T, index uint64, isBuy bool) *orderbook.Order {
	t.Helper()
	o, err := f.eng.Order(f.a, f.b, index, isBuy)
	require.NoError(t, err)
	return o
}

func TestCreatePairDuplicate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.eng.CreatePair(f.b, f.a)
	assert.True(t, errors.Is(err, dexerr.ErrPairExists))

	_, err = f.eng.CreatePair(f.a, f.a)
	assert.True(t, errors.Is(err, dexerr.ErrInvalidToken))
}

func TestSwapThroughEngine(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	res, err := f.eng.Swap(alice, f.a, f.b, u(100), u(0))
	require.NoError(t, err)
	assert.Equal(t, u(90), res.AmountOut)

	ra, rb := f.reserves(t)
	assert.Equal(t, u(1_100), ra)
	assert.Equal(t, u(910), rb)
	assert.Equal(t, u(100), f.volume(t))

	bal, err := f.eng.BalanceOf(f.b, alice)
	require.NoError(t, err)
	assert.Equal(t, u(1_000_090), bal)
}

func TestSwapSlippageLeavesNoTrace(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.eng.Swap(alice, f.a, f.b, u(100), u(91))
	require.True(t, errors.Is(err, dexerr.ErrSlippageExceeded))

	ra, rb := f.reserves(t)
	assert.Equal(t, u(1_000), ra)
	assert.Equal(t, u(1_000), rb)
	assert.True(t, f.volume(t).IsZero())
	bal, _ := f.eng.BalanceOf(f.a, alice)
	assert.Equal(t, u(1_000_000), bal)
}

func TestLiquidityArgumentOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	// deposit in reverse order at the current 1:1 ratio
	shares, err := f.eng.AddLiquidity(alice, f.b, f.a, u(500), u(500))
	require.NoError(t, err)
	assert.Equal(t, u(500), shares)

	outB, outA, err := f.eng.RemoveLiquidity(alice, f.b, f.a, shares)
	require.NoError(t, err)
	assert.Equal(t, u(500), outA)
	assert.Equal(t, u(500), outB)
}

func TestMatchRemainderStaysActive(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	// room for the price of B to rise after the first fill
	p := f.buy(100)
	p.PriceCondition = u(120)
	buyIdx, err := f.eng.PlaceConditionalOrder(alice, p)
	require.NoError(t, err)
	sellIdx, err := f.eng.PlaceConditionalOrder(bob, f.sell(50))
	require.NoError(t, err)

	report, err := f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.NoError(t, err)
	require.Len(t, report.Fills, 1)
	assert.Equal(t, u(50), report.Volume())
	assert.Equal(t, u(50), f.volume(t))

	buy := f.order(t, buyIdx, true)
	assert.Equal(t, orderbook.Active, buy.Status)
	assert.Equal(t, u(50), buy.Remaining())
	sell := f.order(t, sellIdx, false)
	assert.Equal(t, orderbook.Filled, sell.Status)
	assert.False(t, sell.IsActive())

	// 50 in against 1000/1000 at 30 bps
	bal, _ := f.eng.BalanceOf(f.b, alice)
	assert.Equal(t, u(1_000_047), bal)
	ra, _ := f.reserves(t)
	assert.Equal(t, u(1_050), ra)

	// the remainder matches a later counterparty
	_, err = f.eng.PlaceConditionalOrder(bob, f.sell(50))
	require.NoError(t, err)
	report, err = f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.NoError(t, err)
	require.Len(t, report.Fills, 1)
	assert.Equal(t, orderbook.Filled, f.order(t, buyIdx, true).Status)
	assert.Equal(t, u(100), f.volume(t))
}

func TestMatchRemainderClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PartialFill = RemainderClosed
	f := newFixture(t, cfg)

	buyIdx, err := f.eng.PlaceConditionalOrder(alice, f.buy(100))
	require.NoError(t, err)
	_, err = f.eng.PlaceConditionalOrder(bob, f.sell(50))
	require.NoError(t, err)

	_, err = f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.NoError(t, err)
	assert.Equal(t, u(50), f.volume(t))

	buy := f.order(t, buyIdx, true)
	assert.Equal(t, orderbook.Closed, buy.Status)
	assert.Equal(t, u(50), buy.Filled)

	_, err = f.eng.PlaceConditionalOrder(bob, f.sell(50))
	require.NoError(t, err)
	report, err := f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.NoError(t, err)
	assert.Empty(t, report.Fills)
	assert.Equal(t, u(50), f.volume(t))
}

func TestMatchVolumeConditionWithoutCounterparty(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	p := f.buy(100)
	p.VolumeCondition = u(200)
	_, err := f.eng.PlaceConditionalOrder(alice, p)
	require.NoError(t, err)

	_, err = f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.True(t, errors.Is(err, dexerr.ErrVolumeConditionNotMet))

	ra, rb := f.reserves(t)
	assert.Equal(t, u(1_000), ra)
	assert.Equal(t, u(1_000), rb)
	assert.True(t, f.volume(t).IsZero())
}

func TestMatchVolumeConditionFailsWholeCall(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	// first taker matches cleanly, second one fails and takes the first down
	_, err := f.eng.PlaceConditionalOrder(alice, f.buy(40))
	require.NoError(t, err)
	p := f.buy(100)
	p.PriceCondition = nil
	p.VolumeCondition = u(80)
	_, err = f.eng.PlaceConditionalOrder(alice, p)
	require.NoError(t, err)
	_, err = f.eng.PlaceConditionalOrder(bob, f.sell(40))
	require.NoError(t, err)
	_, err = f.eng.PlaceConditionalOrder(bob, f.sell(50))
	require.NoError(t, err)

	_, err = f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.True(t, errors.Is(err, dexerr.ErrVolumeConditionNotMet))

	assert.True(t, f.volume(t).IsZero())
	for i := uint64(0); i < 2; i++ {
		o := f.order(t, i, false)
		assert.Equal(t, orderbook.Active, o.Status)
		assert.True(t, o.Filled.IsZero())
	}
}

func TestMatchSkipsUnmetPriceCondition(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	p := f.buy(100)
	p.PriceCondition = u(99) // pool price of B is 100
	_, err := f.eng.PlaceConditionalOrder(alice, p)
	require.NoError(t, err)
	_, err = f.eng.PlaceConditionalOrder(bob, f.sell(50))
	require.NoError(t, err)

	report, err := f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.NoError(t, err)
	assert.Empty(t, report.Fills)

	// the sell side sees no eligible buyer either
	report, err = f.eng.MatchConditionalOrders(f.a, f.b, false)
	require.NoError(t, err)
	assert.Empty(t, report.Fills)
}

func TestMatchSellSideTakes(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.eng.PlaceConditionalOrder(alice, f.buy(100))
	require.NoError(t, err)
	p := f.sell(50)
	p.MinAmountOut = u(40)
	_, err = f.eng.PlaceConditionalOrder(bob, p)
	require.NoError(t, err)

	report, err := f.eng.MatchConditionalOrders(f.a, f.b, false)
	require.NoError(t, err)
	require.Len(t, report.Fills, 1)
	assert.Equal(t, f.b, report.Fills[0].Swap.TokenIn)
	assert.Equal(t, u(50), f.volume(t))
	_, rb := f.reserves(t)
	assert.Equal(t, u(1_050), rb)
}

func TestMatchHonoursExpiry(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	p := f.buy(100)
	p.ExpirationTime = genesis.Add(time.Minute).Unix()
	_, err := f.eng.PlaceConditionalOrder(alice, p)
	require.NoError(t, err)
	_, err = f.eng.PlaceConditionalOrder(bob, f.sell(50))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	report, err := f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.NoError(t, err)
	assert.Empty(t, report.Fills)

	// expired is derived, the stored status does not change
	assert.Equal(t, orderbook.Active, f.order(t, 0, true).Status)
}

func TestMatchHonoursTimeLock(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	p := f.buy(100)
	p.TimeLocked = true
	idx, err := f.eng.PlaceConditionalOrder(alice, p)
	require.NoError(t, err)
	assert.Equal(t, genesis.Add(time.Hour).Unix(), f.order(t, idx, true).UnlockTime)
	_, err = f.eng.PlaceConditionalOrder(bob, f.sell(50))
	require.NoError(t, err)

	report, err := f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.NoError(t, err)
	assert.Empty(t, report.Fills)

	f.clock.Advance(time.Hour)
	report, err = f.eng.MatchConditionalOrders(f.a, f.b, true)
	require.NoError(t, err)
	assert.Len(t, report.Fills, 1)
}

func TestMatchUnknownPair(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	c, err := f.eng.CreateToken("CCC", operator, 0)
	require.NoError(t, err)

	_, err = f.eng.MatchConditionalOrders(f.a, c, true)
	assert.True(t, errors.Is(err, dexerr.ErrPairNotFound))
	_, err = f.eng.PlaceConditionalOrder(alice, OrderParams{TokenIn: f.a, TokenOut: c, AmountIn: u(1), IsBuy: true})
	assert.True(t, errors.Is(err, dexerr.ErrPairNotFound))
}

func TestPlaceRejectsZeroAmount(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	p := f.buy(100)
	p.AmountIn = u(0)
	_, err := f.eng.PlaceConditionalOrder(alice, p)
	assert.True(t, errors.Is(err, dexerr.ErrInvalidAmount))
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	idx, err := f.eng.PlaceConditionalOrder(alice, f.buy(100))
	require.NoError(t, err)

	err = f.eng.CancelOrder(bob, f.a, f.b, idx, true)
	assert.True(t, errors.Is(err, dexerr.ErrUnauthorized))
	assert.True(t, f.order(t, idx, true).IsActive())

	require.NoError(t, f.eng.CancelOrder(alice, f.b, f.a, idx, true))
	require.NoError(t, f.eng.CancelOrder(alice, f.a, f.b, idx, true))
	assert.Equal(t, orderbook.Cancelled, f.order(t, idx, true).Status)

	err = f.eng.CancelOrder(alice, f.a, f.b, 7, true)
	assert.True(t, errors.Is(err, dexerr.ErrOrderNotFound))
	err = f.eng.CancelOrder(alice, f.a, f.b, idx, false)
	assert.True(t, errors.Is(err, dexerr.ErrOrderNotFound))
}

func TestBatchLengthMismatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.eng.BatchExecuteOrders(alice,
		[]common.Address{f.a, f.b},
		[]common.Address{f.b},
		[]*uint256.Int{u(10), u(10)},
		[]*uint256.Int{u(0), u(0)},
	)
	assert.True(t, errors.Is(err, dexerr.ErrBatchLengthMismatch))

	_, err = f.eng.BatchExecuteOrders(alice, nil, nil, nil, nil)
	assert.True(t, errors.Is(err, dexerr.ErrBatchLengthMismatch))

	ra, rb := f.reserves(t)
	assert.Equal(t, u(1_000), ra)
	assert.Equal(t, u(1_000), rb)
	assert.True(t, f.volume(t).IsZero())
}

func TestBatchIsAllOrNothing(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	_, err := f.eng.BatchExecuteOrders(alice,
		[]common.Address{f.a, f.b},
		[]common.Address{f.b, f.a},
		[]*uint256.Int{u(100), u(10)},
		[]*uint256.Int{u(0), u(1_000)},
	)
	require.True(t, errors.Is(err, dexerr.ErrSlippageExceeded))

	ra, rb := f.reserves(t)
	assert.Equal(t, u(1_000), ra)
	assert.Equal(t, u(1_000), rb)
	assert.True(t, f.volume(t).IsZero())
	bal, _ := f.eng.BalanceOf(f.a, alice)
	assert.Equal(t, u(1_000_000), bal)

	results, err := f.eng.BatchExecuteOrders(alice,
		[]common.Address{f.a, f.b},
		[]common.Address{f.b, f.a},
		[]*uint256.Int{u(100), u(10)},
		[]*uint256.Int{u(90), u(0)},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, u(110), f.volume(t))
}

func TestExternalPriceCondition(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	// no feed
	_, err := f.eng.PlaceOrderWithExternalPriceCondition(ctx, alice, f.buy(100))
	assert.True(t, errors.Is(err, dexerr.ErrPriceConditionNotMet))

	// buy needs reference <= 100
	f.orc.Set(f.pair, u(150), genesis)
	_, err = f.eng.PlaceOrderWithExternalPriceCondition(ctx, alice, f.buy(100))
	assert.True(t, errors.Is(err, dexerr.ErrPriceConditionNotMet))

	idx, err := f.eng.PlaceOrderWithExternalPriceCondition(ctx, bob, f.sell(50))
	require.NoError(t, err)
	o := f.order(t, idx, false)
	assert.False(t, o.HasPriceCondition())
	assert.Equal(t, bob, o.Trader)

	f.orc.Set(f.pair, u(90), genesis)
	_, err = f.eng.PlaceOrderWithExternalPriceCondition(ctx, alice, f.buy(100))
	require.NoError(t, err)

	// stale
	f.clock.Advance(2 * time.Hour)
	_, err = f.eng.PlaceOrderWithExternalPriceCondition(ctx, alice, f.buy(100))
	assert.True(t, errors.Is(err, dexerr.ErrPriceConditionNotMet))

	p := f.buy(100)
	p.PriceCondition = nil
	_, err = f.eng.PlaceOrderWithExternalPriceCondition(ctx, alice, p)
	assert.True(t, errors.Is(err, dexerr.ErrInvalidAmount))
}

func TestExternalPriceWithoutOracle(t *testing.T) {
	st := NewState(30)
	eng := New(DefaultConfig(), st, nil, util.NewManualClock(genesis), nil)
	a, err := eng.CreateToken("AAA", operator, 0)
	require.NoError(t, err)
	b, err := eng.CreateToken("BBB", operator, 0)
	require.NoError(t, err)
	_, err = eng.CreatePair(a, b)
	require.NoError(t, err)

	_, err = eng.PlaceOrderWithExternalPriceCondition(context.Background(), alice,
		OrderParams{TokenIn: a, TokenOut: b, AmountIn: u(1), IsBuy: true, PriceCondition: u(1)})
	assert.True(t, errors.Is(err, dexerr.ErrPriceConditionNotMet))
}

func TestTokenOperations(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	err := f.eng.Mint(alice, f.a, alice, u(1))
	assert.True(t, errors.Is(err, dexerr.ErrUnauthorized))

	got, err := f.eng.Transfer(alice, f.a, bob, u(10))
	require.NoError(t, err)
	assert.Equal(t, u(10), got)

	_, err = f.eng.Transfer(alice, common.Address{0x01}, bob, u(10))
	assert.True(t, errors.Is(err, dexerr.ErrInvalidToken))

	require.NoError(t, f.eng.Approve(alice, f.a, bob, u(5)))
	al, err := f.eng.Allowance(f.a, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, u(5), al)

	_, err = f.eng.CreateToken("FEE", operator, 10_000)
	assert.True(t, errors.Is(err, dexerr.ErrInvalidAmount))
}

func TestPriceAndQuote(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	price, ok, err := f.eng.Price(f.b, f.a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, u(100), price)

	q, err := f.eng.Quote(f.a, f.b, u(100))
	require.NoError(t, err)
	assert.Equal(t, u(90), q)

	assert.Len(t, f.eng.Pools(), 1)
	assert.Len(t, f.eng.Tokens(), 3) // A, B and the share token
}
