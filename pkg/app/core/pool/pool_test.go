package pool

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/journal"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	poolAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")
	lpAddr   = common.HexToAddress("0x8888888888888888888888888888888888888888")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fixture struct {
	j    *journal.Journal
	a, b *token.Ledger
	lp   *token.Ledger
	pool *Pool
}

// newFixture funds alice and bob with 1,000,000 of each token and approves the pool.
func newFixture(t *testing.T, feeBpsA, poolFeeBps uint64) *fixture {
	t.Helper()
	j := journal.New()
	a := token.NewLedger("TKA", owner, feeBpsA, j)
	b := token.NewLedger("TKB", owner, 0, j)
	for _, who := range []common.Address{alice, bob} {
		for _, l := range []*token.Ledger{a, b} {
			require.NoError(t, l.Mint(owner, who, u(1_000_000)))
			require.NoError(t, l.Approve(who, poolAddr, token.MaxAmount()))
		}
	}
	lp := token.NewLedgerAt(lpAddr, "LP-TKA-TKB", poolAddr, 0, j)
	return &fixture{j: j, a: a, b: b, lp: lp, pool: New(poolAddr, a, b, lp, poolFeeBps, j)}
}

func product(p *Pool) *uint256.Int {
	r0, r1 := p.Reserves()
	return new(uint256.Int).Mul(r0, r1)
}

func TestSwapScenario(t *testing.T) {
	f := newFixture(t, 0, 30)

	shares, err := f.pool.AddLiquidity(alice, u(1_000), u(1_000))
	require.NoError(t, err)
	assert.Equal(t, u(1_000), shares)

	res, err := f.pool.Swap(alice, f.a.Address(), u(100), u(0), alice)
	require.NoError(t, err)
	assert.True(t, res.AmountOut.Lt(u(100)))
	assert.Equal(t, u(90), res.AmountOut)

	r0, r1 := f.pool.Reserves()
	assert.Equal(t, u(1_100), r0)
	assert.True(t, r1.Lt(u(1_000)))
	assert.Equal(t, u(910), r1)
	assert.Equal(t, u(100), f.pool.TotalVolume())
	assert.Equal(t, u(1_000_000-1_000+90), f.b.BalanceOf(alice))
}

func TestSwapSlippageLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, 0, 30)
	_, err := f.pool.AddLiquidity(alice, u(1_000), u(1_000))
	require.NoError(t, err)

	before := f.a.BalanceOf(bob)
	_, err = f.pool.Swap(bob, f.a.Address(), u(100), u(91), bob)
	require.True(t, errors.Is(err, dexerr.ErrSlippageExceeded), "got %v", err)

	r0, r1 := f.pool.Reserves()
	assert.Equal(t, u(1_000), r0)
	assert.Equal(t, u(1_000), r1)
	assert.True(t, f.pool.TotalVolume().IsZero())
	assert.Equal(t, before, f.a.BalanceOf(bob))
}

func TestSwapKeepsProductAndCountsVolume(t *testing.T) {
	f := newFixture(t, 0, 30)
	_, err := f.pool.AddLiquidity(alice, u(50_000), u(80_000))
	require.NoError(t, err)

	amounts := []uint64{1, 17, 999, 4_321, 12_000, 3, 250, 77_777}
	for i, amt := range amounts {
		tokenIn := f.a.Address()
		if i%2 == 1 {
			tokenIn = f.b.Address()
		}
		k := product(f.pool)
		vol := f.pool.TotalVolume()

		_, err := f.pool.Swap(bob, tokenIn, u(amt), nil, bob)
		if errors.Is(err, dexerr.ErrInsufficientLiquidity) {
			continue // output rounded to zero
		}
		require.NoError(t, err)
		assert.False(t, product(f.pool).Lt(k), "k decreased at swap %d", i)
		assert.Equal(t, new(uint256.Int).Add(vol, u(amt)), f.pool.TotalVolume())
	}
}

func TestAddThenRemoveNeverPaysMore(t *testing.T) {
	tests := []struct {
		name string
		x, y uint64
	}{
		{"balanced", 1_000, 1_000},
		{"skewed", 7, 123_457},
		{"tiny", 3, 5},
		{"imbalanced to reserves", 10_000, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0, 30)
			_, err := f.pool.AddLiquidity(alice, u(10_000), u(33_333))
			require.NoError(t, err)
			_, err = f.pool.Swap(alice, f.a.Address(), u(500), nil, alice)
			require.NoError(t, err)

			shares, err := f.pool.AddLiquidity(bob, u(tt.x), u(tt.y))
			if errors.Is(err, dexerr.ErrRatioMismatch) {
				return
			}
			require.NoError(t, err)
			out0, out1, err := f.pool.RemoveLiquidity(bob, shares)
			if errors.Is(err, dexerr.ErrInsufficientLiquidity) {
				return
			}
			require.NoError(t, err)
			assert.False(t, out0.Gt(u(tt.x)), "out0 %s > %d", out0.Dec(), tt.x)
			assert.False(t, out1.Gt(u(tt.y)), "out1 %s > %d", out1.Dec(), tt.y)
		})
	}
}

func TestImbalancedDepositDonatesExcess(t *testing.T) {
	f := newFixture(t, 0, 30)
	_, err := f.pool.AddLiquidity(alice, u(1_000), u(1_000))
	require.NoError(t, err)

	shares, err := f.pool.AddLiquidity(bob, u(100), u(300))
	require.NoError(t, err)
	assert.Equal(t, u(100), shares)

	r0, r1 := f.pool.Reserves()
	assert.Equal(t, u(1_100), r0)
	assert.Equal(t, u(1_300), r1)
	assert.Equal(t, u(1_100), f.pool.TotalShares())
}

func TestRatioMismatchRollsBackTransfers(t *testing.T) {
	f := newFixture(t, 0, 30)
	_, err := f.pool.AddLiquidity(alice, u(1_000_000), u(1))
	require.NoError(t, err)

	balA, balB := f.a.BalanceOf(bob), f.b.BalanceOf(bob)
	_, err = f.pool.AddLiquidity(bob, u(1), u(1))
	require.True(t, errors.Is(err, dexerr.ErrRatioMismatch), "got %v", err)
	assert.Equal(t, balA, f.a.BalanceOf(bob))
	assert.Equal(t, balB, f.b.BalanceOf(bob))
	assert.Equal(t, u(1_000), f.pool.TotalShares())
}

func TestFeeOnTransferReservesTrackReceived(t *testing.T) {
	f := newFixture(t, 100, 30) // TKA keeps 1%

	shares, err := f.pool.AddLiquidity(alice, u(1_000), u(1_000))
	require.NoError(t, err)
	r0, r1 := f.pool.Reserves()
	assert.Equal(t, u(990), r0)
	assert.Equal(t, u(1_000), r1)
	assert.Equal(t, u(994), shares) // floor(sqrt(990*1000))
	assert.Equal(t, r0, f.a.BalanceOf(poolAddr))

	res, err := f.pool.Swap(bob, f.a.Address(), u(100), nil, bob)
	require.NoError(t, err)
	assert.Equal(t, u(99), res.Received)
	assert.Equal(t, u(100), f.pool.TotalVolume())
	r0, _ = f.pool.Reserves()
	assert.Equal(t, u(1_089), r0)
	assert.Equal(t, r0, f.a.BalanceOf(poolAddr))
}

func TestRemoveAllEmptiesPool(t *testing.T) {
	f := newFixture(t, 0, 30)
	shares, err := f.pool.AddLiquidity(alice, u(4_000), u(9_000))
	require.NoError(t, err)

	out0, out1, err := f.pool.RemoveLiquidity(alice, shares)
	require.NoError(t, err)
	assert.Equal(t, u(4_000), out0)
	assert.Equal(t, u(9_000), out1)

	r0, r1 := f.pool.Reserves()
	assert.True(t, r0.IsZero() && r1.IsZero())
	assert.True(t, f.pool.TotalShares().IsZero())
}

func TestValidation(t *testing.T) {
	f := newFixture(t, 0, 30)

	_, err := f.pool.AddLiquidity(alice, u(0), u(10))
	assert.True(t, errors.Is(err, dexerr.ErrInvalidAmount))

	_, err = f.pool.Swap(alice, f.a.Address(), u(10), nil, alice)
	assert.True(t, errors.Is(err, dexerr.ErrInsufficientLiquidity))

	_, err = f.pool.Swap(alice, owner, u(10), nil, alice)
	assert.True(t, errors.Is(err, dexerr.ErrInvalidToken))

	_, err = f.pool.Swap(alice, f.a.Address(), u(0), nil, alice)
	assert.True(t, errors.Is(err, dexerr.ErrInvalidAmount))

	_, err = f.pool.AddLiquidity(alice, u(100), u(100))
	require.NoError(t, err)
	_, _, err = f.pool.RemoveLiquidity(bob, u(1))
	assert.True(t, errors.Is(err, dexerr.ErrInsufficientBalance))
	_, _, err = f.pool.RemoveLiquidity(alice, u(0))
	assert.True(t, errors.Is(err, dexerr.ErrInvalidAmount))
}

func TestPriceAndQuote(t *testing.T) {
	f := newFixture(t, 0, 30)
	_, ok := f.pool.Price(f.b.Address(), u(100))
	assert.False(t, ok)

	_, err := f.pool.AddLiquidity(alice, u(2_000), u(1_000))
	require.NoError(t, err)

	price, ok := f.pool.Price(f.b.Address(), u(100))
	require.True(t, ok)
	assert.Equal(t, u(200), price)
	price, ok = f.pool.Price(f.a.Address(), u(100))
	require.True(t, ok)
	assert.Equal(t, u(50), price)

	q, err := f.pool.Quote(f.a.Address(), u(100))
	require.NoError(t, err)
	res, err := f.pool.Swap(bob, f.a.Address(), u(100), q, bob)
	require.NoError(t, err)
	assert.Equal(t, q, res.AmountOut)
}

func TestRestore(t *testing.T) {
	f := newFixture(t, 0, 30)
	_, err := f.pool.AddLiquidity(alice, u(500), u(700))
	require.NoError(t, err)

	p := Restore(f.pool.State(), f.a, f.b, f.lp, f.j)
	assert.Equal(t, f.pool.State(), p.State())
	assert.False(t, p.Dirty())
}
