package pool

import (
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
)

const bpsDenominator = 10_000

// GetAmountOut prices amountIn against the constant-product curve after the
// pool fee:
//
//	inAfterFee = amountIn * (10000 - feeBps)
//	amountOut  = reserveOut * inAfterFee / (reserveIn*10000 + inAfterFee)
//
// Division floors, so the pool never pays more than the curve allows.
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, errors.Wrap(dexerr.ErrInvalidAmount, "amountIn is zero")
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, errors.Wrap(dexerr.ErrInsufficientLiquidity, "empty reserves")
	}
	if feeBps >= bpsDenominator {
		return nil, errors.Newf("fee %d bps leaves nothing to swap", feeBps)
	}

	inAfterFee, o1 := new(uint256.Int).MulOverflow(amountIn, uint256.NewInt(bpsDenominator-feeBps))
	scaledIn, o2 := new(uint256.Int).MulOverflow(reserveIn, uint256.NewInt(bpsDenominator))
	denominator, o3 := new(uint256.Int).AddOverflow(scaledIn, inAfterFee)
	if o1 || o2 || o3 {
		return nil, errors.Wrap(dexerr.ErrInvalidAmount, "swap amount overflows")
	}
	out, overflow := new(uint256.Int).MulDivOverflow(reserveOut, inAfterFee, denominator)
	if overflow {
		return nil, errors.Wrap(dexerr.ErrInvalidAmount, "swap amount overflows")
	}
	return out, nil
}

// mulDiv returns floor(x*y/d).
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, errors.Wrap(dexerr.ErrInsufficientLiquidity, "division by empty reserve")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, errors.Wrap(dexerr.ErrInvalidAmount, "amount overflows")
	}
	return z, nil
}

// bootstrapShares is floor(sqrt(x*y)), the seed mint of an empty pool.
func bootstrapShares(x, y *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, errors.Wrap(dexerr.ErrInvalidAmount, "initial deposit overflows")
	}
	return new(uint256.Int).Sqrt(product), nil
}

func minOf(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a
	}
	return b
}

// CeilMulDiv returns ceil(x*y/d).
func CeilMulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}
