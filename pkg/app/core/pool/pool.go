// Package pool implements a two-token constant-product liquidity pool.
//
// Reserves track what the pool actually received, never what was requested,
// so fee-on-transfer tokens cannot push reserves above the pool's balance.
package pool

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/journal"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
)

type Pool struct {
	address common.Address
	token0  token.Token
	token1  token.Token
	lp      *token.Ledger
	feeBps  uint64
	j       *journal.Journal

	reserve0 *uint256.Int
	reserve1 *uint256.Int
	volume   *uint256.Int
	dirty    bool
}

// State is the persisted form of a pool. Share balances live in the LP ledger.
type State struct {
	Address     common.Address `json:"address"`
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	LPToken     common.Address `json:"lpToken"`
	FeeBps      uint64         `json:"feeBps"`
	Reserve0    *uint256.Int   `json:"reserve0"`
	Reserve1    *uint256.Int   `json:"reserve1"`
	TotalVolume *uint256.Int   `json:"totalVolume"`
}

// SwapResult describes one executed swap.
type SwapResult struct {
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	AmountIn  *uint256.Int   `json:"amountIn"`
	Received  *uint256.Int   `json:"received"`
	AmountOut *uint256.Int   `json:"amountOut"`
	Delivered *uint256.Int   `json:"delivered"`
}

// New creates an empty pool. The LP ledger must be owned by addr so the pool
// can mint and burn shares.
func New(addr common.Address, t0, t1 token.Token, lp *token.Ledger, feeBps uint64, j *journal.Journal) *Pool {
	if j == nil {
		j = journal.New()
	}
	return &Pool{
		address:  addr,
		token0:   t0,
		token1:   t1,
		lp:       lp,
		feeBps:   feeBps,
		j:        j,
		reserve0: new(uint256.Int),
		reserve1: new(uint256.Int),
		volume:   new(uint256.Int),
		dirty:    true,
	}
}

// Restore rebuilds a pool from persisted state.
func Restore(st State, t0, t1 token.Token, lp *token.Ledger, j *journal.Journal) *Pool {
	p := New(st.Address, t0, t1, lp, st.FeeBps, j)
	if st.Reserve0 != nil {
		p.reserve0 = st.Reserve0.Clone()
	}
	if st.Reserve1 != nil {
		p.reserve1 = st.Reserve1.Clone()
	}
	if st.TotalVolume != nil {
		p.volume = st.TotalVolume.Clone()
	}
	p.dirty = false
	return p
}

func (p *Pool) Address() common.Address { return p.address }
func (p *Pool) Token0() common.Address  { return p.token0.Address() }
func (p *Pool) Token1() common.Address  { return p.token1.Address() }
func (p *Pool) LPToken() common.Address { return p.lp.Address() }
func (p *Pool) FeeBps() uint64          { return p.feeBps }

// Reserves returns (reserve0, reserve1).
func (p *Pool) Reserves() (*uint256.Int, *uint256.Int) {
	return p.reserve0.Clone(), p.reserve1.Clone()
}

// ReservesOf returns the reserves ordered as (tokenA, other).
func (p *Pool) ReservesOf(tokenA common.Address) (*uint256.Int, *uint256.Int, error) {
	switch tokenA {
	case p.Token0():
		return p.reserve0.Clone(), p.reserve1.Clone(), nil
	case p.Token1():
		return p.reserve1.Clone(), p.reserve0.Clone(), nil
	default:
		return nil, nil, errors.Wrapf(dexerr.ErrInvalidToken, "%s not in pool %s", tokenA.Hex(), p.address.Hex())
	}
}

func (p *Pool) TotalShares() *uint256.Int { return p.lp.TotalSupply() }

func (p *Pool) SharesOf(provider common.Address) *uint256.Int { return p.lp.BalanceOf(provider) }

// TotalVolume is the sum of every amountIn ever passed to a successful Swap.
func (p *Pool) TotalVolume() *uint256.Int { return p.volume.Clone() }

// AddLiquidity deposits both tokens and mints shares to provider. The first
// deposit mints floor(sqrt(x*y)). Later deposits mint the smaller of the two
// proportional amounts and the excess of the other token stays in reserves.
func (p *Pool) AddLiquidity(provider common.Address, amount0, amount1 *uint256.Int) (*uint256.Int, error) {
	if amount0 == nil || amount1 == nil || amount0.IsZero() || amount1.IsZero() {
		return nil, errors.Wrap(dexerr.ErrInvalidAmount, "both deposit amounts must be positive")
	}

	var shares *uint256.Int
	err := p.j.Atomic(func() error {
		received0, err := p.token0.TransferFrom(p.address, provider, p.address, amount0)
		if err != nil {
			return err
		}
		received1, err := p.token1.TransferFrom(p.address, provider, p.address, amount1)
		if err != nil {
			return err
		}
		if received0.IsZero() || received1.IsZero() {
			return errors.Wrap(dexerr.ErrInvalidAmount, "deposit credited nothing")
		}

		total := p.lp.TotalSupply()
		if total.IsZero() {
			shares, err = bootstrapShares(received0, received1)
			if err != nil {
				return err
			}
			if shares.IsZero() {
				return errors.Wrap(dexerr.ErrInvalidAmount, "initial deposit too small")
			}
		} else {
			if p.reserve0.IsZero() || p.reserve1.IsZero() {
				return errors.Wrap(dexerr.ErrInsufficientLiquidity, "shares outstanding against empty reserves")
			}
			s0, err := mulDiv(total, received0, p.reserve0)
			if err != nil {
				return err
			}
			s1, err := mulDiv(total, received1, p.reserve1)
			if err != nil {
				return err
			}
			shares = minOf(s0, s1)
			if shares.IsZero() {
				return errors.Wrapf(dexerr.ErrRatioMismatch,
					"deposit %s/%s mints no shares at reserves %s/%s",
					received0.Dec(), received1.Dec(), p.reserve0.Dec(), p.reserve1.Dec())
			}
		}

		if err := p.lp.Mint(p.address, provider, shares); err != nil {
			return err
		}
		p.setReserves(
			new(uint256.Int).Add(p.reserve0, received0),
			new(uint256.Int).Add(p.reserve1, received1),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// RemoveLiquidity burns shares and pays out the proportional reserves,
// rounded down.
func (p *Pool) RemoveLiquidity(provider common.Address, shares *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if shares == nil || shares.IsZero() {
		return nil, nil, errors.Wrap(dexerr.ErrInvalidAmount, "share amount must be positive")
	}

	var out0, out1 *uint256.Int
	err := p.j.Atomic(func() error {
		held := p.lp.BalanceOf(provider)
		if held.Lt(shares) {
			return errors.Wrapf(dexerr.ErrInsufficientBalance, "%s holds %s shares, burning %s", provider.Hex(), held.Dec(), shares.Dec())
		}
		total := p.lp.TotalSupply()
		var err error
		if out0, err = mulDiv(p.reserve0, shares, total); err != nil {
			return err
		}
		if out1, err = mulDiv(p.reserve1, shares, total); err != nil {
			return err
		}
		if out0.IsZero() && out1.IsZero() {
			return errors.Wrap(dexerr.ErrInsufficientLiquidity, "burn pays out nothing")
		}

		if err := p.lp.Burn(p.address, provider, shares); err != nil {
			return err
		}
		p.setReserves(
			new(uint256.Int).Sub(p.reserve0, out0),
			new(uint256.Int).Sub(p.reserve1, out1),
		)
		if !out0.IsZero() {
			if _, err := p.token0.Transfer(p.address, provider, out0); err != nil {
				return err
			}
		}
		if !out1.IsZero() {
			if _, err := p.token1.Transfer(p.address, provider, out1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out0, out1, nil
}

// Swap pulls amountIn of tokenIn from trader (the pool spends trader's
// allowance) and sends the curve output to `to`.
func (p *Pool) Swap(trader, tokenIn common.Address, amountIn, minAmountOut *uint256.Int, to common.Address) (SwapResult, error) {
	if amountIn == nil || amountIn.IsZero() {
		return SwapResult{}, errors.Wrap(dexerr.ErrInvalidAmount, "amountIn must be positive")
	}
	if minAmountOut == nil {
		minAmountOut = new(uint256.Int)
	}
	in, out, err := p.sides(tokenIn)
	if err != nil {
		return SwapResult{}, err
	}

	var res SwapResult
	err = p.j.Atomic(func() error {
		reserveIn, reserveOut := p.reserveOf(in), p.reserveOf(out)
		if reserveIn.IsZero() || reserveOut.IsZero() {
			return errors.Wrapf(dexerr.ErrInsufficientLiquidity, "pool %s has no liquidity", p.address.Hex())
		}

		received, err := in.TransferFrom(p.address, trader, p.address, amountIn)
		if err != nil {
			return err
		}
		amountOut, err := GetAmountOut(received, reserveIn, reserveOut, p.feeBps)
		if err != nil {
			return err
		}
		if amountOut.Lt(minAmountOut) {
			return errors.Wrapf(dexerr.ErrSlippageExceeded, "out %s < min %s", amountOut.Dec(), minAmountOut.Dec())
		}
		if amountOut.IsZero() {
			return errors.Wrap(dexerr.ErrInsufficientLiquidity, "output rounds to zero")
		}

		p.setReserveOf(in, new(uint256.Int).Add(reserveIn, received))
		p.setReserveOf(out, new(uint256.Int).Sub(reserveOut, amountOut))
		p.setVolume(new(uint256.Int).Add(p.volume, amountIn))

		delivered, err := out.Transfer(p.address, to, amountOut)
		if err != nil {
			return err
		}
		res = SwapResult{
			TokenIn:   in.Address(),
			TokenOut:  out.Address(),
			AmountIn:  amountIn.Clone(),
			Received:  received,
			AmountOut: amountOut,
			Delivered: delivered,
		}
		return nil
	})
	return res, err
}

// Quote is the output Swap would produce for amountIn if the full amount were
// credited to the pool.
func (p *Pool) Quote(tokenIn common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	in, out, err := p.sides(tokenIn)
	if err != nil {
		return nil, err
	}
	return GetAmountOut(amountIn, p.reserveOf(in), p.reserveOf(out), p.feeBps)
}

// Price is reserve(quote) * scale / reserve(base), where quote is the other
// token of the pool. ok is false for a foreign base or an empty pool.
func (p *Pool) Price(base common.Address, scale *uint256.Int) (*uint256.Int, bool) {
	rBase, rQuote, err := p.ReservesOf(base)
	if err != nil || rBase.IsZero() || rQuote.IsZero() {
		return nil, false
	}
	price, err := mulDiv(rQuote, scale, rBase)
	if err != nil {
		return nil, false
	}
	return price, true
}

func (p *Pool) State() State {
	return State{
		Address:     p.address,
		Token0:      p.Token0(),
		Token1:      p.Token1(),
		LPToken:     p.LPToken(),
		FeeBps:      p.feeBps,
		Reserve0:    p.reserve0.Clone(),
		Reserve1:    p.reserve1.Clone(),
		TotalVolume: p.volume.Clone(),
	}
}

func (p *Pool) Dirty() bool { return p.dirty }
func (p *Pool) ClearDirty() { p.dirty = false }

func (p *Pool) sides(tokenIn common.Address) (token.Token, token.Token, error) {
	switch tokenIn {
	case p.Token0():
		return p.token0, p.token1, nil
	case p.Token1():
		return p.token1, p.token0, nil
	default:
		return nil, nil, errors.Wrapf(dexerr.ErrInvalidToken, "%s not in pool %s", tokenIn.Hex(), p.address.Hex())
	}
}

func (p *Pool) reserveOf(t token.Token) *uint256.Int {
	if t.Address() == p.Token0() {
		return p.reserve0
	}
	return p.reserve1
}

func (p *Pool) setReserveOf(t token.Token, v *uint256.Int) {
	if t.Address() == p.Token0() {
		p.setReserves(v, p.reserve1)
		return
	}
	p.setReserves(p.reserve0, v)
}

func (p *Pool) setReserves(r0, r1 *uint256.Int) {
	old0, old1 := p.reserve0, p.reserve1
	p.j.Append(func() { p.reserve0, p.reserve1 = old0, old1 })
	p.reserve0, p.reserve1 = r0, r1
	p.dirty = true
}

func (p *Pool) setVolume(v *uint256.Int) {
	old := p.volume
	p.j.Append(func() { p.volume = old })
	p.volume = v
	p.dirty = true
}
