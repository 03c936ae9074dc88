package token

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/journal"
)

const bpsDenominator = 10_000

// Ledger is a fungible token with owner-gated minting and an optional
// transfer fee. The fee is taken from the credited side and burned.
type Ledger struct {
	address common.Address
	symbol  string
	owner   common.Address
	feeBps  uint64

	j           *journal.Journal
	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	dirty       bool
}

// State is the persisted form of a ledger.
type State struct {
	Address     common.Address                                     `json:"address"`
	Symbol      string                                             `json:"symbol"`
	Owner       common.Address                                     `json:"owner"`
	FeeBps      uint64                                             `json:"feeBps"`
	TotalSupply *uint256.Int                                       `json:"totalSupply"`
	Balances    map[common.Address]*uint256.Int                    `json:"balances"`
	Allowances  map[common.Address]map[common.Address]*uint256.Int `json:"allowances"`
}

func NewLedger(symbol string, owner common.Address, feeBps uint64, j *journal.Journal) *Ledger {
	return NewLedgerAt(AddressFor(symbol), symbol, owner, feeBps, j)
}

func NewLedgerAt(addr common.Address, symbol string, owner common.Address, feeBps uint64, j *journal.Journal) *Ledger {
	if feeBps > bpsDenominator {
		feeBps = bpsDenominator
	}
	return &Ledger{
		address:     addr,
		symbol:      symbol,
		owner:       owner,
		feeBps:      feeBps,
		j:           j,
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
		dirty:       true,
	}
}

// RestoreLedger rebuilds a ledger from its persisted state.
func RestoreLedger(st State, j *journal.Journal) *Ledger {
	l := NewLedgerAt(st.Address, st.Symbol, st.Owner, st.FeeBps, j)
	l.totalSupply = orZero(st.TotalSupply)
	for addr, bal := range st.Balances {
		if bal != nil && !bal.IsZero() {
			l.balances[addr] = bal.Clone()
		}
	}
	for owner, m := range st.Allowances {
		for spender, amt := range m {
			if amt == nil || amt.IsZero() {
				continue
			}
			if l.allowances[owner] == nil {
				l.allowances[owner] = make(map[common.Address]*uint256.Int)
			}
			l.allowances[owner][spender] = amt.Clone()
		}
	}
	l.dirty = false
	return l
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Symbol() string          { return l.symbol }
func (l *Ledger) Owner() common.Address   { return l.owner }
func (l *Ledger) FeeBps() uint64          { return l.feeBps }

func (l *Ledger) TotalSupply() *uint256.Int { return l.totalSupply.Clone() }

func (l *Ledger) BalanceOf(owner common.Address) *uint256.Int {
	return orZero(l.balances[owner])
}

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	return orZero(l.allowances[owner][spender])
}

func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		return errors.Wrap(dexerr.ErrInvalidAmount, "approve: nil amount")
	}
	l.setAllowance(owner, spender, amount.Clone())
	return nil
}

func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil {
		return nil, errors.Wrap(dexerr.ErrInvalidAmount, "transfer: nil amount")
	}
	bal := l.BalanceOf(from)
	if bal.Lt(amount) {
		return nil, errors.Wrapf(dexerr.ErrInsufficientBalance,
			"%s: %s has %s, needs %s", l.symbol, from.Hex(), bal.Dec(), amount.Dec())
	}
	fee := l.fee(amount)
	received := new(uint256.Int).Sub(amount, fee)

	l.setBalance(from, new(uint256.Int).Sub(bal, amount))
	l.setBalance(to, new(uint256.Int).Add(l.BalanceOf(to), received))
	if !fee.IsZero() {
		l.setSupply(new(uint256.Int).Sub(l.totalSupply, fee))
	}
	return received, nil
}

// TransferFrom moves tokens on behalf of from. A spender moving its own funds
// needs no allowance; a max allowance is never decremented.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil {
		return nil, errors.Wrap(dexerr.ErrInvalidAmount, "transferFrom: nil amount")
	}
	if spender != from {
		allowed := l.Allowance(from, spender)
		if allowed.Lt(amount) {
			return nil, errors.Wrapf(dexerr.ErrInsufficientAllowance,
				"%s: %s allows %s %s, needs %s", l.symbol, from.Hex(), spender.Hex(), allowed.Dec(), amount.Dec())
		}
		if !allowed.Eq(maxUint256) {
			l.setAllowance(from, spender, new(uint256.Int).Sub(allowed, amount))
		}
	}
	return l.Transfer(from, to, amount)
}

// Mint creates amount for to. Only the owner may mint.
func (l *Ledger) Mint(caller, to common.Address, amount *uint256.Int) error {
	if caller != l.owner {
		return errors.Wrapf(dexerr.ErrUnauthorized, "%s: %s is not the owner", l.symbol, caller.Hex())
	}
	if amount == nil || amount.IsZero() {
		return errors.Wrap(dexerr.ErrInvalidAmount, "mint: zero amount")
	}
	supply, overflow := new(uint256.Int).AddOverflow(l.totalSupply, amount)
	if overflow {
		return errors.Wrap(dexerr.ErrInvalidAmount, "mint: supply overflow")
	}
	l.setSupply(supply)
	l.setBalance(to, new(uint256.Int).Add(l.BalanceOf(to), amount))
	return nil
}

// Burn destroys amount held by from. The owner may burn from any holder,
// anyone else only from themselves.
func (l *Ledger) Burn(caller, from common.Address, amount *uint256.Int) error {
	if caller != l.owner && caller != from {
		return errors.Wrapf(dexerr.ErrUnauthorized, "%s: %s cannot burn for %s", l.symbol, caller.Hex(), from.Hex())
	}
	if amount == nil || amount.IsZero() {
		return errors.Wrap(dexerr.ErrInvalidAmount, "burn: zero amount")
	}
	bal := l.BalanceOf(from)
	if bal.Lt(amount) {
		return errors.Wrapf(dexerr.ErrInsufficientBalance, "%s: burn %s from %s holding %s", l.symbol, amount.Dec(), from.Hex(), bal.Dec())
	}
	l.setBalance(from, new(uint256.Int).Sub(bal, amount))
	l.setSupply(new(uint256.Int).Sub(l.totalSupply, amount))
	return nil
}

func (l *Ledger) fee(amount *uint256.Int) *uint256.Int {
	if l.feeBps == 0 {
		return new(uint256.Int)
	}
	fee, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(l.feeBps), uint256.NewInt(bpsDenominator))
	if overflow {
		return amount.Clone()
	}
	return fee
}

// State returns a deep copy of the ledger.
func (l *Ledger) State() State {
	st := State{
		Address:     l.address,
		Symbol:      l.symbol,
		Owner:       l.owner,
		FeeBps:      l.feeBps,
		TotalSupply: l.totalSupply.Clone(),
		Balances:    make(map[common.Address]*uint256.Int, len(l.balances)),
		Allowances:  make(map[common.Address]map[common.Address]*uint256.Int, len(l.allowances)),
	}
	for addr, bal := range l.balances {
		st.Balances[addr] = bal.Clone()
	}
	for owner, m := range l.allowances {
		cp := make(map[common.Address]*uint256.Int, len(m))
		for spender, amt := range m {
			cp[spender] = amt.Clone()
		}
		st.Allowances[owner] = cp
	}
	return st
}

// Dirty reports whether the ledger changed since the last ClearDirty.
func (l *Ledger) Dirty() bool { return l.dirty }
func (l *Ledger) ClearDirty() { l.dirty = false }

// Every mutation below goes through these setters so the journal can undo it.
// Stored values are never mutated in place.

func (l *Ledger) setBalance(addr common.Address, v *uint256.Int) {
	old, had := l.balances[addr]
	l.j.Append(func() {
		if had {
			l.balances[addr] = old
		} else {
			delete(l.balances, addr)
		}
	})
	if v.IsZero() {
		delete(l.balances, addr)
	} else {
		l.balances[addr] = v
	}
	l.dirty = true
}

func (l *Ledger) setAllowance(owner, spender common.Address, v *uint256.Int) {
	old, had := l.allowances[owner][spender]
	l.j.Append(func() {
		if had {
			if l.allowances[owner] == nil {
				l.allowances[owner] = make(map[common.Address]*uint256.Int)
			}
			l.allowances[owner][spender] = old
			return
		}
		if m := l.allowances[owner]; m != nil {
			delete(m, spender)
			if len(m) == 0 {
				delete(l.allowances, owner)
			}
		}
	})
	if v.IsZero() {
		if m := l.allowances[owner]; m != nil {
			delete(m, spender)
			if len(m) == 0 {
				delete(l.allowances, owner)
			}
		}
	} else {
		if l.allowances[owner] == nil {
			l.allowances[owner] = make(map[common.Address]*uint256.Int)
		}
		l.allowances[owner][spender] = v
	}
	l.dirty = true
}

func (l *Ledger) setSupply(v *uint256.Int) {
	old := l.totalSupply
	l.j.Append(func() { l.totalSupply = old })
	l.totalSupply = v
	l.dirty = true
}

var maxUint256 = new(uint256.Int).SetAllOne()

// MaxAmount is the allowance that is never decremented.
func MaxAmount() *uint256.Int { return maxUint256.Clone() }

var _ Token = (*Ledger)(nil)
