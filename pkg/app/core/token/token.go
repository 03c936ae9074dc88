// Package token implements the fungible-token interface consumed by the pool
// and the matching engine, backed by an in-process ledger.
package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Token is the transfer surface the pool depends on. Transfer and
// TransferFrom return the amount actually credited to the recipient, which is
// smaller than the requested amount for fee-on-transfer tokens.
type Token interface {
	Address() common.Address
	Symbol() string
	BalanceOf(owner common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) (*uint256.Int, error)
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) (*uint256.Int, error)
	Approve(owner, spender common.Address, amount *uint256.Int) error
}

// AddressFor derives the ledger address of a symbol.
func AddressFor(symbol string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("token:" + symbol))[12:])
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
