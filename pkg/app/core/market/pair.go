package market

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
)

// PairKey identifies an unordered token pair. Token0 sorts below Token1.
type PairKey struct {
	Token0 common.Address `json:"token0"`
	Token1 common.Address `json:"token1"`
}

func NewPairKey(tokenA, tokenB common.Address) (PairKey, error) {
	if tokenA == tokenB {
		return PairKey{}, errors.Wrapf(dexerr.ErrInvalidToken, "pair of identical tokens %s", tokenA.Hex())
	}
	if bytes.Compare(tokenA[:], tokenB[:]) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	return PairKey{Token0: tokenA, Token1: tokenB}, nil
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s/%s", k.Token0.Hex(), k.Token1.Hex())
}

func (k PairKey) Has(t common.Address) bool {
	return t == k.Token0 || t == k.Token1
}

// Less orders keys by Token0 then Token1.
func (k PairKey) Less(o PairKey) bool {
	if c := bytes.Compare(k.Token0[:], o.Token0[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(k.Token1[:], o.Token1[:]) < 0
}

// PoolAddress is keccak256(token0 ‖ token1)[12:].
func PoolAddress(k PairKey) common.Address {
	return common.BytesToAddress(crypto.Keccak256(k.Token0[:], k.Token1[:])[12:])
}

// LPAddress is the address of the share token of the pool at poolAddr.
func LPAddress(poolAddr common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("lp"), poolAddr[:])[12:])
}
