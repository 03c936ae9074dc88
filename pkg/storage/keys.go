package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

// Key schema:
//
//	tok:<address>                    -> token ledger state (JSON)
//	pool:<address>                   -> pool state (JSON)
//	ord:<token0><token1>:<b|s>:<idx> -> order (JSON), idx zero-padded to 20 digits
//	nonce:<address>                  -> last nonce (JSON)
//	blk:<height>                     -> block record (gob), height zero-padded
//	meta:commit                      -> last commit (gob)
//
// Zero padding keeps prefix scans in index and height order.
const (
	prefixToken = "tok:"
	prefixPool  = "pool:"
	prefixOrder = "ord:"
	prefixNonce = "nonce:"
	prefixBlock = "blk:"
)

var keyCommit = []byte("meta:commit")

func tokenKey(addr common.Address) []byte {
	return []byte(prefixToken + addr.Hex())
}

func poolKey(addr common.Address) []byte {
	return []byte(prefixPool + addr.Hex())
}

func orderKey(pair market.PairKey, side orderbook.Side, index uint64) []byte {
	s := "s"
	if side == orderbook.Buy {
		s = "b"
	}
	return []byte(fmt.Sprintf("%s%s%s:%s:%020d", prefixOrder, pair.Token0.Hex(), pair.Token1.Hex(), s, index))
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, height))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
