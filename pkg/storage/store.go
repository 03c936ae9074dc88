// Package storage persists engine state, nonces and block records.
package storage

import (
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// Block is the record of one finalized block.
type Block struct {
	Height  uint64
	Time    int64 // unix seconds
	Txs     [][]byte
	Results []TxResult
	AppHash [32]byte
}

type TxResult struct {
	Code uint32 `json:"code"`
	Kind string `json:"kind,omitempty"`
	Log  string `json:"log,omitempty"`
}

// Commit identifies the last persisted block.
type Commit struct {
	Height  uint64
	Time    int64
	AppHash [32]byte
}

// ChangeSet is everything a block changed. It is written atomically.
type ChangeSet struct {
	Tokens []token.State
	Pools  []pool.State
	Orders []*orderbook.Order
	Nonces []transaction.Entry
	Block  Block
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Commit *Commit // nil for an empty store
	Tokens []token.State
	Pools  []pool.State
	Orders []*orderbook.Order // per (pair, side) in index order
	Nonces []transaction.Entry
}

type Store interface {
	Apply(cs ChangeSet) error
	Load() (*Snapshot, error)
	Block(height uint64) (Block, bool, error)
	Close() error
}
