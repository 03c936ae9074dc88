package api

// API response types for REST endpoints and WebSocket messages. Token
// amounts are decimal strings; prices are decimals in units of the other
// token of the pair.

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

// ==============================
// REST Response Types
// ==============================

// PairInfo is a pool and its current prices.
type PairInfo struct {
	Token0      string       `json:"token0"`
	Token1      string       `json:"token1"`
	Pool        string       `json:"pool"`
	LPToken     string       `json:"lpToken"`
	FeeBps      uint64       `json:"feeBps"`
	Reserve0    *uint256.Int `json:"reserve0"`
	Reserve1    *uint256.Int `json:"reserve1"`
	TotalVolume *uint256.Int `json:"totalVolume"`
	Price0      string       `json:"price0,omitempty"` // token0 in token1
	Price1      string       `json:"price1,omitempty"` // token1 in token0
}

type TokenInfo struct {
	Address     string       `json:"address"`
	Symbol      string       `json:"symbol"`
	Owner       string       `json:"owner"`
	FeeBps      uint64       `json:"feeBps"`
	TotalSupply *uint256.Int `json:"totalSupply"`
}

type BalanceInfo struct {
	Token   string       `json:"token"`
	Address string       `json:"address"`
	Balance *uint256.Int `json:"balance"`
}

type AllowanceInfo struct {
	Token     string       `json:"token"`
	Owner     string       `json:"owner"`
	Spender   string       `json:"spender"`
	Allowance *uint256.Int `json:"allowance"`
}

// OrderInfo is a stored order plus the state derived from the block clock.
type OrderInfo struct {
	*orderbook.Order
	Remaining *uint256.Int `json:"remaining"`
	Expired   bool         `json:"expired"`
	Locked    bool         `json:"locked"`
}

type QuoteResponse struct {
	TokenIn   string       `json:"tokenIn"`
	TokenOut  string       `json:"tokenOut"`
	AmountIn  *uint256.Int `json:"amountIn"`
	AmountOut *uint256.Int `json:"amountOut"`
	Price     string       `json:"price"` // amountOut / amountIn
}

type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"` // last committed
	Next    uint64 `json:"next"`
}

type ChainStatus struct {
	Height        uint64 `json:"height"`
	AppHash       string `json:"appHash"`
	LastBlockTime int64  `json:"lastBlockTime"` // unix seconds
	MempoolSize   int    `json:"mempoolSize"`
	ChainID       int64  `json:"chainId"`
}

type BlockInfo struct {
	Height  uint64     `json:"height"`
	Time    int64      `json:"time"`
	AppHash string     `json:"appHash"`
	Txs     []string   `json:"txs"`
	Results []TxResult `json:"results"`
}

type TxResult struct {
	Code uint32 `json:"code"`
	Kind string `json:"kind,omitempty"`
	Log  string `json:"log,omitempty"`
}

// SubmitTxResponse is the response from POST /api/v1/tx
type SubmitTxResponse struct {
	Status string `json:"status"` // "accepted"
	Hash   string `json:"hash"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage carries one block event to subscribers of Channel.
type WSMessage struct {
	Channel string            `json:"channel"` // "pool:<pair>", "orders:<pair>" or "blocks"
	Type    string            `json:"type"`
	Height  uint64            `json:"height"`
	Data    map[string]string `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
