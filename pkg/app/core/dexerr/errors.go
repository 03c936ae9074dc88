// Package dexerr holds the error taxonomy shared by the pool, order store and
// matching engine. Callers wrap these sentinels with context; errors.Is still
// matches the sentinel after wrapping.
package dexerr

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrInvalidToken                = errors.New("invalid token")
	ErrRatioMismatch               = errors.New("ratio mismatch")
	ErrSlippageExceeded            = errors.New("slippage exceeded")
	ErrInsufficientLiquidity       = errors.New("insufficient liquidity")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrInsufficientAllowance       = errors.New("insufficient allowance")
	ErrOrderNotFound               = errors.New("order not found")
	ErrUnauthorized                = errors.New("unauthorized")
	ErrVolumeConditionNotMet       = errors.New("volume condition not met")
	ErrPriceConditionNotMet        = errors.New("price condition not met")
	ErrPairExists                  = errors.New("pair exists")
	ErrPairNotFound                = errors.New("pair not found")
	ErrTransactionAlreadyProcessed = errors.New("transaction already processed")
	ErrBatchLengthMismatch         = errors.New("batch length mismatch")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidToken, "InvalidToken"},
	{ErrRatioMismatch, "RatioMismatch"},
	{ErrSlippageExceeded, "SlippageExceeded"},
	{ErrInsufficientLiquidity, "InsufficientLiquidity"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrInsufficientAllowance, "InsufficientAllowance"},
	{ErrOrderNotFound, "OrderNotFound"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrVolumeConditionNotMet, "VolumeConditionNotMet"},
	{ErrPriceConditionNotMet, "PriceConditionNotMet"},
	{ErrPairExists, "PairExists"},
	{ErrPairNotFound, "PairNotFound"},
	{ErrTransactionAlreadyProcessed, "TransactionAlreadyProcessed"},
	{ErrBatchLengthMismatch, "BatchLengthMismatch"},
}

// Kind returns the taxonomy name of err, "" for nil and "Internal" for
// anything outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
