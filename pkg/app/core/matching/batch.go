package matching

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
)

// BatchExecuteOrders runs one swap per tuple for the caller, with
// amountsOut[i] as the minimum output of swap i. The batch is all or
// nothing.
func (e *Engine) BatchExecuteOrders(caller common.Address, tokensIn, tokensOut []common.Address, amountsIn, amountsOut []*uint256.Int) ([]pool.SwapResult, error) {
	n := len(tokensIn)
	if n == 0 || len(tokensOut) != n || len(amountsIn) != n || len(amountsOut) != n {
		metrics.EngineErrorsTotal.WithLabelValues("batch_execute", "BatchLengthMismatch").Inc()
		return nil, errors.Wrapf(dexerr.ErrBatchLengthMismatch, "tokensIn=%d tokensOut=%d amountsIn=%d amountsOut=%d",
			len(tokensIn), len(tokensOut), len(amountsIn), len(amountsOut))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	results := make([]pool.SwapResult, 0, n)
	err := e.atomic("batch_execute", func() error {
		for i := 0; i < n; i++ {
			res, err := e.swap(caller, tokensIn[i], tokensOut[i], amountsIn[i], amountsOut[i])
			if err != nil {
				return errors.Wrapf(err, "batch entry %d", i)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
