package dex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

func (f *fixture) drain() abci.ResponseFinalizeBlock {
	f.t.Helper()
	prep := f.app.PrepareProposal(abci.RequestPrepareProposal{Height: int64(f.app.Height() + 1), MaxTxBytes: 1 << 24})
	require.NotEmpty(f.t, prep.Txs)
	return f.block(prep.Txs...)
}

func TestFeederTraffic(t *testing.T) {
	f := newFixture(t)
	f.fund()

	feeder, err := NewFeeder(f.app, f.operator, f.aaa, f.bbb, FeederConfig{
		Interval:   time.Millisecond,
		BatchSize:  5,
		NumTraders: 5,
		Funding:    10_000,
		Seed:       1,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, feeder.Bootstrap())
	assert.Equal(t, 20, f.app.Mempool().Len())
	f.requireOK(f.drain())

	for _, tr := range feeder.traders {
		bal, err := f.app.Engine().BalanceOf(f.aaa, tr.Address())
		require.NoError(t, err)
		assert.Equal(t, u(10_000), bal)
	}

	for round := 0; round < 3; round++ {
		require.Equal(t, 5, feeder.Step())
		resp := f.drain()
		for i, r := range resp.TxResults {
			// execution may reject a tiny swap, but every tx is well formed and in nonce order
			assert.NotEqualf(t, CodeInvalidTx, r.Code, "round %d tx %d: %s %s", round, i, r.Kind, r.Log)
		}
	}
	assert.Equal(t, 0, f.app.Mempool().Len())
}

func TestFeederConfigValidation(t *testing.T) {
	f := newFixture(t)
	_, err := NewFeeder(f.app, f.operator, f.aaa, f.bbb, FeederConfig{BatchSize: 1, Interval: time.Second}, nil)
	assert.Error(t, err)
}
