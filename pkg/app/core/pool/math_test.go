package pool

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
)

func TestGetAmountOut(t *testing.T) {
	tests := []struct {
		name          string
		in, rIn, rOut uint64
		feeBps        uint64
		want          uint64
	}{
		{"fee free", 100, 1_000, 1_000, 0, 90},
		{"30 bps", 100, 1_000, 1_000, 30, 90},
		{"30 bps large pool", 1_000, 1_000_000, 1_000_000, 30, 996},
		{"fee free large pool", 1_000, 1_000_000, 1_000_000, 0, 999},
		{"dust", 1, 1_000_000, 1_000, 30, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetAmountOut(u(tt.in), u(tt.rIn), u(tt.rOut), tt.feeBps)
			require.NoError(t, err)
			assert.Equal(t, u(tt.want), got)
		})
	}
}

func TestGetAmountOutErrors(t *testing.T) {
	_, err := GetAmountOut(u(0), u(1), u(1), 30)
	assert.True(t, errors.Is(err, dexerr.ErrInvalidAmount))
	_, err = GetAmountOut(u(1), u(0), u(1), 30)
	assert.True(t, errors.Is(err, dexerr.ErrInsufficientLiquidity))
	_, err = GetAmountOut(u(1), u(1), u(1), 10_000)
	assert.Error(t, err)
}

func TestCeilMulDiv(t *testing.T) {
	got, err := CeilMulDiv(u(50), u(50), u(100))
	require.NoError(t, err)
	assert.Equal(t, u(25), got)

	got, err = CeilMulDiv(u(50), u(33), u(100))
	require.NoError(t, err)
	assert.Equal(t, u(17), got)
}

func TestBootstrapShares(t *testing.T) {
	got, err := bootstrapShares(u(990), u(1_000))
	require.NoError(t, err)
	assert.Equal(t, u(994), got)
}
