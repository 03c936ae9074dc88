package dexerr

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bare sentinel", ErrSlippageExceeded, "SlippageExceeded"},
		{"wrapped", errors.Wrapf(ErrPairNotFound, "pair %s", "a/b"), "PairNotFound"},
		{"fmt wrapped", fmt.Errorf("apply: %w", ErrUnauthorized), "Unauthorized"},
		{"foreign", errors.New("disk on fire"), "Internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}
