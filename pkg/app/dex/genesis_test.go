package dex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	doc := `{
  "time": 1700000000,
  "operator": "0x00000000000000000000000000000000000000aa",
  "tokens": [
    {"symbol": "AAA", "supply": "1000000"},
    {"symbol": "FEE", "supply": "5000", "feeBps": 100}
  ],
  "pairs": [["AAA", "FEE"]]
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	g, err := LoadGenesis(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), g.Time)
	assert.Equal(t, common.HexToAddress("0xaa"), g.Operator)
	require.Len(t, g.Tokens, 2)
	assert.Equal(t, u(1_000_000), g.Tokens[0].Supply)
	assert.Equal(t, uint64(100), g.Tokens[1].FeeBps)
	assert.Equal(t, [][2]string{{"AAA", "FEE"}}, g.Pairs)

	_, err = LoadGenesis(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
