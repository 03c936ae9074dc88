package dex

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
)

type GenesisToken struct {
	Symbol string       `json:"symbol"`
	Supply *uint256.Int `json:"supply"`
	FeeBps uint64       `json:"feeBps,omitempty"`
}

// Genesis lists the tokens that exist at height 0. The operator owns every
// genesis token and receives its whole supply. Pairs name tokens by symbol.
type Genesis struct {
	Time     int64          `json:"time"`
	Operator common.Address `json:"operator"`
	Tokens   []GenesisToken `json:"tokens"`
	Pairs    [][2]string    `json:"pairs,omitempty"`
}

func LoadGenesis(path string) (Genesis, error) {
	var g Genesis
	b, err := os.ReadFile(path)
	if err != nil {
		return g, errors.Wrap(err, "read genesis")
	}
	if err := json.Unmarshal(b, &g); err != nil {
		return g, errors.Wrapf(err, "decode genesis %s", path)
	}
	return g, nil
}

// InitGenesis applies g and persists it as height 0. It fails if the app
// already has committed state.
func (a *App) InitGenesis(g Genesis) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.committed {
		return errors.Newf("genesis on committed state at height %d", a.height)
	}
	if g.Operator == (common.Address{}) {
		return errors.New("genesis operator is required")
	}
	a.clock.Set(time.Unix(g.Time, 0))

	symbols := make(map[string]common.Address, len(g.Tokens))
	for _, t := range g.Tokens {
		addr, err := a.engine.CreateToken(t.Symbol, g.Operator, t.FeeBps)
		if err != nil {
			return errors.Wrapf(err, "genesis token %s", t.Symbol)
		}
		symbols[t.Symbol] = addr
		if t.Supply != nil && !t.Supply.IsZero() {
			if err := a.engine.Mint(g.Operator, addr, g.Operator, t.Supply); err != nil {
				return errors.Wrapf(err, "genesis supply of %s", t.Symbol)
			}
		}
	}
	for _, p := range g.Pairs {
		ta, ok := symbols[p[0]]
		if !ok {
			return errors.Newf("genesis pair references unknown token %q", p[0])
		}
		tb, ok := symbols[p[1]]
		if !ok {
			return errors.Newf("genesis pair references unknown token %q", p[1])
		}
		if _, err := a.engine.CreatePair(ta, tb); err != nil {
			return errors.Wrapf(err, "genesis pair %s/%s", p[0], p[1])
		}
	}

	hash, err := a.commit(0, g.Time, nil, nil)
	if err != nil {
		return err
	}
	a.committed = true
	a.lastTime = g.Time
	a.appHash = hash
	a.logger.Infow("genesis applied", "operator", g.Operator.Hex(), "tokens", len(g.Tokens), "pairs", len(g.Pairs), "apphash", hash.String())
	return nil
}

// TokenAddress is the address a symbol gets at genesis.
func TokenAddress(symbol string) common.Address { return token.AddressFor(symbol) }
