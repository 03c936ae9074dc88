package dex

import (
	"context"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	dexcrypto "github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// FeederConfig controls the development traffic generator.
type FeederConfig struct {
	Interval   time.Duration
	BatchSize  int
	NumTraders int
	Funding    uint64 // of each pair token, per trader
	Seed       int64
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Interval:   250 * time.Millisecond,
		BatchSize:  10,
		NumTraders: 20,
		Funding:    1_000_000,
		Seed:       time.Now().UnixNano(),
	}
}

// Feeder submits signed swaps, conditional orders and match requests for a
// set of simulated traders on one pair. The operator key must own both
// tokens so it can fund the traders.
type Feeder struct {
	app      *App
	cfg      FeederConfig
	operator *dexcrypto.Signer
	traders  []*dexcrypto.Signer
	tokenA   common.Address
	tokenB   common.Address
	nonces   map[common.Address]uint64
	rng      *rand.Rand
	logger   *zap.SugaredLogger
}

func NewFeeder(app *App, operator *dexcrypto.Signer, tokenA, tokenB common.Address, cfg FeederConfig, logger *zap.SugaredLogger) (*Feeder, error) {
	if cfg.NumTraders <= 0 || cfg.BatchSize <= 0 || cfg.Interval <= 0 {
		return nil, errors.New("feeder needs traders, a batch size and an interval")
	}
	f := &Feeder{
		app:      app,
		cfg:      cfg,
		operator: operator,
		tokenA:   tokenA,
		tokenB:   tokenB,
		nonces:   make(map[common.Address]uint64),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		logger:   util.OrNop(logger),
	}
	for i := 0; i < cfg.NumTraders; i++ {
		s, err := dexcrypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		f.traders = append(f.traders, s)
	}
	return f, nil
}

// Bootstrap funds every trader and approves the pool to spend both tokens.
func (f *Feeder) Bootstrap() error {
	key, err := market.NewPairKey(f.tokenA, f.tokenB)
	if err != nil {
		return err
	}
	poolAddr := market.PoolAddress(key)
	funding := uint256.NewInt(f.cfg.Funding)
	for _, t := range f.traders {
		for _, tok := range []common.Address{f.tokenA, f.tokenB} {
			if err := f.submit(f.operator, transaction.TypeMint, &transaction.Mint{Token: tok, To: t.Address(), Amount: funding}); err != nil {
				return err
			}
			if err := f.submit(t, transaction.TypeApprove, &transaction.Approve{Token: tok, Spender: poolAddr, Amount: token.MaxAmount()}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Step submits one batch and returns how many transactions were admitted.
// A trader appears at most once per batch: the mempool may reorder a
// trader's transactions across buckets and reject the lower nonce.
func (f *Feeder) Step() int {
	admitted := 0
	perm := f.rng.Perm(len(f.traders))
	for i := 0; i < f.cfg.BatchSize && i < len(perm); i++ {
		trader := f.traders[perm[i]]
		typ, payload := f.next()
		if err := f.submit(trader, typ, payload); err != nil {
			f.logger.Debugw("feeder tx rejected", "type", typ, "err", err)
			continue
		}
		admitted++
	}
	return admitted
}

func (f *Feeder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	total := 0
	f.logger.Infow("feeder started", "traders", len(f.traders), "batch", f.cfg.BatchSize, "interval", f.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			f.logger.Infow("feeder stopped", "txs", total, "elapsed", elapsed.Round(time.Second))
			return
		case <-ticker.C:
			total += f.Step()
		}
	}
}

// next picks a random action: mostly swaps, some resting orders and the
// occasional match request.
func (f *Feeder) next() (transaction.Type, any) {
	in, out := f.tokenA, f.tokenB
	isBuy := f.rng.Intn(2) == 0
	if !isBuy {
		in, out = out, in
	}
	amt := uint256.NewInt(uint64(1 + f.rng.Intn(100)))

	switch r := f.rng.Intn(100); {
	case r < 60:
		return transaction.TypeSwap, &transaction.Swap{TokenIn: in, TokenOut: out, AmountIn: amt, MinAmountOut: new(uint256.Int)}
	case r < 90:
		return transaction.TypePlaceOrder, &transaction.PlaceOrder{
			TokenIn:      in,
			TokenOut:     out,
			AmountIn:     amt,
			MinAmountOut: new(uint256.Int),
			IsBuy:        isBuy,
		}
	default:
		return transaction.TypeMatchOrders, &transaction.MatchOrders{TokenA: f.tokenA, TokenB: f.tokenB, BuySide: isBuy}
	}
}

func (f *Feeder) submit(s *dexcrypto.Signer, typ transaction.Type, payload any) error {
	addr := s.Address()
	nonce, ok := f.nonces[addr]
	if !ok {
		nonce = f.app.Nonce(addr)
	}
	nonce++
	env, err := transaction.Build(f.app.Signer(), s, typ, nonce, payload)
	if err != nil {
		return err
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	if _, err := f.app.CheckTx(raw); err != nil {
		return err
	}
	f.nonces[addr] = nonce
	return nil
}
