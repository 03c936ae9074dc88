// Package matching is the conditional-order engine. It owns the token
// ledgers, pools and order store and serialises every state change behind a
// single writer lock. Each public mutation runs inside a journal revision and
// either commits completely or leaves no trace.
package matching

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/journal"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/oracle"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// PartialFillPolicy decides what happens to the unfilled remainder of the
// larger order in a match.
type PartialFillPolicy string

const (
	// RemainderActive keeps the remainder eligible for later matches.
	RemainderActive PartialFillPolicy = "remainder_active"
	// RemainderClosed retires the order after its first fill; the trader
	// must place a new order for the rest.
	RemainderClosed PartialFillPolicy = "remainder_closed"
)

func (p PartialFillPolicy) Valid() bool {
	return p == RemainderActive || p == RemainderClosed
}

type Config struct {
	FeeBps       uint64
	PriceScale   uint64
	TimeLock     time.Duration
	PartialFill  PartialFillPolicy
	OracleMaxAge time.Duration // zero disables the staleness check
}

func DefaultConfig() Config {
	return Config{
		FeeBps:       30,
		PriceScale:   100,
		TimeLock:     time.Hour,
		PartialFill:  RemainderActive,
		OracleMaxAge: time.Hour,
	}
}

// State is the mutable world the engine operates on. All components share
// one journal so a single revision covers ledgers, pools and orders.
type State struct {
	Journal *journal.Journal
	Tokens  *token.Registry
	Pairs   *market.Registry
	Orders  *orderbook.Store
}

func NewState(feeBps uint64) *State {
	j := journal.New()
	tokens := token.NewRegistry(j)
	return &State{
		Journal: j,
		Tokens:  tokens,
		Pairs:   market.NewRegistry(tokens, feeBps, j),
		Orders:  orderbook.NewStore(j),
	}
}

type Engine struct {
	mu     sync.Mutex
	cfg    Config
	st     *State
	oracle oracle.Oracle
	clock  util.Clock
	logger *zap.SugaredLogger

	committed []func() // run once the current revision commits
}

// New builds an engine over st. orc may be nil, in which case every
// external-price placement is rejected.
func New(cfg Config, st *State, orc oracle.Oracle, clock util.Clock, logger *zap.SugaredLogger) *Engine {
	if cfg.PriceScale == 0 {
		cfg.PriceScale = DefaultConfig().PriceScale
	}
	if !cfg.PartialFill.Valid() {
		cfg.PartialFill = RemainderActive
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{
		cfg:    cfg,
		st:     st,
		oracle: orc,
		clock:  clock,
		logger: util.OrNop(logger),
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Inspect runs fn with exclusive access to the engine state. fn may read
// state and clear dirty markers but must not change anything else.
func (e *Engine) Inspect(fn func(st *State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.st)
}

func (e *Engine) now() int64 { return e.clock.Now().Unix() }

func (e *Engine) scale() *uint256.Int { return uint256.NewInt(e.cfg.PriceScale) }

// atomic runs fn in a journal revision. Callers hold e.mu.
func (e *Engine) atomic(op string, fn func() error) error {
	e.committed = e.committed[:0]
	err := e.st.Journal.Atomic(fn)
	if err != nil {
		e.committed = e.committed[:0]
		metrics.EngineErrorsTotal.WithLabelValues(op, dexerr.Kind(err)).Inc()
		e.logger.Debugw("operation rolled back", "op", op, "err", err)
		return err
	}
	for _, f := range e.committed {
		f()
	}
	e.committed = e.committed[:0]
	return nil
}

func (e *Engine) onCommit(f func()) {
	e.committed = append(e.committed, f)
}

// CreateToken registers a new ledger owned by owner. Used for genesis and by
// operators listing a new asset.
func (e *Engine) CreateToken(symbol string, owner common.Address, feeBps uint64) (common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if feeBps >= 10_000 {
		return common.Address{}, errors.Wrapf(dexerr.ErrInvalidAmount, "transfer fee %d bps", feeBps)
	}
	var addr common.Address
	err := e.atomic("create_token", func() error {
		l := token.NewLedger(symbol, owner, feeBps, e.st.Journal)
		addr = l.Address()
		return e.st.Tokens.Register(l)
	})
	return addr, err
}

func (e *Engine) Mint(caller, tok, to common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.atomic("mint", func() error {
		l, err := e.st.Tokens.Get(tok)
		if err != nil {
			return err
		}
		return l.Mint(caller, to, amount)
	})
}

func (e *Engine) Approve(caller, tok, spender common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.atomic("approve", func() error {
		l, err := e.st.Tokens.Get(tok)
		if err != nil {
			return err
		}
		return l.Approve(caller, spender, amount)
	})
}

// Transfer returns the amount credited to `to` after any transfer fee.
func (e *Engine) Transfer(caller, tok, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var received *uint256.Int
	err := e.atomic("transfer", func() error {
		l, err := e.st.Tokens.Get(tok)
		if err != nil {
			return err
		}
		received, err = l.Transfer(caller, to, amount)
		return err
	})
	return received, err
}

func (e *Engine) BalanceOf(tok, holder common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.st.Tokens.Get(tok)
	if err != nil {
		return nil, err
	}
	return l.BalanceOf(holder), nil
}

func (e *Engine) Allowance(tok, owner, spender common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.st.Tokens.Get(tok)
	if err != nil {
		return nil, err
	}
	return l.Allowance(owner, spender), nil
}

func (e *Engine) Tokens() []token.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.st.Tokens.All()
	out := make([]token.State, 0, len(all))
	for _, l := range all {
		out = append(out, l.State())
	}
	return out
}

// CreatePair lists an unordered pair and deploys its pool.
func (e *Engine) CreatePair(tokenA, tokenB common.Address) (pool.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var st pool.State
	err := e.atomic("create_pair", func() error {
		p, err := e.st.Pairs.CreatePair(tokenA, tokenB)
		if err != nil {
			return err
		}
		st = p.State()
		return nil
	})
	if err == nil {
		e.logger.Infow("pair created", "token0", st.Token0.Hex(), "token1", st.Token1.Hex(), "pool", st.Address.Hex())
	}
	return st, err
}

// AddLiquidity deposits amountA of tokenA and amountB of tokenB, in
// argument order, and returns the minted shares.
func (e *Engine) AddLiquidity(caller, tokenA, tokenB common.Address, amountA, amountB *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var shares *uint256.Int
	err := e.atomic("add_liquidity", func() error {
		p, err := e.st.Pairs.Pool(tokenA, tokenB)
		if err != nil {
			return err
		}
		a0, a1 := amountA, amountB
		if p.Token0() != tokenA {
			a0, a1 = amountB, amountA
		}
		shares, err = p.AddLiquidity(caller, a0, a1)
		if err != nil {
			return err
		}
		e.onCommit(func() { observePool(p, "add") })
		return nil
	})
	return shares, err
}

// RemoveLiquidity burns shares and returns the withdrawn amounts in argument
// order.
func (e *Engine) RemoveLiquidity(caller, tokenA, tokenB common.Address, shares *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var outA, outB *uint256.Int
	err := e.atomic("remove_liquidity", func() error {
		p, err := e.st.Pairs.Pool(tokenA, tokenB)
		if err != nil {
			return err
		}
		out0, out1, err := p.RemoveLiquidity(caller, shares)
		if err != nil {
			return err
		}
		outA, outB = out0, out1
		if p.Token0() != tokenA {
			outA, outB = out1, out0
		}
		e.onCommit(func() { observePool(p, "remove") })
		return nil
	})
	return outA, outB, err
}

// Swap sells amountIn of tokenIn for tokenOut through the pair's pool. The
// caller must have approved the pool for amountIn.
func (e *Engine) Swap(caller, tokenIn, tokenOut common.Address, amountIn, minAmountOut *uint256.Int) (pool.SwapResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var res pool.SwapResult
	err := e.atomic("swap", func() error {
		var err error
		res, err = e.swap(caller, tokenIn, tokenOut, amountIn, minAmountOut)
		return err
	})
	return res, err
}

func (e *Engine) swap(caller, tokenIn, tokenOut common.Address, amountIn, minAmountOut *uint256.Int) (pool.SwapResult, error) {
	p, err := e.st.Pairs.Pool(tokenIn, tokenOut)
	if err != nil {
		return pool.SwapResult{}, err
	}
	res, err := p.Swap(caller, tokenIn, amountIn, minAmountOut, caller)
	if err != nil {
		return pool.SwapResult{}, err
	}
	e.onCommit(func() { observeSwap(p, res) })
	return res, nil
}

// Reserves returns the pool reserves in argument order.
func (e *Engine) Reserves(tokenA, tokenB common.Address) (*uint256.Int, *uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.st.Pairs.Pool(tokenA, tokenB)
	if err != nil {
		return nil, nil, err
	}
	return p.ReservesOf(tokenA)
}

func (e *Engine) TotalVolume(tokenA, tokenB common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.st.Pairs.Pool(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	return p.TotalVolume(), nil
}

func (e *Engine) Pool(tokenA, tokenB common.Address) (pool.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.st.Pairs.Pool(tokenA, tokenB)
	if err != nil {
		return pool.State{}, err
	}
	return p.State(), nil
}

func (e *Engine) Pools() []pool.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := e.st.Pairs.Pairs()
	out := make([]pool.State, 0, len(keys))
	for _, k := range keys {
		if p, err := e.st.Pairs.PoolByKey(k); err == nil {
			out = append(out, p.State())
		}
	}
	return out
}

// Quote previews a swap without executing it.
func (e *Engine) Quote(tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.st.Pairs.Pool(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return p.Quote(tokenIn, amountIn)
}

// Price is the pool price of base in units of the other token, scaled by
// the configured price scale. ok is false for an empty pool.
func (e *Engine) Price(base, quote common.Address) (*uint256.Int, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.st.Pairs.Pool(base, quote)
	if err != nil {
		return nil, false, err
	}
	price, ok := p.Price(base, e.scale())
	return price, ok, nil
}

func observePool(p *pool.Pool, kind string) {
	pair := pairLabel(p)
	if kind != "" {
		metrics.LiquidityEventsTotal.WithLabelValues(pair, kind).Inc()
	}
	r0, r1 := p.Reserves()
	metrics.Reserve.WithLabelValues(pair, p.Token0().Hex()).Set(metrics.Float(r0))
	metrics.Reserve.WithLabelValues(pair, p.Token1().Hex()).Set(metrics.Float(r1))
}

func observeSwap(p *pool.Pool, res pool.SwapResult) {
	pair := pairLabel(p)
	metrics.SwapsTotal.WithLabelValues(pair).Inc()
	metrics.SwapVolume.WithLabelValues(pair, res.TokenIn.Hex()).Add(metrics.Float(res.AmountIn))
	observePool(p, "")
}

func pairLabel(p *pool.Pool) string {
	return p.Token0().Hex() + "/" + p.Token1().Hex()
}
