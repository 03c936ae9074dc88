// Package dex is the replicated application: it verifies signed
// transactions, runs them through the matching engine at block time,
// persists the result and reports per-transaction outcomes.
package dex

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/matching"
	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	dexcrypto "github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/oracle"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

type Config struct {
	Engine        matching.Config
	ChainID       int64
	OracleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Engine:        matching.DefaultConfig(),
		ChainID:       1337,
		OracleTimeout: 2 * time.Second,
	}
}

type App struct {
	cfg      Config
	engine   *matching.Engine
	clock    *util.ManualClock
	verifier *transaction.Verifier
	nonces   *transaction.Nonces
	mempool  *mempool.Mempool
	store    storage.Store
	logger   *zap.SugaredLogger

	mu        sync.RWMutex
	committed bool // at least genesis has been persisted
	height    uint64
	lastTime  int64
	appHash   abci.Hash

	// OnEvents receives the events of every finalized block.
	OnEvents func(height uint64, events []abci.Event)
}

// New builds the application and restores whatever store holds. A fresh
// store leaves the app uncommitted until InitGenesis runs.
func New(cfg Config, store storage.Store, orc oracle.Oracle, logger *zap.SugaredLogger) (*App, error) {
	logger = util.OrNop(logger)
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultConfig().OracleTimeout
	}

	snap, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load state")
	}

	st := matching.NewState(cfg.Engine.FeeBps)
	nonces := transaction.NewNonces()
	if err := restore(st, nonces, snap); err != nil {
		return nil, errors.Wrap(err, "restore state")
	}

	clock := util.NewManualClock(time.Unix(0, 0))
	a := &App{
		cfg:      cfg,
		clock:    clock,
		verifier: transaction.NewVerifier(dexcrypto.DefaultDomain(cfg.ChainID)),
		nonces:   nonces,
		mempool:  mempool.NewMempool(),
		store:    store,
		logger:   logger,
	}
	a.engine = matching.New(cfg.Engine, st, orc, clock, logger.Named("engine"))

	if c := snap.Commit; c != nil {
		a.committed = true
		a.height = c.Height
		a.lastTime = c.Time
		a.appHash = c.AppHash
		clock.Set(time.Unix(c.Time, 0))
		logger.Infow("state restored", "height", c.Height, "tokens", len(snap.Tokens), "pools", len(snap.Pools), "orders", len(snap.Orders))
	}
	return a, nil
}

func (a *App) Engine() *matching.Engine { return a.engine }

func (a *App) Signer() *dexcrypto.ActionSigner { return a.verifier.Signer() }

func (a *App) Mempool() *mempool.Mempool { return a.mempool }

func (a *App) Height() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

func (a *App) AppHash() abci.Hash {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appHash
}

// LastBlockTime is the timestamp of the last committed block.
func (a *App) LastBlockTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return time.Unix(a.lastTime, 0)
}

func (a *App) Committed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.committed
}

// Nonce is the last nonce committed for sender; the next transaction must
// carry a larger one.
func (a *App) Nonce(sender common.Address) uint64 { return a.nonces.Last(sender) }

func (a *App) Block(height uint64) (storage.Block, bool, error) {
	return a.store.Block(height)
}

// CheckTx admits a transaction to the mempool after checking its signature
// and that its nonce is ahead of the committed one. It returns the keccak
// hash of the raw bytes.
func (a *App) CheckTx(raw []byte) (common.Hash, error) {
	env, err := a.verifier.ParseAndVerify(raw)
	if err != nil {
		return common.Hash{}, err
	}
	if err := a.nonces.Check(env.Sender, env.Nonce); err != nil {
		return common.Hash{}, err
	}
	a.mempool.PushRaw(raw)
	return crypto.Keccak256Hash(raw), nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts anything: invalid transactions fail individually
// in FinalizeBlock.
func (a *App) ProcessProposal(abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.Height <= 0 || uint64(req.Height) != a.height+1 {
		return abci.ResponseFinalizeBlock{}, errors.Newf("finalize height %d, expected %d", req.Height, a.height+1)
	}
	ts := req.Timestamp
	if ts < a.lastTime {
		ts = a.lastTime
	}
	a.clock.Set(time.Unix(ts, 0))

	resp := abci.ResponseFinalizeBlock{TxResults: make([]abci.ExecTxResult, 0, len(req.Txs))}
	ctx := context.Background()
	for i, raw := range req.Txs {
		res, typ, events := a.deliverTx(ctx, raw)
		resp.TxResults = append(resp.TxResults, res)
		for j := range events {
			events[j].Attributes["tx"] = itoa(uint64(i))
		}
		resp.Events = append(resp.Events, events...)

		label := "ok"
		if !res.OK() {
			label = res.Kind
			a.logger.Debugw("tx failed", "height", req.Height, "index", i, "type", typ, "kind", res.Kind, "log", res.Log)
		}
		metrics.TxResultsTotal.WithLabelValues(typ, label).Inc()
	}

	height := uint64(req.Height)
	hash, err := a.commit(height, ts, req.Txs, resp.TxResults)
	if err != nil {
		return abci.ResponseFinalizeBlock{}, err
	}
	resp.AppHash = hash
	resp.Events = append(resp.Events, abci.Event{Type: EventBlock, Attributes: map[string]string{
		"height": itoa(height),
		"txs":    itoa(uint64(len(req.Txs))),
		"time":   itoa(uint64(ts)),
	}})

	a.height = height
	a.lastTime = ts
	a.appHash = hash
	a.committed = true

	metrics.BlocksTotal.Inc()
	metrics.BlockTxs.Observe(float64(len(req.Txs)))
	if a.OnEvents != nil {
		a.OnEvents(height, resp.Events)
	}
	return resp, nil
}

// commit hashes the post-block state and persists the changes with the
// block record. Callers hold a.mu.
func (a *App) commit(height uint64, ts int64, txs [][]byte, results []abci.ExecTxResult) (abci.Hash, error) {
	cs := storage.ChangeSet{Nonces: a.nonces.TakeDirty()}
	var hash abci.Hash
	var hashErr error
	a.engine.Inspect(func(st *matching.State) {
		collect(st, &cs)
		hash, hashErr = stateHash(height, ts, st, a.nonces)
	})
	if hashErr != nil {
		return abci.Hash{}, hashErr
	}

	cs.Block = storage.Block{Height: height, Time: ts, Txs: txs, AppHash: hash}
	for _, r := range results {
		cs.Block.Results = append(cs.Block.Results, storage.TxResult{Code: r.Code, Kind: r.Kind, Log: r.Log})
	}
	if err := a.store.Apply(cs); err != nil {
		return abci.Hash{}, errors.Wrapf(err, "persist height %d", height)
	}
	return hash, nil
}

var _ abci.Application = (*App)(nil)
