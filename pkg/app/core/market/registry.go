package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/journal"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
)

// Registry owns the pair -> pool mapping. A pair is created once and its
// pool is never removed.
type Registry struct {
	mu     sync.RWMutex
	j      *journal.Journal
	tokens *token.Registry
	feeBps uint64
	pools  map[PairKey]*pool.Pool
}

func NewRegistry(tokens *token.Registry, feeBps uint64, j *journal.Journal) *Registry {
	return &Registry{
		j:      j,
		tokens: tokens,
		feeBps: feeBps,
		pools:  make(map[PairKey]*pool.Pool),
	}
}

// CreatePair deploys the pool for an unordered pair together with its share
// token. Fails with ErrPairExists if the pair is already listed.
func (r *Registry) CreatePair(tokenA, tokenB common.Address) (*pool.Pool, error) {
	key, err := NewPairKey(tokenA, tokenB)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[key]; exists {
		return nil, errors.Wrapf(dexerr.ErrPairExists, "pair %s", key)
	}
	t0, err := r.tokens.Get(key.Token0)
	if err != nil {
		return nil, err
	}
	t1, err := r.tokens.Get(key.Token1)
	if err != nil {
		return nil, err
	}

	addr := PoolAddress(key)
	lp := token.NewLedgerAt(LPAddress(addr), fmt.Sprintf("LP-%s-%s", t0.Symbol(), t1.Symbol()), addr, 0, r.j)
	if err := r.tokens.Register(lp); err != nil {
		return nil, err
	}

	p := pool.New(addr, t0, t1, lp, r.feeBps, r.j)
	r.put(key, p)
	return p, nil
}

// Restore re-lists a persisted pool. Its tokens and share ledger must already
// be registered.
func (r *Registry) Restore(st pool.State) (*pool.Pool, error) {
	key, err := NewPairKey(st.Token0, st.Token1)
	if err != nil {
		return nil, err
	}
	t0, err := r.tokens.Get(st.Token0)
	if err != nil {
		return nil, err
	}
	t1, err := r.tokens.Get(st.Token1)
	if err != nil {
		return nil, err
	}
	lp, err := r.tokens.Get(st.LPToken)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pools[key]; exists {
		return nil, errors.Wrapf(dexerr.ErrPairExists, "pair %s", key)
	}
	p := pool.Restore(st, t0, t1, lp, r.j)
	r.put(key, p)
	return p, nil
}

// Pool returns the pool of an unordered pair or ErrPairNotFound.
func (r *Registry) Pool(tokenA, tokenB common.Address) (*pool.Pool, error) {
	key, err := NewPairKey(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	return r.PoolByKey(key)
}

func (r *Registry) PoolByKey(key PairKey) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pools[key]
	if !ok {
		return nil, errors.Wrapf(dexerr.ErrPairNotFound, "pair %s", key)
	}
	return p, nil
}

// Pairs lists every pair in key order.
func (r *Registry) Pairs() []PairKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]PairKey, 0, len(r.pools))
	for k := range r.pools {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Dirty returns the pools changed since their last ClearDirty, in key order.
func (r *Registry) Dirty() []*pool.Pool {
	var out []*pool.Pool
	for _, k := range r.Pairs() {
		p, _ := r.PoolByKey(k)
		if p.Dirty() {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

func (r *Registry) Exists(tokenA, tokenB common.Address) bool {
	_, err := r.Pool(tokenA, tokenB)
	return err == nil
}

func (r *Registry) put(key PairKey, p *pool.Pool) {
	r.j.Append(func() {
		r.mu.Lock()
		delete(r.pools, key)
		r.mu.Unlock()
	})
	r.pools[key] = p
}
