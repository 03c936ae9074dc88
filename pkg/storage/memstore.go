package storage

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// MemStore keeps everything in maps. Used by tests and by nodes started
// without a data directory.
type MemStore struct {
	mu     sync.Mutex
	tokens map[common.Address]token.State
	pools  map[common.Address]pool.State
	orders map[string]*orderbook.Order
	nonces map[common.Address]uint64
	blocks map[uint64]Block
	commit *Commit
}

func NewMemStore() *MemStore {
	return &MemStore{
		tokens: make(map[common.Address]token.State),
		pools:  make(map[common.Address]pool.State),
		orders: make(map[string]*orderbook.Order),
		nonces: make(map[common.Address]uint64),
		blocks: make(map[uint64]Block),
	}
}

func (s *MemStore) Apply(cs ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range cs.Tokens {
		s.tokens[st.Address] = st
	}
	for _, st := range cs.Pools {
		s.pools[st.Address] = st
	}
	for _, o := range cs.Orders {
		s.orders[string(orderKey(o.Pair, o.Side, o.Index))] = o.Clone()
	}
	for _, n := range cs.Nonces {
		s.nonces[n.Sender] = n.Nonce
	}
	s.blocks[cs.Block.Height] = cs.Block
	s.commit = &Commit{Height: cs.Block.Height, Time: cs.Block.Time, AppHash: cs.Block.AppHash}
	return nil
}

func (s *MemStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{}
	if s.commit != nil {
		c := *s.commit
		snap.Commit = &c
	}
	for _, st := range s.tokens {
		snap.Tokens = append(snap.Tokens, st)
	}
	sort.Slice(snap.Tokens, func(i, j int) bool { return snap.Tokens[i].Address.Cmp(snap.Tokens[j].Address) < 0 })
	for _, st := range s.pools {
		snap.Pools = append(snap.Pools, st)
	}
	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].Address.Cmp(snap.Pools[j].Address) < 0 })

	keys := make([]string, 0, len(s.orders))
	for k := range s.orders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		snap.Orders = append(snap.Orders, s.orders[k].Clone())
	}

	for a, n := range s.nonces {
		snap.Nonces = append(snap.Nonces, transaction.Entry{Sender: a, Nonce: n})
	}
	sort.Slice(snap.Nonces, func(i, j int) bool { return snap.Nonces[i].Sender.Cmp(snap.Nonces[j].Sender) < 0 })
	return snap, nil
}

func (s *MemStore) Block(height uint64) (Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	return b, ok, nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
