package storage

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", path)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Apply writes a block's changes and its commit record in one synced batch.
func (s *PebbleStore) Apply(cs ChangeSet) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, st := range cs.Tokens {
		if err := setJSON(b, tokenKey(st.Address), st); err != nil {
			return err
		}
	}
	for _, st := range cs.Pools {
		if err := setJSON(b, poolKey(st.Address), st); err != nil {
			return err
		}
	}
	for _, o := range cs.Orders {
		if err := setJSON(b, orderKey(o.Pair, o.Side, o.Index), o); err != nil {
			return err
		}
	}
	for _, n := range cs.Nonces {
		if err := setJSON(b, nonceKey(n.Sender), n); err != nil {
			return err
		}
	}

	blk, err := encodeGob(cs.Block)
	if err != nil {
		return errors.Wrap(err, "encode block")
	}
	if err := b.Set(blockKey(cs.Block.Height), blk, nil); err != nil {
		return err
	}
	commit, err := encodeGob(Commit{Height: cs.Block.Height, Time: cs.Block.Time, AppHash: cs.Block.AppHash})
	if err != nil {
		return errors.Wrap(err, "encode commit")
	}
	if err := b.Set(keyCommit, commit, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return b.Set(key, val, nil)
}

// Load reads the full state. Key order guarantees orders come back in
// index order per (pair, side).
func (s *PebbleStore) Load() (*Snapshot, error) {
	snap := &Snapshot{}

	var commit Commit
	ok, err := s.getGob(keyCommit, &commit)
	if err != nil {
		return nil, err
	}
	if ok {
		snap.Commit = &commit
	}

	if err := scanJSON(s.db, prefixToken, func() any { return &token.State{} }, func(v any) {
		snap.Tokens = append(snap.Tokens, *v.(*token.State))
	}); err != nil {
		return nil, err
	}
	if err := scanJSON(s.db, prefixPool, func() any { return &pool.State{} }, func(v any) {
		snap.Pools = append(snap.Pools, *v.(*pool.State))
	}); err != nil {
		return nil, err
	}
	if err := scanJSON(s.db, prefixOrder, func() any { return &orderbook.Order{} }, func(v any) {
		snap.Orders = append(snap.Orders, v.(*orderbook.Order))
	}); err != nil {
		return nil, err
	}
	if err := scanJSON(s.db, prefixNonce, func() any { return &transaction.Entry{} }, func(v any) {
		snap.Nonces = append(snap.Nonces, *v.(*transaction.Entry))
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *PebbleStore) Block(height uint64) (Block, bool, error) {
	var b Block
	ok, err := s.getGob(blockKey(height), &b)
	return b, ok, err
}

func (s *PebbleStore) getGob(key []byte, v any) (bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "get %s", key)
	}
	defer closer.Close()
	if err := decodeGob(val, v); err != nil {
		return false, errors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

func scanJSON(db *pebble.DB, prefix string, alloc func() any, emit func(any)) error {
	p := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: p, UpperBound: keyUpperBound(p)})
	if err != nil {
		return errors.Wrapf(err, "iterate %s", prefix)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		v := alloc()
		if err := json.Unmarshal(iter.Value(), v); err != nil {
			return errors.Wrapf(err, "decode %s", iter.Key())
		}
		emit(v)
	}
	return iter.Error()
}

var _ Store = (*PebbleStore)(nil)
