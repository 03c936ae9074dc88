package dex

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/matching"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/token"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// restore loads a snapshot into empty state. Share ledgers are ordinary
// tokens, so every ledger goes in before any pool.
func restore(st *matching.State, nonces *transaction.Nonces, snap *storage.Snapshot) error {
	for _, ts := range snap.Tokens {
		if err := st.Tokens.Register(token.RestoreLedger(ts, st.Journal)); err != nil {
			return errors.Wrapf(err, "token %s", ts.Address.Hex())
		}
	}
	for _, ps := range snap.Pools {
		if _, err := st.Pairs.Restore(ps); err != nil {
			return errors.Wrapf(err, "pool %s", ps.Address.Hex())
		}
	}
	for _, o := range snap.Orders {
		if err := st.Orders.Restore(o); err != nil {
			return err
		}
	}
	for _, n := range snap.Nonces {
		nonces.Restore(n.Sender, n.Nonce)
	}
	return nil
}

// collect moves everything marked dirty into cs and clears the markers.
func collect(st *matching.State, cs *storage.ChangeSet) {
	for _, l := range st.Tokens.Dirty() {
		cs.Tokens = append(cs.Tokens, l.State())
		l.ClearDirty()
	}
	for _, p := range st.Pairs.Dirty() {
		cs.Pools = append(cs.Pools, p.State())
		p.ClearDirty()
	}
	cs.Orders = st.Orders.TakeDirty()
}

// hashedState is the canonical form the app hash commits to. Every slice is
// in a fixed order and encoding/json sorts map keys, so equal states always
// encode to equal bytes.
type hashedState struct {
	Tokens []token.State       `json:"tokens"`
	Pools  []pool.State        `json:"pools"`
	Orders []*orderbook.Order  `json:"orders"`
	Nonces []transaction.Entry `json:"nonces"`
}

// stateHash is keccak256(height || time || json(state)).
func stateHash(height uint64, ts int64, st *matching.State, nonces *transaction.Nonces) (abci.Hash, error) {
	hs := hashedState{Nonces: nonces.All()}
	for _, l := range st.Tokens.All() {
		hs.Tokens = append(hs.Tokens, l.State())
	}
	for _, k := range st.Pairs.Pairs() {
		p, err := st.Pairs.PoolByKey(k)
		if err != nil {
			return abci.Hash{}, err
		}
		hs.Pools = append(hs.Pools, p.State())
	}
	for _, k := range st.Orders.Pairs() {
		hs.Orders = append(hs.Orders, st.Orders.Orders(k, orderbook.Buy)...)
		hs.Orders = append(hs.Orders, st.Orders.Orders(k, orderbook.Sell)...)
	}

	body, err := json.Marshal(hs)
	if err != nil {
		return abci.Hash{}, errors.Wrap(err, "encode state")
	}
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(ts))
	h.Write(buf[:])
	h.Write(body)

	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}
