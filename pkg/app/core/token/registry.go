package token

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/journal"
)

// Registry resolves ledgers by address.
type Registry struct {
	j      *journal.Journal
	tokens map[common.Address]*Ledger
}

func NewRegistry(j *journal.Journal) *Registry {
	return &Registry{j: j, tokens: make(map[common.Address]*Ledger)}
}

// Register adds a ledger. Registering the same address twice is an error.
func (r *Registry) Register(l *Ledger) error {
	if l == nil {
		return errors.New("cannot register nil token")
	}
	if _, exists := r.tokens[l.Address()]; exists {
		return errors.Newf("token %s (%s) already registered", l.Symbol(), l.Address().Hex())
	}
	addr := l.Address()
	r.j.Append(func() { delete(r.tokens, addr) })
	r.tokens[addr] = l
	return nil
}

func (r *Registry) Get(addr common.Address) (*Ledger, error) {
	l, ok := r.tokens[addr]
	if !ok {
		return nil, errors.Wrapf(dexerr.ErrInvalidToken, "token %s not registered", addr.Hex())
	}
	return l, nil
}

func (r *Registry) Exists(addr common.Address) bool {
	_, ok := r.tokens[addr]
	return ok
}

// All returns every ledger ordered by address.
func (r *Registry) All() []*Ledger {
	out := make([]*Ledger, 0, len(r.tokens))
	for _, l := range r.tokens {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].address[:], out[j].address[:]) < 0
	})
	return out
}

// Dirty returns the ledgers changed since their last ClearDirty, ordered by address.
func (r *Registry) Dirty() []*Ledger {
	var out []*Ledger
	for _, l := range r.All() {
		if l.Dirty() {
			out = append(out, l)
		}
	}
	return out
}
