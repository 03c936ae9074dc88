package transaction

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Verifier checks envelope signatures against the chain's EIP-712 domain.
type Verifier struct {
	signer *crypto.ActionSigner
}

func NewVerifier(domain crypto.Domain) *Verifier {
	return &Verifier{signer: crypto.NewActionSigner(domain)}
}

func (v *Verifier) Signer() *crypto.ActionSigner { return v.signer }

// Verify fails with ErrInvalidSignature unless env was signed by its sender.
func (v *Verifier) Verify(env *Envelope) error {
	a, err := env.Action()
	if err != nil {
		return err
	}
	if err := v.signer.Verify(a, env.Signature); err != nil {
		return errors.Wrapf(ErrInvalidSignature, "%s from %s: %v", env.Type, env.Sender.Hex(), err)
	}
	return nil
}

// ParseAndVerify is Parse followed by Verify.
func (v *Verifier) ParseAndVerify(raw []byte) (*Envelope, error) {
	env, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := v.Verify(env); err != nil {
		return nil, err
	}
	return env, nil
}

// Nonces tracks the last accepted nonce per sender. A nonce is accepted
// only if it is strictly greater than the last one, so the first nonce of a
// sender must be at least 1.
type Nonces struct {
	mu    sync.RWMutex
	last  map[common.Address]uint64
	dirty map[common.Address]struct{}
}

func NewNonces() *Nonces {
	return &Nonces{
		last:  make(map[common.Address]uint64),
		dirty: make(map[common.Address]struct{}),
	}
}

// Check returns ErrTransactionAlreadyProcessed for a replayed or stale nonce.
func (n *Nonces) Check(sender common.Address, nonce uint64) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if last := n.last[sender]; nonce <= last {
		return errors.Wrapf(dexerr.ErrTransactionAlreadyProcessed, "nonce %d for %s, last %d", nonce, sender.Hex(), last)
	}
	return nil
}

// Consume checks and records nonce.
func (n *Nonces) Consume(sender common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if last := n.last[sender]; nonce <= last {
		return errors.Wrapf(dexerr.ErrTransactionAlreadyProcessed, "nonce %d for %s, last %d", nonce, sender.Hex(), last)
	}
	n.last[sender] = nonce
	n.dirty[sender] = struct{}{}
	return nil
}

func (n *Nonces) Last(sender common.Address) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.last[sender]
}

// Restore sets a persisted nonce without marking it dirty.
func (n *Nonces) Restore(sender common.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last[sender] = nonce
}

// Entry is one sender's last nonce.
type Entry struct {
	Sender common.Address `json:"sender"`
	Nonce  uint64         `json:"nonce"`
}

// All returns every sender's nonce sorted by address.
func (n *Nonces) All() []Entry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sorted(func(common.Address) bool { return true })
}

// TakeDirty returns the nonces changed since the last call and clears the set.
func (n *Nonces) TakeDirty() []Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.sorted(func(a common.Address) bool {
		_, ok := n.dirty[a]
		return ok
	})
	n.dirty = make(map[common.Address]struct{})
	return out
}

func (n *Nonces) sorted(keep func(common.Address) bool) []Entry {
	out := make([]Entry, 0, len(n.last))
	for a, v := range n.last {
		if keep(a) {
			out = append(out, Entry{Sender: a, Nonce: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sender.Cmp(out[j].Sender) < 0 })
	return out
}
