// Package abci is the boundary between block production and the
// application: an ABCI++-shaped interface plus a single-node sequencer that
// drives it.
package abci

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// ExecTxResult is the outcome of one transaction. Code 0 is success; Kind
// names the error class otherwise.
type ExecTxResult struct {
	Code uint32 `json:"code"`
	Kind string `json:"kind,omitempty"`
	Log  string `json:"log,omitempty"`
}

func (r ExecTxResult) OK() bool { return r.Code == 0 }

type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type ResponseFinalizeBlock struct {
	Events    []Event
	TxResults []ExecTxResult
	AppHash   Hash // hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}

// Block is a sequenced batch of transactions. Payload is the transactions
// joined by 0x00, which never occurs inside a JSON envelope.
type Block struct {
	Height  uint64
	Parent  Hash
	Time    time.Time
	Payload []byte
	AppHash Hash
}

// HashOfBlock commits to height, parent, time and payload. AppHash is not
// part of it since it is only known after execution.
func HashOfBlock(b Block) Hash {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], b.Height)
	h.Write(buf[:])
	h.Write(b.Parent[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.Unix()))
	h.Write(buf[:])
	h.Write(b.Payload)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func joinPayload(txs [][]byte) []byte {
	var payload []byte
	for _, tx := range txs {
		payload = append(payload, tx...)
		payload = append(payload, 0x00)
	}
	return payload
}

func splitPayload(p []byte) [][]byte {
	var out [][]byte
	cur := make([]byte, 0, len(p))
	for _, b := range p {
		if b == 0x00 {
			if len(cur) > 0 {
				out = append(out, append([]byte(nil), cur...))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, b)
	}
	if len(cur) > 0 {
		out = append(out, append([]byte(nil), cur...))
	}
	return out
}
