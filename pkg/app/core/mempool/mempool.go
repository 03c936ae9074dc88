package mempool

import (
	"encoding/json"
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/metrics"
)

// Bucket orders pending transactions inside a block.
type Bucket int

const (
	BucketNonOrder Bucket = iota // token and pool operations
	BucketCancel
	BucketOrder // placements and match requests
)

// ClassifyRaw buckets a raw envelope by its "type" field. Anything that does
// not parse lands in BucketOrder; the application rejects it at execution.
func ClassifyRaw(b []byte) Bucket {
	if len(b) == 0 || b[0] != '{' {
		return BucketOrder
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return BucketOrder
	}
	switch env.Type {
	case "create_pair", "approve", "transfer", "mint",
		"add_liquidity", "remove_liquidity", "swap", "batch_execute":
		return BucketNonOrder
	case "cancel_order":
		return BucketCancel
	default:
		return BucketOrder
	}
}

// Mempool keeps three FIFO queues and drains them non-order first, then
// cancels, then orders. Cancels ahead of placements let a trader pull an
// order before a match in the same block can fill it.
type Mempool struct {
	mu       sync.Mutex
	nonOrder [][]byte
	cancel   [][]byte
	orders   [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a copy of b.
func (m *Mempool) PushRaw(b []byte) {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ClassifyRaw(b) {
	case BucketNonOrder:
		m.nonOrder = append(m.nonOrder, cp)
	case BucketCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
	metrics.MempoolSize.Set(float64(m.lenLocked()))
}

// SelectForProposal removes and returns up to maxBytes of transactions in
// bucket order. maxBytes <= 0 means no limit. A transaction that does not
// fit stops its bucket so FIFO order is never broken.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	pull := func(q *[][]byte) {
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}
	pull(&m.nonOrder)
	pull(&m.cancel)
	pull(&m.orders)

	metrics.MempoolSize.Set(float64(m.lenLocked()))
	return out
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Mempool) lenLocked() int {
	return len(m.nonOrder) + len(m.cancel) + len(m.orders)
}
