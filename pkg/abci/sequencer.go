package abci

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/util"
)

// WAL records every block before it is executed.
type WAL interface {
	Append(height uint64, txs [][]byte) error
}

// Sequencer produces blocks for a single node. Every MinBlockTime it asks
// the application for a proposal and, if there is anything to include,
// finalizes it. Empty blocks are never produced.
type Sequencer struct {
	App          Application
	WAL          WAL
	Clock        util.Clock
	Logger       *zap.SugaredLogger
	MinBlockTime time.Duration
	MaxTxBytes   int64

	// OnCommit is called after each block is finalized.
	OnCommit func(Block, ResponseFinalizeBlock)

	mu       sync.Mutex
	height   uint64
	last     Hash
	lastTime time.Time
}

func NewSequencer(app Application, wal WAL, clock util.Clock, logger *zap.SugaredLogger) *Sequencer {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Sequencer{
		App:          app,
		WAL:          wal,
		Clock:        clock,
		Logger:       util.OrNop(logger),
		MinBlockTime: 200 * time.Millisecond,
		MaxTxBytes:   1 << 24,
	}
}

// Resume continues numbering after a restart.
func (s *Sequencer) Resume(height uint64, last Hash, lastTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height, s.last, s.lastTime = height, last, lastTime
}

func (s *Sequencer) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(s.MinBlockTime):
		}
		if _, _, err := s.ProduceBlock(); err != nil {
			return err
		}
	}
}

// ProduceBlock runs one prepare/process/finalize round. ok is false when
// the application had nothing to propose.
func (s *Sequencer) ProduceBlock() (Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.height + 1
	prep := s.App.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: s.MaxTxBytes})
	if len(prep.Txs) == 0 {
		return Block{}, false, nil
	}

	now := s.Clock.Now()
	if now.Before(s.lastTime) {
		now = s.lastTime
	}
	block := Block{Height: next, Parent: s.last, Time: now, Payload: joinPayload(prep.Txs)}
	txs := splitPayload(block.Payload)

	if !s.App.ProcessProposal(RequestProcessProposal{Height: int64(next), Txs: txs}).Accept {
		return Block{}, false, errors.Newf("application rejected its own proposal at height %d", next)
	}
	if s.WAL != nil {
		if err := s.WAL.Append(next, txs); err != nil {
			return Block{}, false, errors.Wrapf(err, "wal at height %d", next)
		}
	}

	resp, err := s.App.FinalizeBlock(RequestFinalizeBlock{Height: int64(next), Timestamp: now.Unix(), Txs: txs})
	if err != nil {
		return Block{}, false, errors.Wrapf(err, "finalize height %d", next)
	}
	block.AppHash = resp.AppHash

	s.height = next
	s.last = HashOfBlock(block)
	s.lastTime = now
	s.Logger.Infow("commit", "height", next, "txs", len(txs), "apphash", resp.AppHash.String())
	if s.OnCommit != nil {
		s.OnCommit(block, resp)
	}
	return block, true, nil
}
