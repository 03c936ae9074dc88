package oracle

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

// aggregatorABI is the read surface of a Chainlink AggregatorV3 feed.
const aggregatorABI = `[
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"name":"roundId","type":"uint80"},
    {"name":"answer","type":"int256"},
    {"name":"startedAt","type":"uint256"},
    {"name":"updatedAt","type":"uint256"},
    {"name":"answeredInRound","type":"uint80"}],
   "stateMutability":"view","type":"function"}
]`

// ContractCaller is the subset of ethclient.Client the feed needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Chainlink reads latestRoundData from one aggregator per pair. The raw
// answer is returned unscaled.
type Chainlink struct {
	caller  ContractCaller
	abi     abi.ABI
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu    sync.RWMutex
	feeds map[market.PairKey]common.Address
}

func NewChainlink(caller ContractCaller, feeds map[market.PairKey]common.Address, logger *zap.SugaredLogger) (*Chainlink, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse aggregator abi")
	}
	c := &Chainlink{
		caller:  caller,
		abi:     parsed,
		timeout: 5 * time.Second,
		logger:  util.OrNop(logger),
		feeds:   make(map[market.PairKey]common.Address, len(feeds)),
	}
	for k, v := range feeds {
		c.feeds[k] = v
	}
	return c, nil
}

// DialChainlink connects to an RPC endpoint and wraps it in a Chainlink oracle.
func DialChainlink(ctx context.Context, rpcURL string, feeds map[market.PairKey]common.Address, logger *zap.SugaredLogger) (*Chainlink, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "dial %s", rpcURL)
	}
	c, err := NewChainlink(client, feeds, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return c, client.Close, nil
}

func (c *Chainlink) SetFeed(pair market.PairKey, feed common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeds[pair] = feed
}

func (c *Chainlink) ReferencePrice(ctx context.Context, pair market.PairKey) (Price, error) {
	c.mu.RLock()
	feed, ok := c.feeds[pair]
	c.mu.RUnlock()
	if !ok {
		return Price{}, errors.Wrapf(ErrNoFeed, "pair %s", pair)
	}

	data, err := c.abi.Pack("latestRoundData")
	if err != nil {
		return Price{}, errors.Wrap(err, "pack latestRoundData")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		c.logger.Warnw("oracle_call_failed", "pair", pair.String(), "feed", feed.Hex(), "err", err)
		return Price{}, errors.Wrapf(err, "call feed %s", feed.Hex())
	}

	values, err := c.abi.Unpack("latestRoundData", out)
	if err != nil {
		return Price{}, errors.Wrap(err, "unpack latestRoundData")
	}
	if len(values) != 5 {
		return Price{}, errors.Newf("latestRoundData returned %d values", len(values))
	}
	answer, ok := values[1].(*big.Int)
	if !ok {
		return Price{}, errors.Newf("unexpected answer type %T", values[1])
	}
	updatedAt, ok := values[3].(*big.Int)
	if !ok {
		return Price{}, errors.Newf("unexpected updatedAt type %T", values[3])
	}
	if answer.Sign() <= 0 {
		return Price{}, errors.Newf("feed %s answered %s", feed.Hex(), answer)
	}
	value, overflow := uint256.FromBig(answer)
	if overflow {
		return Price{}, errors.Newf("feed %s answer overflows", feed.Hex())
	}
	return Price{Value: value, UpdatedAt: time.Unix(updatedAt.Int64(), 0)}, nil
}
