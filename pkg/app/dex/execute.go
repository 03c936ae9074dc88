package dex

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/matching"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

const (
	EventBlock            = "block"
	EventPairCreated      = "pair_created"
	EventApproval         = "approval"
	EventTransfer         = "transfer"
	EventMint             = "mint"
	EventLiquidityAdded   = "liquidity_added"
	EventLiquidityRemoved = "liquidity_removed"
	EventSwap             = "swap"
	EventOrderPlaced      = "order_placed"
	EventOrderCancelled   = "order_cancelled"
	EventOrderFill        = "order_fill"
	EventBatchExecuted    = "batch_executed"
)

// Result codes. Kind carries the precise error class.
const (
	CodeOK uint32 = iota
	CodeInvalidTx
	CodeRejected
)

// deliverTx runs one raw transaction. A transaction that passes signature
// and nonce checks consumes its nonce even if execution then fails.
func (a *App) deliverTx(ctx context.Context, raw []byte) (abci.ExecTxResult, string, []abci.Event) {
	env, err := a.verifier.ParseAndVerify(raw)
	if err != nil {
		return failure(CodeInvalidTx, err), "invalid", nil
	}
	typ := string(env.Type)
	if err := a.nonces.Consume(env.Sender, env.Nonce); err != nil {
		return failure(CodeInvalidTx, err), typ, nil
	}
	payload, err := env.Decode()
	if err != nil {
		return failure(CodeInvalidTx, err), typ, nil
	}
	events, err := a.execute(ctx, env.Type, env.Sender, payload)
	if err != nil {
		return failure(CodeRejected, err), typ, nil
	}
	for i := range events {
		events[i].Attributes["sender"] = env.Sender.Hex()
	}
	return abci.ExecTxResult{Code: CodeOK}, typ, events
}

func failure(code uint32, err error) abci.ExecTxResult {
	return abci.ExecTxResult{Code: code, Kind: errorKind(err), Log: err.Error()}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, transaction.ErrInvalidSignature):
		return "InvalidSignature"
	case errors.Is(err, transaction.ErrUnknownType):
		return "UnknownType"
	case errors.Is(err, transaction.ErrMalformed):
		return "Malformed"
	default:
		return dexerr.Kind(err)
	}
}

func (a *App) execute(ctx context.Context, typ transaction.Type, sender common.Address, payload any) ([]abci.Event, error) {
	e := a.engine
	switch p := payload.(type) {
	case *transaction.CreatePair:
		st, err := e.CreatePair(p.TokenA, p.TokenB)
		if err != nil {
			return nil, err
		}
		return one(EventPairCreated, pairOf(st.Token0, st.Token1),
			"pool", st.Address.Hex(), "lpToken", st.LPToken.Hex()), nil

	case *transaction.Approve:
		if err := e.Approve(sender, p.Token, p.Spender, amount(p.Amount)); err != nil {
			return nil, err
		}
		return one(EventApproval, "", "token", p.Token.Hex(), "spender", p.Spender.Hex(), "amount", amount(p.Amount).Dec()), nil

	case *transaction.Transfer:
		received, err := e.Transfer(sender, p.Token, p.To, amount(p.Amount))
		if err != nil {
			return nil, err
		}
		return one(EventTransfer, "", "token", p.Token.Hex(), "to", p.To.Hex(), "amount", amount(p.Amount).Dec(), "received", received.Dec()), nil

	case *transaction.Mint:
		if err := e.Mint(sender, p.Token, p.To, amount(p.Amount)); err != nil {
			return nil, err
		}
		return one(EventMint, "", "token", p.Token.Hex(), "to", p.To.Hex(), "amount", amount(p.Amount).Dec()), nil

	case *transaction.AddLiquidity:
		shares, err := e.AddLiquidity(sender, p.TokenA, p.TokenB, amount(p.AmountA), amount(p.AmountB))
		if err != nil {
			return nil, err
		}
		return one(EventLiquidityAdded, pairOf(p.TokenA, p.TokenB),
			"amountA", amount(p.AmountA).Dec(), "amountB", amount(p.AmountB).Dec(), "shares", shares.Dec()), nil

	case *transaction.RemoveLiquidity:
		outA, outB, err := e.RemoveLiquidity(sender, p.TokenA, p.TokenB, amount(p.Shares))
		if err != nil {
			return nil, err
		}
		return one(EventLiquidityRemoved, pairOf(p.TokenA, p.TokenB),
			"shares", amount(p.Shares).Dec(), "amountA", outA.Dec(), "amountB", outB.Dec()), nil

	case *transaction.Swap:
		res, err := e.Swap(sender, p.TokenIn, p.TokenOut, amount(p.AmountIn), amount(p.MinAmountOut))
		if err != nil {
			return nil, err
		}
		return one(EventSwap, pairOf(p.TokenIn, p.TokenOut),
			"tokenIn", res.TokenIn.Hex(), "amountIn", res.AmountIn.Dec(), "amountOut", res.AmountOut.Dec()), nil

	case *transaction.PlaceOrder:
		params := matching.OrderParams{
			TokenIn:         p.TokenIn,
			TokenOut:        p.TokenOut,
			AmountIn:        amount(p.AmountIn),
			MinAmountOut:    amount(p.MinAmountOut),
			IsBuy:           p.IsBuy,
			PriceCondition:  p.PriceCondition,
			ExpirationTime:  p.ExpirationTime,
			TimeLocked:      p.TimeLocked,
			VolumeCondition: p.VolumeCondition,
		}
		var index uint64
		var err error
		if typ == transaction.TypePlaceOrderExternal {
			octx, cancel := context.WithTimeout(ctx, a.cfg.OracleTimeout)
			index, err = e.PlaceOrderWithExternalPriceCondition(octx, sender, params)
			cancel()
		} else {
			index, err = e.PlaceConditionalOrder(sender, params)
		}
		if err != nil {
			return nil, err
		}
		return one(EventOrderPlaced, pairOf(p.TokenIn, p.TokenOut),
			"side", orderbook.SideOf(p.IsBuy).String(), "index", itoa(index), "amountIn", params.AmountIn.Dec()), nil

	case *transaction.CancelOrder:
		if err := e.CancelOrder(sender, p.TokenA, p.TokenB, p.Index, p.IsBuy); err != nil {
			return nil, err
		}
		return one(EventOrderCancelled, pairOf(p.TokenA, p.TokenB),
			"side", orderbook.SideOf(p.IsBuy).String(), "index", itoa(p.Index)), nil

	case *transaction.MatchOrders:
		report, err := e.MatchConditionalOrders(p.TokenA, p.TokenB, p.BuySide)
		if err != nil {
			return nil, err
		}
		events := make([]abci.Event, 0, len(report.Fills))
		for _, f := range report.Fills {
			events = append(events, event(EventOrderFill, report.Pair.String(),
				"takerSide", report.TakerSide.String(),
				"takerIndex", itoa(f.TakerIndex),
				"makerIndex", itoa(f.MakerIndex),
				"amount", f.Amount.Dec(),
				"amountOut", f.Swap.AmountOut.Dec(),
				"takerStatus", f.TakerStatus.String(),
				"makerStatus", f.MakerStatus.String()))
		}
		return events, nil

	case *transaction.BatchExecute:
		amountsIn := make([]*uint256.Int, len(p.AmountsIn))
		for i, v := range p.AmountsIn {
			amountsIn[i] = amount(v)
		}
		amountsOut := make([]*uint256.Int, len(p.AmountsOut))
		for i, v := range p.AmountsOut {
			amountsOut[i] = amount(v)
		}
		results, err := e.BatchExecuteOrders(sender, p.TokensIn, p.TokensOut, amountsIn, amountsOut)
		if err != nil {
			return nil, err
		}
		events := make([]abci.Event, 0, len(results)+1)
		for _, r := range results {
			events = append(events, event(EventSwap, pairOf(r.TokenIn, r.TokenOut),
				"tokenIn", r.TokenIn.Hex(), "amountIn", r.AmountIn.Dec(), "amountOut", r.AmountOut.Dec()))
		}
		return append(events, event(EventBatchExecuted, "", "swaps", itoa(uint64(len(results))))), nil

	default:
		return nil, errors.Wrapf(transaction.ErrUnknownType, "%T", payload)
	}
}

func amount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func pairOf(a, b common.Address) string {
	k, err := market.NewPairKey(a, b)
	if err != nil {
		return ""
	}
	return k.String()
}

// event builds an event from key/value pairs. An empty pair is omitted.
func event(typ, pair string, kv ...string) abci.Event {
	attrs := make(map[string]string, len(kv)/2+2)
	if pair != "" {
		attrs["pair"] = pair
	}
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	return abci.Event{Type: typ, Attributes: attrs}
}

func one(typ, pair string, kv ...string) []abci.Event {
	return []abci.Event{event(typ, pair, kv...)}
}

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }
