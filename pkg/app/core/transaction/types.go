// Package transaction defines the signed JSON envelope clients submit and
// the typed payload of every transaction kind.
package transaction

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

type Type string

const (
	TypeCreatePair         Type = "create_pair"
	TypeApprove            Type = "approve"
	TypeTransfer           Type = "transfer"
	TypeMint               Type = "mint"
	TypeAddLiquidity       Type = "add_liquidity"
	TypeRemoveLiquidity    Type = "remove_liquidity"
	TypeSwap               Type = "swap"
	TypePlaceOrder         Type = "place_order"
	TypePlaceOrderExternal Type = "place_order_external"
	TypeCancelOrder        Type = "cancel_order"
	TypeMatchOrders        Type = "match_orders"
	TypeBatchExecute       Type = "batch_execute"
)

var (
	ErrMalformed        = errors.New("malformed transaction")
	ErrUnknownType      = errors.New("unknown transaction type")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Envelope is the wire form of a transaction:
//
//	{"type":"swap","sender":"0x..","nonce":7,"payload":{..},"signature":"0x.."}
//
// The signature covers crypto.Action{type, keccak(compact payload), nonce, sender}.
type Envelope struct {
	Type      Type            `json:"type"`
	Sender    common.Address  `json:"sender"`
	Nonce     uint64          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature hexutil.Bytes   `json:"signature"`
}

type CreatePair struct {
	TokenA common.Address `json:"tokenA"`
	TokenB common.Address `json:"tokenB"`
}

type Approve struct {
	Token   common.Address `json:"token"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

type Transfer struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

type Mint struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

type AddLiquidity struct {
	TokenA  common.Address `json:"tokenA"`
	TokenB  common.Address `json:"tokenB"`
	AmountA *uint256.Int   `json:"amountA"`
	AmountB *uint256.Int   `json:"amountB"`
}

type RemoveLiquidity struct {
	TokenA common.Address `json:"tokenA"`
	TokenB common.Address `json:"tokenB"`
	Shares *uint256.Int   `json:"shares"`
}

type Swap struct {
	TokenIn      common.Address `json:"tokenIn"`
	TokenOut     common.Address `json:"tokenOut"`
	AmountIn     *uint256.Int   `json:"amountIn"`
	MinAmountOut *uint256.Int   `json:"minAmountOut"`
}

// PlaceOrder is shared by place_order and place_order_external. For the
// external variant PriceCondition is checked against the oracle once.
type PlaceOrder struct {
	TokenIn         common.Address `json:"tokenIn"`
	TokenOut        common.Address `json:"tokenOut"`
	AmountIn        *uint256.Int   `json:"amountIn"`
	MinAmountOut    *uint256.Int   `json:"minAmountOut"`
	IsBuy           bool           `json:"isBuy"`
	PriceCondition  *uint256.Int   `json:"priceCondition,omitempty"`
	ExpirationTime  int64          `json:"expirationTime,omitempty"`
	TimeLocked      bool           `json:"timeLocked,omitempty"`
	VolumeCondition *uint256.Int   `json:"volumeCondition,omitempty"`
}

type CancelOrder struct {
	TokenA common.Address `json:"tokenA"`
	TokenB common.Address `json:"tokenB"`
	Index  uint64         `json:"index"`
	IsBuy  bool           `json:"isBuy"`
}

type MatchOrders struct {
	TokenA  common.Address `json:"tokenA"`
	TokenB  common.Address `json:"tokenB"`
	BuySide bool           `json:"buySide"`
}

type BatchExecute struct {
	TokensIn   []common.Address `json:"tokensIn"`
	TokensOut  []common.Address `json:"tokensOut"`
	AmountsIn  []*uint256.Int   `json:"amountsIn"`
	AmountsOut []*uint256.Int   `json:"amountsOut"`
}

func newPayload(t Type) (any, error) {
	switch t {
	case TypeCreatePair:
		return &CreatePair{}, nil
	case TypeApprove:
		return &Approve{}, nil
	case TypeTransfer:
		return &Transfer{}, nil
	case TypeMint:
		return &Mint{}, nil
	case TypeAddLiquidity:
		return &AddLiquidity{}, nil
	case TypeRemoveLiquidity:
		return &RemoveLiquidity{}, nil
	case TypeSwap:
		return &Swap{}, nil
	case TypePlaceOrder, TypePlaceOrderExternal:
		return &PlaceOrder{}, nil
	case TypeCancelOrder:
		return &CancelOrder{}, nil
	case TypeMatchOrders:
		return &MatchOrders{}, nil
	case TypeBatchExecute:
		return &BatchExecute{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%q", t)
	}
}

// Parse decodes and structurally validates an envelope. It does not check
// the signature.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "decode envelope: %v", err)
	}
	if _, err := newPayload(env.Type); err != nil {
		return nil, err
	}
	if env.Sender == (common.Address{}) {
		return nil, errors.Wrap(ErrMalformed, "missing sender")
	}
	if len(env.Payload) == 0 {
		return nil, errors.Wrap(ErrMalformed, "missing payload")
	}
	if len(env.Signature) != 65 {
		return nil, errors.Wrapf(ErrInvalidSignature, "signature must be 65 bytes, got %d", len(env.Signature))
	}
	return &env, nil
}

// Decode returns the typed payload, one of the payload structs in this
// package.
func (e *Envelope) Decode() (any, error) {
	p, err := newPayload(e.Type)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "decode %s payload: %v", e.Type, err)
	}
	return p, nil
}

// PayloadHash is keccak256 of the compact JSON payload, so whitespace does
// not change what was signed.
func (e *Envelope) PayloadHash() (common.Hash, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, e.Payload); err != nil {
		return common.Hash{}, errors.Wrapf(ErrMalformed, "compact payload: %v", err)
	}
	return ethcrypto.Keccak256Hash(buf.Bytes()), nil
}

func (e *Envelope) Action() (crypto.Action, error) {
	h, err := e.PayloadHash()
	if err != nil {
		return crypto.Action{}, err
	}
	return crypto.Action{Kind: string(e.Type), PayloadHash: h, Nonce: e.Nonce, Sender: e.Sender}, nil
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Build marshals payload, signs it as key and returns the envelope.
func Build(as *crypto.ActionSigner, key *crypto.Signer, t Type, nonce uint64, payload any) (*Envelope, error) {
	if _, err := newPayload(t); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	env := &Envelope{Type: t, Sender: key.Address(), Nonce: nonce, Payload: body}
	a, err := env.Action()
	if err != nil {
		return nil, err
	}
	sig, err := as.Sign(key, a)
	if err != nil {
		return nil, err
	}
	env.Signature = sig
	return env, nil
}
