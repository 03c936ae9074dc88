package transaction

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	tokA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokB = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

func newKey(t *testing.T) *crypto.Signer {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return k
}

func TestBuildParseVerify(t *testing.T) {
	v := NewVerifier(crypto.DefaultDomain(1337))
	key := newKey(t)

	env, err := Build(v.Signer(), key, TypeSwap, 1, &Swap{
		TokenIn: tokA, TokenOut: tokB, AmountIn: uint256.NewInt(100), MinAmountOut: uint256.NewInt(90),
	})
	require.NoError(t, err)
	raw, err := env.Encode()
	require.NoError(t, err)

	got, err := v.ParseAndVerify(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeSwap, got.Type)
	assert.Equal(t, key.Address(), got.Sender)

	p, err := got.Decode()
	require.NoError(t, err)
	swap, ok := p.(*Swap)
	require.True(t, ok)
	assert.Equal(t, uint256.NewInt(100), swap.AmountIn)
	assert.Equal(t, tokB, swap.TokenOut)
}

func TestVerifyRejectsTampering(t *testing.T) {
	v := NewVerifier(crypto.DefaultDomain(1337))
	key := newKey(t)

	env, err := Build(v.Signer(), key, TypeTransfer, 3, &Transfer{Token: tokA, To: tokB, Amount: uint256.NewInt(5)})
	require.NoError(t, err)

	forged := *env
	forged.Payload = json.RawMessage(`{"token":"0x000000000000000000000000000000000000000a","to":"0x000000000000000000000000000000000000000b","amount":"500"}`)
	assert.True(t, errors.Is(v.Verify(&forged), ErrInvalidSignature))

	other := *env
	other.Sender = newKey(t).Address()
	assert.True(t, errors.Is(v.Verify(&other), ErrInvalidSignature))

	replayed := *env
	replayed.Nonce = 4
	assert.True(t, errors.Is(v.Verify(&replayed), ErrInvalidSignature))
}

func TestPayloadHashIgnoresWhitespace(t *testing.T) {
	a := &Envelope{Payload: json.RawMessage(`{"tokenA":"0x01","tokenB":"0x02"}`)}
	b := &Envelope{Payload: json.RawMessage("{\n  \"tokenA\": \"0x01\",\n  \"tokenB\": \"0x02\"\n}")}
	ha, err := a.PayloadHash()
	require.NoError(t, err)
	hb, err := b.PayloadHash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestParseRejects(t *testing.T) {
	zeroSig := `"0x` + strings.Repeat("00", 65) + `"`
	sender := `"0x1111111111111111111111111111111111111111"`

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `nope`, ErrMalformed},
		{"unknown type", `{"type":"teleport","sender":` + sender + `,"nonce":1,"payload":{},"signature":` + zeroSig + `}`, ErrUnknownType},
		{"missing sender", `{"type":"swap","nonce":1,"payload":{},"signature":` + zeroSig + `}`, ErrMalformed},
		{"missing payload", `{"type":"swap","sender":` + sender + `,"nonce":1,"signature":` + zeroSig + `}`, ErrMalformed},
		{"short signature", `{"type":"swap","sender":` + sender + `,"nonce":1,"payload":{},"signature":"0x01"}`, ErrInvalidSignature},
		{"unknown field", `{"type":"swap","sender":` + sender + `,"nonce":1,"payload":{},"signature":` + zeroSig + `,"extra":1}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDecodeEveryType(t *testing.T) {
	payloads := map[Type]string{
		TypeCreatePair:         `{"tokenA":"0x0a","tokenB":"0x0b"}`,
		TypeApprove:            `{"token":"0x0a","spender":"0x0b","amount":"1"}`,
		TypeTransfer:           `{"token":"0x0a","to":"0x0b","amount":"1"}`,
		TypeMint:               `{"token":"0x0a","to":"0x0b","amount":"1"}`,
		TypeAddLiquidity:       `{"tokenA":"0x0a","tokenB":"0x0b","amountA":"1","amountB":"2"}`,
		TypeRemoveLiquidity:    `{"tokenA":"0x0a","tokenB":"0x0b","shares":"1"}`,
		TypeSwap:               `{"tokenIn":"0x0a","tokenOut":"0x0b","amountIn":"1","minAmountOut":"0"}`,
		TypePlaceOrder:         `{"tokenIn":"0x0a","tokenOut":"0x0b","amountIn":"1","minAmountOut":"0","isBuy":true,"priceCondition":"100"}`,
		TypePlaceOrderExternal: `{"tokenIn":"0x0a","tokenOut":"0x0b","amountIn":"1","minAmountOut":"0","isBuy":false,"priceCondition":"100"}`,
		TypeCancelOrder:        `{"tokenA":"0x0a","tokenB":"0x0b","index":3,"isBuy":true}`,
		TypeMatchOrders:        `{"tokenA":"0x0a","tokenB":"0x0b","buySide":true}`,
		TypeBatchExecute:       `{"tokensIn":["0x0a"],"tokensOut":["0x0b"],"amountsIn":["1"],"amountsOut":["0"]}`,
	}
	r := strings.NewReplacer(`"0x0a"`, `"`+tokA.Hex()+`"`, `"0x0b"`, `"`+tokB.Hex()+`"`)
	for typ, body := range payloads {
		env := &Envelope{Type: typ, Payload: json.RawMessage(r.Replace(body))}
		p, err := env.Decode()
		require.NoError(t, err, typ)
		assert.NotNil(t, p, typ)
	}

	_, err := (&Envelope{Type: TypeSwap, Payload: json.RawMessage(`{"bogus":1}`)}).Decode()
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestNonces(t *testing.T) {
	n := NewNonces()
	alice := common.HexToAddress("0x1111111111111111111111111111111111111111")

	assert.True(t, errors.Is(n.Consume(alice, 0), dexerr.ErrTransactionAlreadyProcessed))
	require.NoError(t, n.Check(alice, 1))
	require.NoError(t, n.Consume(alice, 1))
	assert.True(t, errors.Is(n.Consume(alice, 1), dexerr.ErrTransactionAlreadyProcessed))
	assert.True(t, errors.Is(n.Check(alice, 1), dexerr.ErrTransactionAlreadyProcessed))

	// gaps are allowed, going back is not
	require.NoError(t, n.Consume(alice, 10))
	assert.Error(t, n.Consume(alice, 5))
	assert.Equal(t, uint64(10), n.Last(alice))

	dirty := n.TakeDirty()
	require.Len(t, dirty, 1)
	assert.Equal(t, Entry{Sender: alice, Nonce: 10}, dirty[0])
	assert.Empty(t, n.TakeDirty())

	n.Restore(tokA, 3)
	assert.Empty(t, n.TakeDirty())
	assert.Len(t, n.All(), 2)
}
