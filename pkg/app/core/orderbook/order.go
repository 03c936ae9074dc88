package orderbook

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
)

type Side uint8

const (
	Buy  Side = 1
	Sell Side = 2
)

func SideOf(isBuy bool) Side {
	if isBuy {
		return Buy
	}
	return Sell
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "buy":
		*s = Buy
	case "sell":
		*s = Sell
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// Status is the stored lifecycle state. Expiry is derived from the clock and
// never stored.
type Status uint8

const (
	Active Status = iota + 1
	Filled
	Cancelled
	// Closed marks a partially filled order whose remainder was retired.
	Closed
)

var statusNames = map[Status]string{
	Active:    "active",
	Filled:    "filled",
	Cancelled: "cancelled",
	Closed:    "closed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for st, n := range statusNames {
		if n == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Order is a resting conditional order. A buy spends the quote token to get
// the base token, so the base of an order is TokenOut for buys and TokenIn
// for sells.
type Order struct {
	ID     string         `json:"id"`
	Pair   market.PairKey `json:"pair"`
	Side   Side           `json:"side"`
	Index  uint64         `json:"index"`
	Trader common.Address `json:"trader"`

	TokenIn      common.Address `json:"tokenIn"`
	TokenOut     common.Address `json:"tokenOut"`
	AmountIn     *uint256.Int   `json:"amountIn"`
	MinAmountOut *uint256.Int   `json:"minAmountOut"`
	Filled       *uint256.Int   `json:"filled"`

	// PriceCondition of zero means unconditional.
	PriceCondition  *uint256.Int `json:"priceCondition"`
	ExpirationTime  int64        `json:"expirationTime"`
	TimeLocked      bool         `json:"timeLocked"`
	UnlockTime      int64        `json:"unlockTime"`
	VolumeCondition *uint256.Int `json:"volumeCondition"`

	Status    Status `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (o *Order) IsActive() bool { return o.Status == Active }

func (o *Order) IsBuy() bool { return o.Side == Buy }

// Remaining is AmountIn minus what has been filled so far.
func (o *Order) Remaining() *uint256.Int {
	if o.Filled == nil {
		return o.AmountIn.Clone()
	}
	if o.Filled.Gt(o.AmountIn) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(o.AmountIn, o.Filled)
}

// Expired reports whether the order is past its expiration at now (unix seconds).
func (o *Order) Expired(now int64) bool {
	return o.ExpirationTime != 0 && now >= o.ExpirationTime
}

// Locked reports whether a time-locked order is still before its unlock time.
func (o *Order) Locked(now int64) bool {
	return o.TimeLocked && now < o.UnlockTime
}

func (o *Order) Base() common.Address {
	if o.Side == Buy {
		return o.TokenOut
	}
	return o.TokenIn
}

func (o *Order) HasPriceCondition() bool {
	return o.PriceCondition != nil && !o.PriceCondition.IsZero()
}

func (o *Order) HasVolumeCondition() bool {
	return o.VolumeCondition != nil && !o.VolumeCondition.IsZero()
}

func (o *Order) Clone() *Order {
	cp := *o
	cp.AmountIn = cloneOrNil(o.AmountIn)
	cp.MinAmountOut = cloneOrNil(o.MinAmountOut)
	cp.Filled = cloneOrNil(o.Filled)
	cp.PriceCondition = cloneOrNil(o.PriceCondition)
	cp.VolumeCondition = cloneOrNil(o.VolumeCondition)
	return &cp
}

var orderNamespace = uuid.MustParse("5b1f3c7e-3d2a-4f0e-9a61-7c4d2e8b9f10")

// OrderID is deterministic so every replica assigns the same id.
func OrderID(pair market.PairKey, side Side, index uint64) string {
	return uuid.NewSHA1(orderNamespace, []byte(fmt.Sprintf("%s:%s:%d", pair, side, index))).String()
}

func cloneOrNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
