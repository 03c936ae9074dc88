package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

type orderFlags struct {
	key             string
	chainID         int64
	nonce           uint64
	external        bool
	tokenIn         string
	tokenOut        string
	amountIn        string
	minOut          string
	isBuy           bool
	priceCondition  string
	expiration      int64
	timeLocked      bool
	volumeCondition string
	typedData       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f orderFlags
	cmd := &cobra.Command{
		Use:   "sign-order",
		Short: "Build and sign a place_order transaction",
		Long: `sign-order builds a place_order (or place_order_external) envelope,
signs it with EIP-712 and prints the JSON ready for POST /api/v1/tx.
Without --key a fresh keypair is generated.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return signOrder(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.key, "key", "", "hex private key of the trader (generated when empty)")
	fl.Int64Var(&f.chainID, "chain-id", 1337, "chain id of the EIP-712 domain")
	fl.Uint64Var(&f.nonce, "nonce", 1, "transaction nonce")
	fl.BoolVar(&f.external, "external", false, "gate the order on the oracle price (place_order_external)")
	fl.StringVar(&f.tokenIn, "token-in", "", "address of the token sold")
	fl.StringVar(&f.tokenOut, "token-out", "", "address of the token bought")
	fl.StringVar(&f.amountIn, "amount-in", "", "amount of token-in to lock")
	fl.StringVar(&f.minOut, "min-out", "0", "minimum output accepted on execution")
	fl.BoolVar(&f.isBuy, "buy", true, "buy side (fills when price <= condition)")
	fl.StringVar(&f.priceCondition, "price", "", "price condition, scaled by the price scale")
	fl.Int64Var(&f.expiration, "expiration", 0, "unix expiration time, 0 for none")
	fl.BoolVar(&f.timeLocked, "time-locked", false, "lock the order for the configured period")
	fl.StringVar(&f.volumeCondition, "volume", "", "minimum pool reserve of token-in")
	fl.BoolVar(&f.typedData, "typed-data", false, "also print the EIP-712 typed data")
	_ = cmd.MarkFlagRequired("token-in")
	_ = cmd.MarkFlagRequired("token-out")
	_ = cmd.MarkFlagRequired("amount-in")
	return cmd
}

func signOrder(cmd *cobra.Command, f orderFlags) error {
	out := cmd.OutOrStdout()

	var (
		key *crypto.Signer
		err error
	)
	if f.key == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Generated key: %s (KEEP SECRET!)\n", key.PrivateKeyHex())
	} else {
		key, err = crypto.FromPrivateKeyHex(f.key)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Trader: %s\n\n", key.Address().Hex())

	order, err := f.payload()
	if err != nil {
		return err
	}
	kind := transaction.TypePlaceOrder
	if f.external {
		kind = transaction.TypePlaceOrderExternal
	}

	verifier := transaction.NewVerifier(crypto.DefaultDomain(f.chainID))
	env, err := transaction.Build(verifier.Signer(), key, kind, f.nonce, order)
	if err != nil {
		return err
	}
	txJSON, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Signed Transaction (JSON):")
	fmt.Fprintln(out, string(txJSON))

	if f.typedData {
		a, err := env.Action()
		if err != nil {
			return err
		}
		td, err := verifier.Signer().TypedDataJSON(a)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "\nTyped Data:")
		fmt.Fprintln(out, td)
	}

	if err := verifier.Verify(env); err != nil {
		return fmt.Errorf("self-check failed: %w", err)
	}
	fmt.Fprintln(out, "\nSignature verified")
	return nil
}

func (f orderFlags) payload() (*transaction.PlaceOrder, error) {
	in, err := address("token-in", f.tokenIn)
	if err != nil {
		return nil, err
	}
	outTok, err := address("token-out", f.tokenOut)
	if err != nil {
		return nil, err
	}
	order := &transaction.PlaceOrder{
		TokenIn:        in,
		TokenOut:       outTok,
		IsBuy:          f.isBuy,
		ExpirationTime: f.expiration,
		TimeLocked:     f.timeLocked,
	}
	if order.AmountIn, err = amount("amount-in", f.amountIn); err != nil {
		return nil, err
	}
	if order.MinAmountOut, err = amount("min-out", f.minOut); err != nil {
		return nil, err
	}
	if f.priceCondition != "" {
		if order.PriceCondition, err = amount("price", f.priceCondition); err != nil {
			return nil, err
		}
	}
	if f.volumeCondition != "" {
		if order.VolumeCondition, err = amount("volume", f.volumeCondition); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func address(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("--%s: invalid address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func amount(name, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}
