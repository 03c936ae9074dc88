package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator. ChainID keeps signatures from one
// deployment replayable on no other.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

func DefaultDomain(chainID int64) Domain {
	return Domain{
		Name:    "HyperSwap",
		Version: "1",
		ChainID: big.NewInt(chainID),
	}
}

// Action is what a wallet signs for every transaction: the transaction kind,
// the Keccak hash of its compact JSON payload, the sender's nonce and the
// sender itself.
type Action struct {
	Kind        string
	PayloadHash common.Hash
	Nonce       uint64
	Sender      common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var actionType = []apitypes.Type{
	{Name: "kind", Type: "string"},
	{Name: "payloadHash", Type: "bytes32"},
	{Name: "nonce", Type: "uint256"},
	{Name: "sender", Type: "address"},
}

type ActionSigner struct {
	domain Domain
}

func NewActionSigner(domain Domain) *ActionSigner {
	return &ActionSigner{domain: domain}
}

func (s *ActionSigner) Domain() Domain { return s.domain }

func (s *ActionSigner) typedData(a Action) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Action":       actionType,
		},
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              s.domain.Name,
			Version:           s.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(s.domain.ChainID),
			VerifyingContract: s.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":        a.Kind,
			"payloadHash": a.PayloadHash.Hex(),
			"nonce":       fmt.Sprintf("%d", a.Nonce),
			"sender":      a.Sender.Hex(),
		},
	}
}

// Hash returns keccak256("\x19\x01" || domainSeparator || hashStruct(action)).
func (s *ActionSigner) Hash(a Action) ([]byte, error) {
	td := s.typedData(a)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hash action: %w", err)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (s *ActionSigner) Sign(k *Signer, a Action) ([]byte, error) {
	hash, err := s.Hash(a)
	if err != nil {
		return nil, err
	}
	return k.Sign(hash)
}

// Recover returns the address that produced sig over a.
func (s *ActionSigner) Recover(a Action, sig []byte) (common.Address, error) {
	hash, err := s.Hash(a)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, sig)
}

// Verify fails unless sig was produced by a.Sender.
func (s *ActionSigner) Verify(a Action, sig []byte) error {
	signer, err := s.Recover(a, sig)
	if err != nil {
		return err
	}
	if signer != a.Sender {
		return fmt.Errorf("%w: signed by %s, sender %s", ErrSignerMismatch, signer.Hex(), a.Sender.Hex())
	}
	return nil
}

// TypedDataJSON renders a in the eth_signTypedData_v4 format wallets expect.
func (s *ActionSigner) TypedDataJSON(a Action) (string, error) {
	b, err := json.MarshalIndent(s.typedData(a), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal typed data: %w", err)
	}
	return string(b), nil
}
