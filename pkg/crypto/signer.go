// Package crypto signs and verifies transactions with secp256k1 keys and
// EIP-712 typed data, so any Ethereum wallet can act as a client.
package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignerMismatch = errors.New("signature does not match sender")

// Signer holds one secp256k1 key pair and its Ethereum address.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func GenerateKey() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newSigner(key), nil
}

// FromPrivateKeyHex accepts 64 hex chars with or without a 0x prefix.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newSigner(key), nil
}

func (s *Signer) Address() common.Address { return s.address }

// PrivateKeyHex returns the key without 0x prefix. Never log it.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// PublicKeyHex is the uncompressed public key (04 prefix, 130 hex chars).
func (s *Signer) PublicKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSAPub(&s.privateKey.PublicKey))
}

// Sign returns a 65-byte [R || S || V] signature over a 32-byte hash.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// SignMessage hashes message with Keccak256 and signs the digest.
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	return s.Sign(crypto.Keccak256(message))
}

func VerifySignature(address common.Address, hash, signature []byte) bool {
	recovered, err := RecoverAddress(hash, signature)
	return err == nil && recovered == address
}

// RecoverAddress accepts V as 0/1 or the legacy 27/28 wallets produce.
func RecoverAddress(hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}
	sig := signature
	if sig[64] >= 27 {
		sig = append([]byte(nil), signature...)
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
