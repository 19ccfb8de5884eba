// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package signer produces the Ethereum signatures that bind a Matrix
// account to a node's on-chain address.
//
// Signatures follow EIP-191 personal_sign: the message is prefixed with
// "\x19Ethereum Signed Message:\n" and its decimal length, hashed with
// Keccak-256, and signed with secp256k1. The result is the 65-byte
// r || s || v signature with v in {27, 28}, hex-encoded with a 0x
// prefix. Matrix passwords and display names are such signatures, so
// any node can verify that a user ID belongs to the address it names.
package signer

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/manuelwedler/light-client/lib/secret"
)

// Signer signs messages on behalf of one address.
type Signer interface {
	Address() common.Address
	SignMessage(message string) (string, error)
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner wraps key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// LoadKeyFile reads a hex-encoded private key (optionally 0x-prefixed)
// from path. The raw key bytes never live on the Go heap longer than
// the conversion takes.
func LoadKeyFile(path string) (*KeySigner, error) {
	buffer, err := secret.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	defer buffer.Close()

	encoded := buffer.Bytes()
	if len(encoded) >= 2 && encoded[0] == '0' && (encoded[1] == 'x' || encoded[1] == 'X') {
		encoded = encoded[2:]
	}
	raw := make([]byte, hex.DecodedLen(len(encoded)))
	defer secret.Zero(raw)
	if _, err := hex.Decode(raw, encoded); err != nil {
		return nil, fmt.Errorf("signer: %s does not hold a hex private key: %w", path, err)
	}

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key in %s: %w", path, err)
	}
	return NewKeySigner(key), nil
}

// Address returns the checksummed address of the key.
func (s *KeySigner) Address() common.Address { return s.address }

// SignMessage returns the personal_sign signature of message.
func (s *KeySigner) SignMessage(message string) (string, error) {
	signature, err := crypto.Sign(TextHash([]byte(message)), s.key)
	if err != nil {
		return "", fmt.Errorf("signer: signing message: %w", err)
	}
	signature[crypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(signature), nil
}

// TextHash returns the EIP-191 version 0x45 digest of data.
func TextHash(data []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(data))
	return crypto.Keccak256([]byte(prefix), data)
}

// RecoverAddress returns the address that produced signature over
// message. Both 27/28 and 0/1 recovery ids are accepted.
func RecoverAddress(message, signature string) (common.Address, error) {
	encoded := strings.TrimPrefix(strings.TrimPrefix(signature, "0x"), "0X")
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return common.Address{}, fmt.Errorf("signer: signature is not hex: %w", err)
	}
	if len(raw) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signer: signature has %d bytes, want %d", len(raw), crypto.SignatureLength)
	}
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}

	publicKey, err := crypto.SigToPub(TextHash([]byte(message)), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("signer: recovering public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}
