// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity maps between Ethereum addresses and the Matrix user
// IDs that represent them.
//
// A node's user ID is "@" followed by its lowercased 0x address and the
// homeserver name. The mapping back is tolerant: any user ID whose
// localpart starts with a 0x address followed by "." or ":" resolves,
// and the result is always checksummed.
package identity

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/manuelwedler/light-client/lib/ref"
	"github.com/manuelwedler/light-client/lib/signer"
)

var userIDPattern = regexp.MustCompile(`(?i)^@(0x[0-9a-f]{40})[.:]`)

// AddressFromUserID extracts the address a user ID names. Malformed
// input reports false.
func AddressFromUserID(userID string) (common.Address, bool) {
	match := userIDPattern.FindStringSubmatch(userID)
	if match == nil {
		return common.Address{}, false
	}
	return common.HexToAddress(match[1]), true
}

// Localpart returns the lowercased hex form of address used as the
// Matrix username.
func Localpart(address common.Address) string {
	return strings.ToLower(address.Hex())
}

// UserIDFor returns the user ID address has on server.
func UserIDFor(address common.Address, server ref.ServerName) ref.UserID {
	return ref.MatrixUserID(Localpart(address), server)
}

// SortAddresses returns a copy of addresses in case-insensitive lexical
// order of their hex form. Comparing raw bytes gives exactly that order.
func SortAddresses(addresses []common.Address) []common.Address {
	sorted := slices.Clone(addresses)
	slices.SortFunc(sorted, func(a, b common.Address) int {
		return bytes.Compare(a.Bytes(), b.Bytes())
	})
	return sorted
}

// VerifyDisplayName checks that displayName is a signature over userID
// by the address userID names. Peers publish such display names, so a
// successful check proves the account is controlled by that address.
func VerifyDisplayName(userID, displayName string) (common.Address, error) {
	claimed, ok := AddressFromUserID(userID)
	if !ok {
		return common.Address{}, fmt.Errorf("identity: %q does not name an address", userID)
	}
	recovered, err := signer.RecoverAddress(userID, displayName)
	if err != nil {
		return common.Address{}, fmt.Errorf("identity: display name of %s: %w", userID, err)
	}
	if recovered != claimed {
		return common.Address{}, fmt.Errorf("identity: display name of %s was signed by %s", userID, recovered.Hex())
	}
	return claimed, nil
}
