// Package crypto provides the cryptographic primitives the chain is built
// on: SHA-256d hashing and secp256k1/Schnorr signatures.
package crypto

import (
	"crypto/sha256"

	"github.com/atmnchain/atmnd/pkg/types"
)

// Hash computes SHA-256d (SHA-256 applied twice) over data. This is the
// sole content hash used throughout the chain — block headers,
// transactions, and merkle nodes are all sha256d of their serialization.
//
// SHA-256d is a consensus primitive fixed by the protocol, not a library
// choice: every implementation must agree bit-for-bit, so the standard
// library's crypto/sha256 is used directly rather than a third-party
// hash package.
func Hash(data []byte) types.Hash {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// AddressFromPubKey derives an address from a compressed public key:
// Address = SHA-256d(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
