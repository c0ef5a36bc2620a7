package consensus

import (
	"math/big"

	"github.com/atmnchain/atmnd/pkg/types"
)

// maxCompactExponent is the largest exponent BitsToTarget will expand; a
// 3-byte mantissa at this exponent occupies exactly the top 32 bytes, so
// anything beyond it overflows a 256-bit target and is treated as zero.
const maxCompactExponent = 32

// BitsToTarget decodes a compact 32-bit "bits" value into a 256-bit
// target. The encoding is the usual three-byte-mantissa/one-byte-exponent
// scheme: the top byte is the number of significant bytes in the target,
// the low 24 bits are the mantissa, left-shifted into position.
func BitsToTarget(bits uint32) *big.Int {
	exponent := int((bits >> 24) & 0xff)
	mantissa := int64(bits & 0x00ffffff)

	target := big.NewInt(mantissa)
	switch {
	case exponent <= 3:
		return target.Rsh(target, uint(8*(3-exponent)))
	case exponent <= maxCompactExponent:
		return target.Lsh(target, uint(8*(exponent-3)))
	default:
		return big.NewInt(0)
	}
}

// TargetToBits encodes a 256-bit target into compact "bits" form, the
// inverse of BitsToTarget.
func TargetToBits(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}

	raw := target.Bytes() // big-endian, no leading zeros
	size := len(raw)

	var mantissa uint32
	switch {
	case size <= 3:
		for _, b := range raw {
			mantissa = mantissa<<8 | uint32(b)
		}
		mantissa <<= uint(8 * (3 - size))
	default:
		for _, b := range raw[:3] {
			mantissa = mantissa<<8 | uint32(b)
		}
	}

	// The mantissa's top bit doubles as a sign bit in this encoding; if
	// set, shift it out and grow the exponent by one byte instead.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		size++
	}

	return uint32(size)<<24 | mantissa
}

// HashMeetsTarget reports whether hash, read as a big-endian 256-bit
// integer, is numerically at or below target.
func HashMeetsTarget(hash types.Hash, target *big.Int) bool {
	hashInt := new(big.Int).SetBytes(hash[:])
	return hashInt.Cmp(target) <= 0
}

// ClampToLimit returns powLimit if target is easier (numerically larger)
// than the network's easiest allowed target, and target otherwise. No
// block's required target may ever exceed pow_limit.
func ClampToLimit(target, powLimit *big.Int) *big.Int {
	if target.Cmp(powLimit) > 0 {
		return new(big.Int).Set(powLimit)
	}
	return target
}
