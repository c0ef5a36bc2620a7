package consensus

import "math/big"

// ShouldRetarget reports whether the block being built on top of
// currentHeight falls on a retarget boundary.
func ShouldRetarget(currentHeight uint64, retargetPeriod uint32) bool {
	if retargetPeriod == 0 {
		return false
	}
	return (currentHeight+1)%uint64(retargetPeriod) == 0
}

// NextBits computes the required bits for the block following
// currentHeight. Outside a retarget boundary the bits carry forward
// unchanged. At a boundary, the target is scaled by the ratio of the
// actual timespan of the last retargetPeriod blocks to targetSpanSecs,
// clamped to a factor-of-four move in either direction, and clamped again
// so the result is never easier than powLimit.
//
// firstTimestamp and lastTimestamp are the timestamps of the first and
// last blocks of the period just completed (first block of the period at
// currentHeight+1-retargetPeriod, last block at currentHeight).
//
// Unlike the reference node's u128 arithmetic, the target scaling here
// uses math/big so full 256-bit precision survives the multiply before
// the division, rather than truncating to the most-significant 16 bytes.
func NextBits(currentHeight uint64, currentBits uint32, firstTimestamp, lastTimestamp uint32, retargetPeriod, targetSpanSecs uint32, powLimit *big.Int) uint32 {
	if !ShouldRetarget(currentHeight, retargetPeriod) {
		return currentBits
	}

	var actualTimespan int64
	if lastTimestamp > firstTimestamp {
		actualTimespan = int64(lastTimestamp - firstTimestamp)
	} else {
		actualTimespan = int64(targetSpanSecs)
	}

	minSpan := int64(targetSpanSecs) / 4
	maxSpan := int64(targetSpanSecs) * 4
	switch {
	case actualTimespan < minSpan:
		actualTimespan = minSpan
	case actualTimespan > maxSpan:
		actualTimespan = maxSpan
	}

	currentTarget := BitsToTarget(currentBits)
	newTarget := new(big.Int).Mul(currentTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(int64(targetSpanSecs)))
	newTarget = ClampToLimit(newTarget, powLimit)

	return TargetToBits(newTarget)
}
