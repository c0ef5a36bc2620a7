package consensus

// SubsidyAt returns the coinbase reward, in base units, for a block at the
// given height. The subsidy starts at initial and halves for the blocks
// after each of the three configured heights; past the third, it holds at
// its tail value
// forever (it is never reduced to zero).
func SubsidyAt(height uint64, initial uint64, halvingHeights [3]uint64) uint64 {
	switch {
	case height <= halvingHeights[0]:
		return initial
	case height <= halvingHeights[1]:
		return initial / 2
	case height <= halvingHeights[2]:
		return initial / 4
	default:
		return initial / 8
	}
}
