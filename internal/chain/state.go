package chain

import "github.com/atmnchain/atmnd/pkg/types"

// State holds the current chain tip.
type State struct {
	Height       uint64
	TipHash      types.Hash
	TipTimestamp uint32
	TipBits      uint32
	Supply       uint64 // Total coins in circulation (genesis alloc + cumulative subsidy).
}

// IsGenesis returns true if no blocks have been processed yet.
func (s *State) IsGenesis() bool {
	return s.Height == 0 && s.TipHash.IsZero()
}
