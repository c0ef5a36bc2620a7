package node

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/internal/consensus"
	"github.com/atmnchain/atmnd/pkg/types"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// resolveCoinbase parses the bech32 address mined blocks pay their
// subsidy and fees to.
func resolveCoinbase(coinbaseStr string) (types.Address, error) {
	if coinbaseStr == "" {
		return types.Address{}, fmt.Errorf("mining requires a coinbase address")
	}
	addr, err := types.ParseAddress(coinbaseStr)
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid coinbase address: %w", err)
	}
	return addr, nil
}

// createEngine builds the proof-of-work engine from the genesis
// configuration's chain rules.
func createEngine(genesis *config.Genesis) (consensus.Engine, error) {
	limit := new(big.Int).SetBytes(genesis.Chain.PowLimit[:])
	return consensus.NewPoW(genesis.Bits, genesis.Chain.RetargetPeriod, genesis.Chain.TargetSpanSecs, limit)
}

// difficulty expresses how many times harder the current target is to
// satisfy than the genesis proof-of-work limit, the conventional measure
// miners and block explorers report.
func difficulty(bits uint32, powLimit types.Hash) uint64 {
	limit := new(big.Int).SetBytes(powLimit[:])
	if limit.Sign() == 0 {
		return 0
	}
	target := consensus.BitsToTarget(bits)
	if target.Sign() == 0 {
		return 0
	}
	return new(big.Int).Div(limit, target).Uint64()
}

// formatDifficulty returns a human-readable difficulty string (e.g. "1.05M").
func formatDifficulty(d uint64) string {
	switch {
	case d >= 1_000_000_000_000:
		return fmt.Sprintf("%.2fT", float64(d)/1_000_000_000_000)
	case d >= 1_000_000_000:
		return fmt.Sprintf("%.2fG", float64(d)/1_000_000_000)
	case d >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(d)/1_000_000)
	case d >= 1_000:
		return fmt.Sprintf("%.2fK", float64(d)/1_000)
	default:
		return fmt.Sprintf("%d", d)
	}
}

// formatHashRate returns a human-readable hashes-per-second string (e.g.
// "3.20 MH/s").
func formatHashRate(hps float64) string {
	switch {
	case hps >= 1_000_000_000:
		return fmt.Sprintf("%.2f GH/s", hps/1_000_000_000)
	case hps >= 1_000_000:
		return fmt.Sprintf("%.2f MH/s", hps/1_000_000)
	case hps >= 1_000:
		return fmt.Sprintf("%.2f KH/s", hps/1_000)
	default:
		return fmt.Sprintf("%.2f H/s", hps)
	}
}
