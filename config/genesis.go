package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/atmnchain/atmnd/pkg/crypto"
	"github.com/atmnchain/atmnd/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Denomination constants.
// 1 coin = 10^12 base units. All on-chain values are in base units.
const (
	Decimals  = 12
	Coin      = 1_000_000_000_000 // 10^12 base units per coin
	MilliCoin = 1_000_000_000     // 10^9
	MicroCoin = 1_000_000         // 10^6
)

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize  = 2_000_000 // 2 MB max block size
	MaxBlockTxs   = 500       // Max transactions per block (including coinbase)
	MaxTxInputs   = 2500      // Max inputs per transaction
	MaxTxOutputs  = 2500      // Max outputs per transaction
	MaxScriptData = 65_536    // 64 KB max script data per output
)

// MaxTimestampDrift is how far into the future (seconds) a block's
// timestamp may be ahead of the local clock before it's rejected.
const MaxTimestampDrift = 7200

// CoinbaseMaturity is the number of confirmations a coinbase output must
// have before it can be spent.
const CoinbaseMaturity = 100

// Network magic bytes identify which network a peer is framing messages
// for; a handshake with a mismatched magic is rejected before any other
// processing.
var (
	MainnetMagic = [4]byte{0xa7, 0xc2, 0xd2, 0xf9}
	TestnetMagic = [4]byte{0x09, 0x11, 0x05, 0x88}
)

// NetworkMagic returns the wire-protocol magic bytes for a network.
func NetworkMagic(n NetworkType) [4]byte {
	if n == Testnet {
		return TestnetMagic
	}
	return MainnetMagic
}

// Genesis holds the genesis block configuration and protocol rules.
// This is immutable after chain launch — changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	// Genesis block
	Timestamp uint32 `json:"timestamp"`
	Bits      uint32 `json:"bits"`
	ExtraData string `json:"extra_data,omitempty"`

	// Initial allocations (bech32 address -> balance in base units)
	Alloc map[string]uint64 `json:"alloc"`

	// Consensus/subsidy parameters
	Chain ChainRules `json:"chain"`
}

// ChainRules defines the subsidy schedule and difficulty-retarget
// parameters that every node must agree on. Mirrors the configuration
// shape of the `{chain: {...}}` block.
type ChainRules struct {
	// SubsidyInitial is the coinbase reward, in base units, paid from
	// height 1 up to and including the first halving height.
	SubsidyInitial uint64 `json:"subsidy_initial"`

	// HalvingHeights are the three heights after which the subsidy is
	// halved in turn (each height itself still pays the previous
	// reward); past the third, the subsidy is fixed at its final (tail)
	// value forever.
	HalvingHeights [3]uint64 `json:"halving_heights"`

	// RetargetPeriod is the number of blocks between difficulty
	// adjustments.
	RetargetPeriod uint32 `json:"retarget_period"`

	// TargetSpanSecs is the expected wall-clock time, in seconds, for
	// RetargetPeriod blocks at the intended block interval.
	TargetSpanSecs uint32 `json:"target_span_secs"`

	// PowLimit is the easiest allowed target (numerically largest),
	// expressed as a 256-bit big-endian integer. No block's target may
	// ever be easier than this.
	PowLimit types.Hash `json:"pow_limit"`
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "atmn-mainnet-1",
		ChainName: "Antimony Mainnet",
		Symbol:    "ATN",
		Timestamp: 1770734103, // 2026-02-10
		Bits:      0x1d00ffff,
		ExtraData: "Antimony Genesis",
		Alloc:     map[string]uint64{},
		Chain: ChainRules{
			SubsidyInitial: 50 * Coin,
			HalvingHeights: [3]uint64{525_600, 1_051_200, 2_628_000},
			RetargetPeriod: 2016,
			TargetSpanSecs: 2016 * 12, // 12s target block interval
			PowLimit: types.Hash{
				0x00, 0x00, 0x0f, 0xff, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			},
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration. Testnet uses
// a much easier pow_limit so a single CPU miner can produce blocks.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "atmn-testnet-1"
	g.ChainName = "Antimony Testnet"
	g.ExtraData = "Antimony Testnet Genesis"
	g.Bits = 0x207fffff
	g.Chain.PowLimit = types.Hash{
		0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}

	// Testnet well-known allocation, derived from the BIP-39 test
	// mnemonic "abandon ... art" (DO NOT use on mainnet).
	g.Alloc = map[string]uint64{
		"tatn13uayfwq9djh7cd5dagxtuzk3mx7r7sc9xv4h52": 200_000 * Coin,
	}

	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is internally consistent.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Timestamp == 0 {
		return fmt.Errorf("timestamp must be nonzero")
	}
	if g.Chain.SubsidyInitial == 0 {
		return fmt.Errorf("chain.subsidy_initial must be positive")
	}
	h := g.Chain.HalvingHeights
	if h[0] == 0 || h[1] <= h[0] || h[2] <= h[1] {
		return fmt.Errorf("chain.halving_heights must be strictly increasing and nonzero")
	}
	if g.Chain.RetargetPeriod == 0 {
		return fmt.Errorf("chain.retarget_period must be positive")
	}
	if g.Chain.TargetSpanSecs == 0 {
		return fmt.Errorf("chain.target_span_secs must be positive")
	}
	if g.Chain.PowLimit.IsZero() {
		return fmt.Errorf("chain.pow_limit must be nonzero")
	}

	for addrStr := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
	}

	return nil
}

// Hash returns the SHA-256d hash of the genesis configuration, used to
// identify the chain and detect genesis mismatches between peers.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
