// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Mining (operational, not a consensus rule)
	Mining MiningConfig

	// Mempool admission policy
	Mempool MempoolConfig

	// Peer rate limiting
	RateLimit RateLimitConfig

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled       bool     `conf:"p2p.enabled"`
	ListenAddr    string   `conf:"p2p.listen"`
	Port          int      `conf:"p2p.port"`
	Bootstrap     []string `conf:"p2p.bootstrap"` // "ip:port" endpoints
	MaxPeers      int      `conf:"p2p.maxpeers"`
	NoDiscover    bool     `conf:"p2p.nodiscover"`
	MagicOverride uint32   `conf:"p2p.magic"` // 0 = use the network's default magic
	ClearBans     bool     // Clear all peer bans on startup (not persisted in config file).
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// MiningConfig holds block production settings.
type MiningConfig struct {
	Enabled bool   `conf:"mining.enabled"`
	Address string `conf:"mining.address"` // Bech32 address to receive coinbase rewards
	Threads int    `conf:"mining.threads"`
}

// MempoolConfig holds transaction admission policy.
type MempoolConfig struct {
	MaxTransactions  int    `conf:"mempool.max_transactions"`
	MaxTotalBytes    int    `conf:"mempool.max_total_bytes"`
	MaxTxSize        int    `conf:"mempool.max_tx_size"`
	MinFeePerByte    uint64 `conf:"mempool.min_fee_per_byte"`
	TxExpirationSecs int    `conf:"mempool.tx_expiration_secs"`
}

// RateLimitConfig holds per-peer message rate limiting and ban settings.
type RateLimitConfig struct {
	MaxMsgsPerSec       int `conf:"rate_limit.max_msgs_per_sec"`
	WindowSecs          int `conf:"rate_limit.window_secs"`
	BanSecs             int `conf:"rate_limit.ban_secs"`
	MaxConnectionsPerIP int `conf:"rate_limit.max_connections_per_ip"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.atmnd
//	macOS:   ~/Library/Application Support/Atmnd
//	Windows: %APPDATA%\Atmnd
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".atmnd"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Atmnd")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Atmnd")
		}
		return filepath.Join(home, "AppData", "Roaming", "Atmnd")
	default:
		return filepath.Join(home, ".atmnd")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the directory for the node's single Badger key-value
// store, which holds all logical keyspaces (blocks, block index, tx
// index, UTXO set, address index, peer registry, ban store).
func (c *Config) DBDir() string {
	return filepath.Join(c.ChainDataDir(), "db")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "atmnd.conf")
}
