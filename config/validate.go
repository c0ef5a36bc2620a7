package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}
	if cfg.Mining.Threads < 0 {
		return fmt.Errorf("mining.threads must not be negative")
	}
	if cfg.Mining.Enabled && cfg.Mining.Address == "" {
		return fmt.Errorf("mining.address is required when mining is enabled")
	}

	if cfg.Mempool.MaxTransactions < 0 || cfg.Mempool.MaxTotalBytes < 0 || cfg.Mempool.MaxTxSize < 0 {
		return fmt.Errorf("mempool limits must not be negative")
	}
	if cfg.Mempool.TxExpirationSecs < 0 {
		return fmt.Errorf("mempool.tx_expiration_secs must not be negative")
	}

	if cfg.RateLimit.MaxMsgsPerSec < 0 || cfg.RateLimit.WindowSecs < 0 ||
		cfg.RateLimit.BanSecs < 0 || cfg.RateLimit.MaxConnectionsPerIP < 0 {
		return fmt.Errorf("rate_limit settings must not be negative")
	}

	return nil
}
