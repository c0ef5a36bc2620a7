package config

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       8333,
			MaxPeers:   50,
			Bootstrap:  []string{},
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8545,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Mining: MiningConfig{
			Enabled: false,
			Threads: 1,
		},
		Mempool: MempoolConfig{
			MaxTransactions:  50_000,
			MaxTotalBytes:    300_000_000, // 300 MB
			MaxTxSize:        MaxScriptData * 4,
			MinFeePerByte:    1,
			TxExpirationSecs: 14 * 24 * 3600, // two weeks
		},
		RateLimit: RateLimitConfig{
			MaxMsgsPerSec:       100,
			WindowSecs:          10,
			BanSecs:             3600,
			MaxConnectionsPerIP: 8,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.P2P.Port = 18333
	cfg.RPC.Port = 8645
	cfg.Mempool.MinFeePerByte = 0 // No minimum fee on testnet.
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
