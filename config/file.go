package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a node config value by key.
// Only node-operational settings, NOT protocol rules.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// P2P
	case "p2p.enabled", "p2p":
		cfg.P2P.Enabled = parseBool(value)
	case "p2p.listen":
		cfg.P2P.ListenAddr = value
	case "p2p.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.P2P.Port = port
	case "p2p.bootstrap":
		cfg.P2P.Bootstrap = parseStringList(value)
	case "p2p.maxpeers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.P2P.MaxPeers = n
	case "p2p.nodiscover":
		cfg.P2P.NoDiscover = parseBool(value)
	case "p2p.magic":
		n, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return err
		}
		cfg.P2P.MagicOverride = uint32(n)

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RPC.Port = port
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)

	// Mining (operational, not a consensus rule)
	case "mining.enabled", "mine":
		cfg.Mining.Enabled = parseBool(value)
	case "mining.address", "coinbase":
		cfg.Mining.Address = value
	case "mining.threads":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mining.Threads = n

	// Mempool
	case "mempool.max_transactions":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mempool.MaxTransactions = n
	case "mempool.max_total_bytes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mempool.MaxTotalBytes = n
	case "mempool.max_tx_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mempool.MaxTxSize = n
	case "mempool.min_fee_per_byte":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Mempool.MinFeePerByte = n
	case "mempool.tx_expiration_secs":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mempool.TxExpirationSecs = n

	// Rate limiting
	case "rate_limit.max_msgs_per_sec":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RateLimit.MaxMsgsPerSec = n
	case "rate_limit.window_secs":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RateLimit.WindowSecs = n
	case "rate_limit.ban_secs":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RateLimit.BanSecs = n
	case "rate_limit.max_connections_per_ip":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RateLimit.MaxConnectionsPerIP = n

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	content := `# Antimony node configuration
#
# This file contains NODE settings only.
# Protocol rules (subsidy schedule, retarget parameters) are hardcoded
# in the genesis configuration and cannot be changed without a hard
# fork.

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.atmnd)
# datadir = ~/.atmnd

# ============================================================================
# P2P Network
# ============================================================================

p2p.enabled = true
p2p.listen = 0.0.0.0
p2p.port = ` + defaultPort(network) + `
p2p.maxpeers = 50

# Bootstrap peers (comma-separated "ip:port")
# p2p.bootstrap = seed1.example.com:8333,seed2.example.com:8333

# Disable peer discovery (for private networks)
# p2p.nodiscover = false

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = ` + defaultRPCPort(network) + `
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:3000

# ============================================================================
# Mining / Block Production
# ============================================================================

mining.enabled = false
# mining.address = <your-address>
# mining.threads = 1

# ============================================================================
# Mempool
# ============================================================================

# mempool.max_transactions = 50000
# mempool.max_total_bytes = 300000000
# mempool.max_tx_size = 262144
# mempool.min_fee_per_byte = 1
# mempool.tx_expiration_secs = 1209600

# ============================================================================
# Rate limiting
# ============================================================================

# rate_limit.max_msgs_per_sec = 100
# rate_limit.window_secs = 10
# rate_limit.ban_secs = 3600
# rate_limit.max_connections_per_ip = 8

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}

func defaultPort(network NetworkType) string {
	if network == Testnet {
		return "18333"
	}
	return "8333"
}

func defaultRPCPort(network NetworkType) string {
	if network == Testnet {
		return "8645"
	}
	return "8545"
}
