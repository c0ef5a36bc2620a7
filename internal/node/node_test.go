package node

import (
	"testing"
	"time"

	"github.com/atmnchain/atmnd/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultTestnet()
	cfg.DataDir = t.TempDir()
	cfg.P2P.Enabled = false
	cfg.RPC.Enabled = false
	cfg.Mining.Enabled = false
	cfg.Log.Level = "error"
	return cfg
}

func TestNew_OfflineNode(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Stop()

	if n.Height() != 0 {
		t.Fatalf("height = %d, want 0 at genesis", n.Height())
	}
	if n.RPCAddr() != "" {
		t.Fatalf("RPCAddr() = %q, want empty with RPC disabled", n.RPCAddr())
	}
}

func TestNew_MiningRequiresAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mining.Enabled = true
	cfg.Mining.Address = ""

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error enabling mining without a coinbase address")
	}
}

func TestNew_MiningRejectsBadAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mining.Enabled = true
	cfg.Mining.Address = "not-a-valid-address"

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for malformed coinbase address")
	}
}

func TestNode_RPCServerLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPC.Enabled = true
	cfg.RPC.Addr = "127.0.0.1"
	cfg.RPC.Port = 0

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	if n.RPCAddr() == "" {
		t.Fatal("RPCAddr() empty after starting with RPC enabled")
	}
}

// testnetAllocAddress is the well-known testnet genesis allocation
// address from config.TestnetGenesis, used here only as a syntactically
// valid coinbase target.
const testnetAllocAddress = "tatn13uayfwq9djh7cd5dagxtuzk3mx7r7sc9xv4h52"

func TestNode_MinesBlockAtMaxTarget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mining.Enabled = true
	cfg.Mining.Address = testnetAllocAddress

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.miner == nil {
		t.Fatal("miner not constructed with mining enabled")
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for n.Height() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n.Height() == 0 {
		t.Fatal("no block mined within deadline at testnet's maximal PoW target")
	}
}
