// Package node wires storage, consensus, the chain, the mempool,
// peer-to-peer networking, the query surface, and (optionally) block
// production into a single runnable unit. It is the only package a
// binary entry point needs to import.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/internal/chain"
	"github.com/atmnchain/atmnd/internal/consensus"
	rlog "github.com/atmnchain/atmnd/internal/log"
	"github.com/atmnchain/atmnd/internal/mempool"
	"github.com/atmnchain/atmnd/internal/miner"
	"github.com/atmnchain/atmnd/internal/p2p"
	"github.com/atmnchain/atmnd/internal/rpc"
	"github.com/atmnchain/atmnd/internal/storage"
	"github.com/atmnchain/atmnd/internal/utxo"
	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
	"github.com/rs/zerolog"
)

// catchUpThreshold is how far behind a peer's advertised height the local
// tip must fall before a full catch-up sync (rather than waiting for
// individual block announcements) is triggered.
const catchUpThreshold = 4

// Node is a fully-initialized blockchain node. New performs all setup
// (logger, genesis, storage, consensus, chain, mempool, P2P, RPC) but
// starts no background goroutines; call Start for that.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	db        storage.DB
	utxoStore *utxo.Store
	engine    consensus.Engine
	ch        *chain.Chain
	pool      *mempool.Pool

	p2pNode   *p2p.Node
	rpcServer *rpc.Server

	coinbase types.Address
	miner    *miner.Miner

	mineMu     sync.Mutex
	mineCancel context.CancelFunc
	mineStart  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Node from cfg: it opens storage, loads the genesis for
// cfg.Network, constructs the consensus engine, chain, and mempool, and
// wires P2P and RPC servers if enabled. It does not start mining or
// networking; call Start.
func New(cfg *config.Config) (*Node, error) {
	cfg.DataDir = expandHome(cfg.DataDir)

	if cfg.Network == config.Testnet {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}

	logFile := cfg.Log.File
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = cfg.LogsDir() + "/atmnd.log"
	}
	if err := rlog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := rlog.WithComponent("node")

	genesis := config.GenesisFor(cfg.Network)
	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Msg("starting node")

	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
	}

	utxoStore := utxo.NewStore(db)

	engine, err := createEngine(genesis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create consensus engine: %w", err)
	}

	ch, err := chain.New(db, genesis, engine)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create chain: %w", err)
	}
	logger.Info().
		Uint64("height", ch.Height()).
		Str("tip", ch.TipHash().String()).
		Str("difficulty", formatDifficulty(difficulty(ch.State().TipBits, genesis.Chain.PowLimit))).
		Msg("chain ready")

	adapter := miner.NewUTXOAdapter(utxoStore)
	maxTxs := cfg.Mempool.MaxTransactions
	if maxTxs <= 0 {
		maxTxs = 5000
	}
	pool := mempool.New(adapter, maxTxs)
	pool.SetMinFeeRate(cfg.Mempool.MinFeePerByte)
	pool.SetCoinbaseMaturity(config.CoinbaseMaturity, ch.Height, utxoStore)

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:       cfg,
		genesis:   genesis,
		logger:    logger,
		db:        db,
		utxoStore: utxoStore,
		engine:    engine,
		ch:        ch,
		pool:      pool,
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.P2P.Enabled {
		magic := config.NetworkMagic(cfg.Network)
		if cfg.P2P.MagicOverride != 0 {
			magic = [4]byte{
				byte(cfg.P2P.MagicOverride >> 24),
				byte(cfg.P2P.MagicOverride >> 16),
				byte(cfg.P2P.MagicOverride >> 8),
				byte(cfg.P2P.MagicOverride),
			}
		}
		p2pNode := p2p.New(p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Seeds:      cfg.P2P.Bootstrap,
			MaxPeers:   cfg.P2P.MaxPeers,
			Magic:      magic,
			UserAgent:  "atmnd/1.0.0",
			RateLimit: p2p.RateLimitConfig{
				MaxMsgsPerSec:       cfg.RateLimit.MaxMsgsPerSec,
				WindowSecs:          cfg.RateLimit.WindowSecs,
				BanSecs:             cfg.RateLimit.BanSecs,
				MaxConnectionsPerIP: cfg.RateLimit.MaxConnectionsPerIP,
			},
			DB: db,
		})

		genesisHash, err := genesis.Hash()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("compute genesis hash: %w", err)
		}
		p2pNode.SetGenesisHash(genesisHash)
		p2pNode.SetHeightFn(ch.Height)
		p2pNode.SetBlockProvider(func(hash types.Hash) (*block.Block, bool) {
			blk, err := ch.GetBlock(hash)
			if err != nil {
				return nil, false
			}
			return blk, true
		})
		p2pNode.SetSyncProvider(func(fromHeight uint64, max uint32) ([]*block.Block, bool) {
			blocks := make([]*block.Block, 0, max)
			h := fromHeight
			for uint32(len(blocks)) < max {
				blk, err := ch.GetBlockByHeight(h)
				if err != nil {
					break
				}
				blocks = append(blocks, blk)
				h++
			}
			_, err := ch.GetBlockByHeight(h)
			return blocks, err == nil
		})
		p2pNode.SetTxHandler(func(t *tx.Transaction) error {
			_, err := pool.Add(t)
			return err
		})
		p2pNode.SetBlockAnnounceHandler(n.onBlockAnnounce)
		p2pNode.SetOnPeerConnected(n.onPeerConnected)

		n.p2pNode = p2pNode
	} else {
		logger.Warn().Msg("P2P disabled by config; node will run offline")
	}

	if cfg.RPC.Enabled {
		rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		rpcServer := rpc.New(rpcAddr, ch, utxoStore, pool, n.p2pNode, genesis, cfg.RPC)
		rpcServer.SetMempoolConfig(cfg.Mempool)
		if n.p2pNode != nil {
			rpcServer.SetBanManager(n.p2pNode.BanManager)
		}
		n.rpcServer = rpcServer
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	if cfg.Mining.Enabled {
		coinbase, err := resolveCoinbase(cfg.Mining.Address)
		if err != nil {
			if n.rpcServer != nil {
				n.rpcServer.Stop()
			}
			if n.p2pNode != nil {
				n.p2pNode.Stop()
			}
			db.Close()
			return nil, fmt.Errorf("resolve coinbase: %w", err)
		}
		n.coinbase = coinbase
		n.miner = miner.New(ch, engine, pool, coinbase)
	}

	return n, nil
}

// Start opens the RPC and P2P listeners (if enabled) and launches the
// mining loop (if mining is enabled).
func (n *Node) Start() error {
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start RPC: %w", err)
		}
		n.logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	}

	if n.p2pNode != nil {
		if err := n.p2pNode.Start(); err != nil {
			if n.rpcServer != nil {
				n.rpcServer.Stop()
			}
			return fmt.Errorf("start P2P: %w", err)
		}
		n.logger.Info().Int("port", n.cfg.P2P.Port).Msg("P2P node started")
	}

	if n.miner != nil {
		n.mineStart = time.Now()
		n.wg.Add(1)
		go n.mineLoop()
		n.logger.Info().Msg("block production enabled")
	}

	n.logger.Info().
		Uint64("height", n.ch.Height()).
		Bool("mining", n.miner != nil).
		Msg("node started")
	return nil
}

// Stop shuts down mining, networking, RPC, and storage in reverse order.
// A mining search in progress stops within the PoW engine's own polling
// interval, not instantly, but Stop does not block past that.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.p2pNode != nil {
		n.p2pNode.Stop()
	}
	if n.miner != nil {
		n.logger.Info().
			Uint64("blocks_found", n.miner.BlocksFound()).
			Uint64("hashes", n.miner.HashCount()).
			Str("avg_hashrate", formatHashRate(n.hashRate())).
			Msg("mining stopped")
	}
	if n.db != nil {
		n.db.Close()
	}
	n.logger.Info().Msg("node stopped")
}

// hashRate returns the average hashes-per-second the node's miner has
// sustained since mining started.
func (n *Node) hashRate() float64 {
	elapsed := time.Since(n.mineStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(n.miner.HashCount()) / elapsed
}

// RPCAddr returns the address the RPC server is listening on, or "" if
// RPC is disabled.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Height returns the current chain height.
func (n *Node) Height() uint64 {
	return n.ch.Height()
}

// ── Mining ──────────────────────────────────────────────────────────────

// mineLoop repeatedly seals new blocks on top of the current tip. Each
// iteration's proof-of-work search is cancellable independently of the
// others so a newly-arrived network block can interrupt a stale search
// without tearing down the whole node.
func (n *Node) mineLoop() {
	defer n.wg.Done()
	for {
		if n.ctx.Err() != nil {
			return
		}

		mineCtx, cancel := context.WithCancel(n.ctx)
		n.mineMu.Lock()
		n.mineCancel = cancel
		n.mineMu.Unlock()

		blk, err := n.miner.ProduceBlockCtx(mineCtx)
		cancel()
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			n.logger.Debug().Err(err).Msg("mining attempt interrupted")
			continue
		}

		if err := n.ch.ProcessBlock(blk); err != nil {
			n.logger.Warn().Err(err).Msg("mined block rejected locally")
			continue
		}
		n.pool.RemoveConfirmed(blk.Transactions)
		n.logger.Info().
			Uint64("height", blk.Height).
			Str("hash", blk.Hash().String()).
			Int("txs", len(blk.Transactions)).
			Str("difficulty", formatDifficulty(difficulty(blk.Header.Bits, n.genesis.Chain.PowLimit))).
			Str("hashrate", formatHashRate(n.hashRate())).
			Msg("mined new block")

		if n.p2pNode != nil {
			if err := n.p2pNode.BroadcastBlock(blk); err != nil {
				n.logger.Warn().Err(err).Msg("failed to broadcast mined block")
			}
		}
	}
}

// restartMining cancels any in-progress proof-of-work search so the next
// iteration of mineLoop picks up the new chain tip.
func (n *Node) restartMining() {
	n.mineMu.Lock()
	cancel := n.mineCancel
	n.mineMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ── P2P callbacks ───────────────────────────────────────────────────────

// onBlockAnnounce fetches and applies a block a peer announced that the
// local chain doesn't already have. A parent mismatch means the local
// chain has fallen behind; it triggers a full catch-up from that peer.
func (n *Node) onBlockAnnounce(addr string, msg p2p.BlockAnnounceMsg) {
	if _, err := n.ch.GetBlock(msg.Hash); err == nil {
		return
	}

	reqCtx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
	blk, err := n.p2pNode.RequestBlock(reqCtx, addr, msg.Hash)
	cancel()
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", addr).Msg("failed to fetch announced block")
		return
	}

	if err := n.ch.ProcessBlock(blk); err != nil {
		if errors.Is(err, chain.ErrBadParent) {
			n.logger.Info().Str("peer", addr).Uint64("height", msg.Height).Msg("announced block doesn't connect, catching up")
			n.syncFrom(addr)
		} else if !errors.Is(err, chain.ErrKnownBlock) {
			n.logger.Debug().Err(err).Msg("rejected announced block")
		}
		return
	}
	n.pool.RemoveConfirmed(blk.Transactions)
	n.restartMining()
	n.logger.Info().Uint64("height", blk.Height).Str("peer", addr).Msg("applied block from peer")
}

// onPeerConnected compares a newly-handshaken peer's advertised height
// against the local tip and starts a catch-up sync if it's far enough
// ahead that waiting for individual announcements would be too slow.
func (n *Node) onPeerConnected(addr string) {
	for _, p := range n.p2pNode.PeerList() {
		if p.Addr != addr {
			continue
		}
		if p.BestHeight > n.ch.Height()+catchUpThreshold {
			n.syncFrom(addr)
		}
		return
	}
}

// syncFrom drives a full catch-up from addr starting just past the local
// tip, applying each block in order.
func (n *Node) syncFrom(addr string) {
	from := n.ch.Height() + 1
	err := n.p2pNode.CatchUp(n.ctx, addr, from, func(blk *block.Block) error {
		err := n.ch.ProcessBlock(blk)
		if errors.Is(err, chain.ErrKnownBlock) {
			return nil
		}
		if err == nil {
			n.pool.RemoveConfirmed(blk.Transactions)
		}
		return err
	})
	if err != nil {
		n.logger.Debug().Err(err).Str("peer", addr).Msg("catch-up sync stopped")
		return
	}
	n.restartMining()
	n.logger.Info().Uint64("height", n.ch.Height()).Msg("catch-up sync complete")
}
