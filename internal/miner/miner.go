// Package miner implements block production: selecting mempool
// transactions, building a coinbase, and sealing a new block under
// proof-of-work.
package miner

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/internal/chain"
	"github.com/atmnchain/atmnd/internal/consensus"
	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

// ChainState provides read-only access to the current chain tip and
// subsidy schedule.
type ChainState interface {
	State() chain.State
	Genesis() *config.Genesis
}

// MempoolSelector selects transactions for block inclusion.
type MempoolSelector interface {
	SelectForBlock(limit int) []*tx.Transaction
	GetFee(txHash types.Hash) uint64
}

// Miner produces new blocks ready for submission to Chain.ProcessBlock.
type Miner struct {
	chain        ChainState
	engine       consensus.Engine
	pool         MempoolSelector
	coinbaseAddr types.Address
	maxBlockTxs  int

	hashCount   atomic.Uint64
	blocksFound atomic.Uint64
}

// New creates a block producer. pool may be nil to mine coinbase-only
// blocks.
func New(cs ChainState, engine consensus.Engine, pool MempoolSelector, coinbaseAddr types.Address) *Miner {
	return &Miner{
		chain:        cs,
		engine:       engine,
		pool:         pool,
		coinbaseAddr: coinbaseAddr,
		maxBlockTxs:  config.MaxBlockTxs,
	}
}

// ProduceBlock builds, seals, and returns a new block using the current
// time. The block is not connected to the chain — the caller submits it
// via Chain.ProcessBlock.
func (m *Miner) ProduceBlock() (*block.Block, error) {
	return m.ProduceBlockCtx(context.Background())
}

// ProduceBlockCtx builds and seals a block with cancellation support: PoW
// sealing stops as soon as ctx is done.
func (m *Miner) ProduceBlockCtx(ctx context.Context) (*block.Block, error) {
	state := m.chain.State()
	height := state.Height + 1

	timestamp := uint32(time.Now().Unix())
	if timestamp <= state.TipTimestamp {
		timestamp = state.TipTimestamp + 1
	}

	var selected []*tx.Transaction
	var totalFees uint64
	if m.pool != nil {
		selected = m.pool.SelectForBlock(m.maxBlockTxs - 1) // Reserve a slot for the coinbase.
		for _, t := range selected {
			totalFees += m.pool.GetFee(t.Hash())
		}
	}

	// Canonical order: non-coinbase transactions sorted by hash ascending.
	sort.Slice(selected, func(i, j int) bool {
		hi, hj := selected[i].Hash(), selected[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	gen := m.chain.Genesis()
	subsidy := consensus.SubsidyAt(height, gen.Chain.SubsidyInitial, gen.Chain.HalvingHeights)
	coinbase := BuildCoinbase(m.coinbaseAddr, subsidy+totalFees, height)

	txs := make([]*tx.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}

	header := block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   state.TipHash,
		MerkleRoot: block.ComputeMerkleRoot(txHashes),
		Timestamp:  timestamp,
	}
	if err := m.engine.Prepare(&header, height); err != nil {
		return nil, fmt.Errorf("prepare header: %w", err)
	}

	blk := block.NewBlock(header, txs)
	blk.Height = height

	hashes, err := m.engine.Seal(ctx, blk)
	m.hashCount.Add(hashes)
	if err != nil {
		return nil, fmt.Errorf("seal block: %w", err)
	}
	m.blocksFound.Add(1)

	return blk, nil
}

// HashCount returns the total number of hashes attempted across every
// sealing attempt since the miner was created, counting cancelled
// attempts as well as successful ones.
func (m *Miner) HashCount() uint64 {
	return m.hashCount.Load()
}

// BlocksFound returns the total number of blocks this miner has
// successfully sealed since it was created.
func (m *Miner) BlocksFound() uint64 {
	return m.blocksFound.Load()
}

// BuildCoinbase creates a coinbase transaction paying reward to addr,
// with the block's height encoded in the synthetic coinbase input so
// that coinbases at different heights never collide.
func BuildCoinbase(addr types.Address, reward, height uint64) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{tx.NewCoinbaseInput(height)},
		Outputs: []tx.Output{{
			Amount:       reward,
			PubKeyScript: types.PayToAddress(addr),
		}},
	}
}
