// Package chain implements the single-tip, append-only blockchain state
// machine: genesis initialization, block connection, and UTXO-set
// maintenance. There is no fork choice or reorganization — a block is
// accepted only if it extends the current tip exactly.
package chain

import (
	"fmt"
	"sync"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/internal/consensus"
	"github.com/atmnchain/atmnd/internal/storage"
	"github.com/atmnchain/atmnd/internal/utxo"
	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

// Chain holds chain state, storage, and the consensus engine used to
// validate and connect new blocks.
type Chain struct {
	mu sync.Mutex // Protects state reads/writes across ProcessBlock calls.

	db        storage.DB
	blocks    *BlockStore
	utxos     *utxo.Store
	engine    consensus.Engine
	validator *consensus.Validator
	genesis   *config.Genesis

	state State
}

// New creates a chain backed by db, initializing it from genesis if the
// database is empty, or resuming from the stored tip otherwise.
func New(db storage.DB, genesis *config.Genesis, engine consensus.Engine) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	if genesis == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("consensus engine is nil")
	}

	c := &Chain{
		db:        db,
		blocks:    NewBlockStore(db),
		utxos:     utxo.NewStore(db),
		engine:    engine,
		validator: consensus.NewValidator(engine),
		genesis:   genesis,
	}

	tipHash, height, supply, err := c.blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}
	c.state = State{TipHash: tipHash, Height: height, Supply: supply}

	if c.state.IsGenesis() {
		if err := c.initGenesis(); err != nil {
			return nil, fmt.Errorf("init genesis: %w", err)
		}
	} else {
		tip, err := c.blocks.GetBlock(tipHash)
		if err != nil {
			return nil, fmt.Errorf("load tip block: %w", err)
		}
		c.state.TipTimestamp = tip.Header.Timestamp
		c.state.TipBits = tip.Header.Bits
	}

	return c, nil
}

// initGenesis builds and connects the genesis block. The genesis block
// bypasses consensus validation entirely — it is agreed on out of band
// by every node running the same config.Genesis.
func (c *Chain) initGenesis() error {
	blk, err := CreateGenesisBlock(c.genesis)
	if err != nil {
		return fmt.Errorf("create genesis block: %w", err)
	}

	var supply uint64
	for _, v := range c.genesis.Alloc {
		supply += v
	}

	err = c.db.Update(func(txn storage.Txn) error {
		bs := WithTxn(txn)
		us := utxo.WithTxn(txn)
		if err := applyBlockOutputs(us, blk); err != nil {
			return err
		}
		if err := bs.PutBlock(blk); err != nil {
			return err
		}
		return bs.SetTip(blk.Hash(), 0, supply)
	})
	if err != nil {
		return fmt.Errorf("connect genesis: %w", err)
	}

	c.state = State{
		Height:       0,
		TipHash:      blk.Hash(),
		TipTimestamp: blk.Header.Timestamp,
		TipBits:      blk.Header.Bits,
		Supply:       supply,
	}
	return nil
}

// Genesis returns the genesis configuration this chain was initialized
// from.
func (c *Chain) Genesis() *config.Genesis {
	return c.genesis
}

// State returns a copy of the current chain tip state.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TipHash
}

// Supply returns the total coins in circulation.
func (c *Chain) Supply() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Supply
}

// GetBlock retrieves a block by its hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves a block by its height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// DeleteBlock removes the block at height. Reserved for reorg support;
// this chain is single-tip and append-only, so it always fails with
// ErrNotImplemented.
func (c *Chain) DeleteBlock(height uint64) error {
	return c.blocks.DeleteBlock(height)
}

// GetUTXO retrieves an unspent output by outpoint.
func (c *Chain) GetUTXO(outpoint types.Outpoint) (*utxo.UTXO, error) {
	return c.utxos.Get(outpoint)
}

// GetUTXOsByAddress returns every UTXO paying to addr.
func (c *Chain) GetUTXOsByAddress(addr types.Address) ([]*utxo.UTXO, error) {
	return c.utxos.GetByAddress(addr)
}

// GetTransaction looks up a confirmed transaction by hash via the tx
// index.
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	_, blockHash, err := c.blocks.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := c.blocks.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	for _, t := range blk.Transactions {
		if t.Hash() == hash {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", hash, blockHash)
}

// getBlockBits returns the Bits field of the block at height.
func (c *Chain) getBlockBits(height uint64) (uint32, error) {
	blk, err := c.blocks.GetBlockByHeight(height)
	if err != nil {
		return 0, err
	}
	return blk.Header.Bits, nil
}

// getBlockTimestamp returns the timestamp of the block at height, used by
// the PoW engine's retarget window lookup.
func (c *Chain) getBlockTimestamp(height uint64) (uint32, error) {
	blk, err := c.blocks.GetBlockByHeight(height)
	if err != nil {
		return 0, err
	}
	return blk.Header.Timestamp, nil
}

// applyBlockOutputs creates the UTXOs for every output in blk, without
// spending any inputs. Used only for the genesis block, which has no
// inputs to spend.
func applyBlockOutputs(us *utxo.Store, blk *block.Block) error {
	for txIdx, transaction := range blk.Transactions {
		txHash := transaction.Hash()
		for i, out := range transaction.Outputs {
			u := &utxo.UTXO{
				Outpoint: types.Outpoint{TxHash: txHash, Index: uint32(i)},
				Value:    out.Amount,
				Script:   out.PubKeyScript,
				Height:   blk.Height,
				Coinbase: txIdx == 0,
			}
			if err := us.Put(u); err != nil {
				return fmt.Errorf("create genesis output %s:%d: %w", txHash, i, err)
			}
		}
	}
	return nil
}
