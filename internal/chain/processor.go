package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/internal/consensus"
	"github.com/atmnchain/atmnd/internal/storage"
	"github.com/atmnchain/atmnd/internal/utxo"
	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

// Block connection errors.
var (
	ErrKnownBlock      = errors.New("block already connected")
	ErrBadParent       = errors.New("block does not extend the current tip")
	ErrTimestampFuture = errors.New("block timestamp too far in the future")
	ErrTimestampOld    = errors.New("block timestamp not after parent")
	ErrBadSubsidy      = errors.New("coinbase output exceeds subsidy plus fees")
	ErrImmatureSpend   = errors.New("input spends an immature coinbase output")
	ErrNotImplemented  = errors.New("not implemented")
)

// ProcessBlock validates blk against the current tip and, if it is valid,
// connects it: the block record, the updated UTXO set, and the new tip
// pointer are committed atomically. A block that does not extend the
// current tip exactly is rejected — there is no fork choice.
func (c *Chain) ProcessBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := blk.Hash()
	if has, err := c.blocks.HasBlock(hash); err != nil {
		return fmt.Errorf("check known block: %w", err)
	} else if has {
		return ErrKnownBlock
	}

	if blk.Header.PrevHash != c.state.TipHash {
		return fmt.Errorf("%w: have tip %s, block's prev is %s", ErrBadParent, c.state.TipHash, blk.Header.PrevHash)
	}

	height := c.state.Height + 1
	blk.Height = height

	if err := c.checkTimestamp(blk); err != nil {
		return err
	}

	if pow, ok := c.engine.(*consensus.PoW); ok {
		if err := pow.VerifyBits(blk.Header, height, c.state.TipBits, c.getBlockTimestamp); err != nil {
			return err
		}
	}

	if err := c.validator.ValidateBlock(blk); err != nil {
		return fmt.Errorf("validate block: %w", err)
	}

	totalFees, err := c.validateTransactions(blk)
	if err != nil {
		return fmt.Errorf("validate transactions: %w", err)
	}

	if err := c.validateSubsidy(blk, totalFees); err != nil {
		return err
	}

	supply := c.state.Supply + consensus.SubsidyAt(height, c.genesis.Chain.SubsidyInitial, c.genesis.Chain.HalvingHeights)

	err = c.db.Update(func(txn storage.Txn) error {
		bs := WithTxn(txn)
		us := utxo.WithTxn(txn)
		if err := applyBlockTransactions(us, blk); err != nil {
			return err
		}
		if err := bs.PutBlock(blk); err != nil {
			return err
		}
		return bs.SetTip(hash, height, supply)
	})
	if err != nil {
		return fmt.Errorf("connect block: %w", err)
	}

	c.state = State{
		Height:       height,
		TipHash:      hash,
		TipTimestamp: blk.Header.Timestamp,
		TipBits:      blk.Header.Bits,
		Supply:       supply,
	}
	return nil
}

// checkTimestamp enforces the future-drift bound and monotonicity against
// the parent's timestamp.
func (c *Chain) checkTimestamp(blk *block.Block) error {
	now := uint32(time.Now().Unix())
	if blk.Header.Timestamp > now+config.MaxTimestampDrift {
		return fmt.Errorf("%w: block ts %d, now %d", ErrTimestampFuture, blk.Header.Timestamp, now)
	}
	if blk.Header.Timestamp <= c.state.TipTimestamp {
		return fmt.Errorf("%w: block ts %d, parent ts %d", ErrTimestampOld, blk.Header.Timestamp, c.state.TipTimestamp)
	}
	return nil
}

// validateSubsidy checks that the coinbase transaction's total output does
// not exceed the height's block subsidy plus the fees collected from the
// block's other transactions.
func (c *Chain) validateSubsidy(blk *block.Block, totalFees uint64) error {
	subsidy := consensus.SubsidyAt(blk.Height, c.genesis.Chain.SubsidyInitial, c.genesis.Chain.HalvingHeights)
	allowed := subsidy + totalFees

	minted, err := blk.Transactions[0].TotalOutputValue()
	if err != nil {
		return fmt.Errorf("coinbase output total: %w", err)
	}
	if minted > allowed {
		return fmt.Errorf("%w: minted %d, allowed %d (subsidy %d + fees %d)", ErrBadSubsidy, minted, allowed, subsidy, totalFees)
	}
	return nil
}

// validateTransactions validates every non-coinbase transaction in blk
// against a view of the UTXO set that reflects any outputs created earlier
// in the same block, returning the sum of all transaction fees.
func (c *Chain) validateTransactions(blk *block.Block) (uint64, error) {
	view := newBlockUTXOView(c.utxos)

	var totalFees uint64
	seen := make(map[types.Outpoint]bool)

	for i, t := range blk.Transactions {
		if i == 0 {
			view.apply(t, blk.Height)
			continue
		}

		for _, in := range t.Inputs {
			if seen[in.PrevOut] {
				return 0, fmt.Errorf("tx %d: double-spend of %s within block", i, in.PrevOut)
			}
			seen[in.PrevOut] = true

			if err := c.checkMaturity(view, in.PrevOut, blk.Height); err != nil {
				return 0, fmt.Errorf("tx %d: %w", i, err)
			}
		}

		fee, err := t.ValidateWithUTXOs(view)
		if err != nil {
			return 0, fmt.Errorf("tx %d (%s): %w", i, t.Hash(), err)
		}
		totalFees += fee
		view.apply(t, blk.Height)
	}

	return totalFees, nil
}

// checkMaturity rejects spends of a coinbase output that has not yet
// reached config.CoinbaseMaturity confirmations.
func (c *Chain) checkMaturity(view *blockUTXOView, outpoint types.Outpoint, spendHeight uint64) error {
	if !view.has(outpoint) {
		return nil // Missing-input case is reported by ValidateWithUTXOs.
	}
	u, err := view.get(outpoint)
	if err != nil || u == nil {
		return nil
	}
	if u.Coinbase && spendHeight-u.Height < config.CoinbaseMaturity {
		return fmt.Errorf("%w: output at height %d, spend at height %d, need %d confirmations",
			ErrImmatureSpend, u.Height, spendHeight, config.CoinbaseMaturity)
	}
	return nil
}

// applyBlockTransactions spends every input and creates every output of
// every transaction in blk against the real UTXO store, inside an atomic
// transaction.
func applyBlockTransactions(us *utxo.Store, blk *block.Block) error {
	for i, t := range blk.Transactions {
		for _, in := range t.Inputs {
			if in.IsCoinbase() {
				continue
			}
			if err := us.Delete(in.PrevOut); err != nil {
				return fmt.Errorf("spend %s: %w", in.PrevOut, err)
			}
		}

		txHash := t.Hash()
		for idx, out := range t.Outputs {
			u := &utxo.UTXO{
				Outpoint: types.Outpoint{TxHash: txHash, Index: uint32(idx)},
				Value:    out.Amount,
				Script:   out.PubKeyScript,
				Height:   blk.Height,
				Coinbase: i == 0,
			}
			if err := us.Put(u); err != nil {
				return fmt.Errorf("create output %s:%d: %w", txHash, idx, err)
			}
		}
	}
	return nil
}

// blockUTXOView layers a block's in-progress spends and newly created
// outputs over the chain's committed UTXO store, so later transactions in
// the same block can spend earlier transactions' outputs and so earlier
// inputs cannot be spent twice within one block.
type blockUTXOView struct {
	base    *utxo.Store
	spent   map[types.Outpoint]bool
	created map[types.Outpoint]*utxo.UTXO
}

func newBlockUTXOView(base *utxo.Store) *blockUTXOView {
	return &blockUTXOView{
		base:    base,
		spent:   make(map[types.Outpoint]bool),
		created: make(map[types.Outpoint]*utxo.UTXO),
	}
}

// apply records t's effects (height h) on the view: its non-coinbase
// inputs are marked spent and its outputs are recorded as created.
func (v *blockUTXOView) apply(t *tx.Transaction, height uint64) {
	for _, in := range t.Inputs {
		if in.IsCoinbase() {
			continue
		}
		v.spent[in.PrevOut] = true
	}
	txHash := t.Hash()
	for i, out := range t.Outputs {
		op := types.Outpoint{TxHash: txHash, Index: uint32(i)}
		v.created[op] = &utxo.UTXO{
			Outpoint: op,
			Value:    out.Amount,
			Script:   out.PubKeyScript,
			Height:   height,
			Coinbase: false,
		}
	}
}

func (v *blockUTXOView) has(op types.Outpoint) bool {
	if v.spent[op] {
		return false
	}
	if _, ok := v.created[op]; ok {
		return true
	}
	ok, err := v.base.Has(op)
	return err == nil && ok
}

func (v *blockUTXOView) get(op types.Outpoint) (*utxo.UTXO, error) {
	if v.spent[op] {
		return nil, fmt.Errorf("outpoint %s already spent in this block", op)
	}
	if u, ok := v.created[op]; ok {
		return u, nil
	}
	return v.base.Get(op)
}

// HasUTXO implements tx.UTXOProvider.
func (v *blockUTXOView) HasUTXO(op types.Outpoint) bool {
	return v.has(op)
}

// GetUTXO implements tx.UTXOProvider.
func (v *blockUTXOView) GetUTXO(op types.Outpoint) (uint64, types.Script, error) {
	u, err := v.get(op)
	if err != nil {
		return 0, nil, err
	}
	return u.Value, u.Script, nil
}
