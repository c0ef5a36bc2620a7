package block

import (
	"errors"
	"fmt"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

// Validation errors.
var (
	ErrNoTransactions      = errors.New("block has no transactions")
	ErrBadMerkleRoot       = errors.New("merkle root mismatch")
	ErrBadVersion          = errors.New("unsupported block version")
	ErrZeroTimestamp       = errors.New("block timestamp is zero")
	ErrNoCoinbase          = errors.New("first transaction must be coinbase")
	ErrTooManyTxs          = errors.New("too many transactions in block")
	ErrBlockTooLarge       = errors.New("block too large")
	ErrDuplicateBlockInput = errors.New("duplicate input across transactions in block")
	ErrMultipleCoinbase    = errors.New("multiple coinbase transactions in block")
)

// MaxVersion is the highest block version this software accepts. Bump when
// a fork introduces a new block version.
const MaxVersion = CurrentVersion

// Validate checks block structure and internal consistency. It does not
// verify proof-of-work or chain-position rules — see the consensus
// package for that.
func (b *Block) Validate() error {
	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}
	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}

	if size := len(b.Serialize()); size > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, size, config.MaxBlockSize)
	}

	if !isCoinbase(b.Transactions[0]) {
		return ErrNoCoinbase
	}
	for i, t := range b.Transactions[1:] {
		if isCoinbase(t) {
			return fmt.Errorf("tx %d: %w", i+1, ErrMultipleCoinbase)
		}
	}
	if err := b.Transactions[0].ValidateCoinbase(b.Height); err != nil {
		return fmt.Errorf("tx 0: %w", err)
	}

	txHashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		txHashes[i] = t.Hash()
	}
	if expected := ComputeMerkleRoot(txHashes); b.Header.MerkleRoot != expected {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, expected)
	}

	for i, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	allInputs := make(map[types.Outpoint]int, len(b.Transactions))
	for i, t := range b.Transactions {
		for _, in := range t.Inputs {
			if in.IsCoinbase() {
				continue
			}
			if prevTx, exists := allInputs[in.PrevOut]; exists {
				return fmt.Errorf("tx %d: %w: outpoint %s also spent in tx %d",
					i, ErrDuplicateBlockInput, in.PrevOut, prevTx)
			}
			allInputs[in.PrevOut] = i
		}
	}

	return nil
}

// isCoinbase reports whether t is the block's coinbase transaction.
func isCoinbase(t *tx.Transaction) bool {
	return len(t.Inputs) == 1 && t.Inputs[0].IsCoinbase()
}
