package block

import (
	"errors"
	"testing"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/pkg/crypto"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

// testCoinbase returns a minimal coinbase transaction at the given height.
func testCoinbase(height uint64) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{tx.NewCoinbaseInput(height)},
		Outputs: []tx.Output{{
			Amount:       50000,
			PubKeyScript: types.PayToAddress(types.Address{0x01}),
		}},
	}
}

// validBlock creates a minimal valid block with correct merkle root.
func validBlock(t *testing.T) *Block {
	t.Helper()

	coinbase := testCoinbase(1)
	merkleRoot := ComputeMerkleRoot([]types.Hash{coinbase.Hash()})

	header := Header{
		Version:    CurrentVersion,
		PrevHash:   types.Hash{0xaa},
		MerkleRoot: merkleRoot,
		Timestamp:  1700000000,
	}

	blk := NewBlock(header, []*tx.Transaction{coinbase})
	blk.Height = 1
	return blk
}

func TestBlock_Validate_Valid(t *testing.T) {
	blk := validBlock(t)
	if err := blk.Validate(); err != nil {
		t.Errorf("valid block should pass: %v", err)
	}
}

func TestBlock_Validate_BadVersion(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = 99
	err := blk.Validate()
	if !errors.Is(err, ErrBadVersion) {
		t.Errorf("expected ErrBadVersion, got: %v", err)
	}
}

func TestBlock_Validate_VersionZero(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = 0
	err := blk.Validate()
	if !errors.Is(err, ErrBadVersion) {
		t.Errorf("expected ErrBadVersion for version 0, got: %v", err)
	}
}

func TestBlock_Validate_VersionCurrent(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = CurrentVersion
	if err := blk.Validate(); err != nil {
		t.Errorf("version %d should be valid: %v", CurrentVersion, err)
	}
}

func TestBlock_Validate_VersionAboveMax(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Version = MaxVersion + 1
	err := blk.Validate()
	if !errors.Is(err, ErrBadVersion) {
		t.Errorf("expected ErrBadVersion for version %d, got: %v", MaxVersion+1, err)
	}
}

func TestBlock_Validate_ZeroTimestamp(t *testing.T) {
	blk := validBlock(t)
	blk.Header.Timestamp = 0
	err := blk.Validate()
	if !errors.Is(err, ErrZeroTimestamp) {
		t.Errorf("expected ErrZeroTimestamp, got: %v", err)
	}
}

func TestBlock_Validate_NoTransactions(t *testing.T) {
	blk := &Block{
		Header: Header{
			Version:   CurrentVersion,
			Timestamp: 1700000000,
		},
		Transactions: nil,
	}
	err := blk.Validate()
	if !errors.Is(err, ErrNoTransactions) {
		t.Errorf("expected ErrNoTransactions, got: %v", err)
	}
}

func TestBlock_Validate_BadMerkleRoot(t *testing.T) {
	blk := validBlock(t)
	blk.Header.MerkleRoot = types.Hash{0xde, 0xad} // wrong root
	err := blk.Validate()
	if !errors.Is(err, ErrBadMerkleRoot) {
		t.Errorf("expected ErrBadMerkleRoot, got: %v", err)
	}
}

func TestBlock_Validate_InvalidTransaction(t *testing.T) {
	coinbase := testCoinbase(1)
	// A non-coinbase tx with a missing signature script is structurally invalid.
	badTx := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{TxHash: types.Hash{0x01}, Index: 0}}},
		Outputs: []tx.Output{{Amount: 1000, PubKeyScript: types.PayToAddress(types.Address{0x02})}},
	}

	txs := []*tx.Transaction{coinbase, badTx}
	merkle := ComputeMerkleRoot([]types.Hash{txs[0].Hash(), txs[1].Hash()})

	blk := NewBlock(Header{
		Version:    CurrentVersion,
		MerkleRoot: merkle,
		Timestamp:  1700000000,
	}, txs)
	blk.Height = 1

	err := blk.Validate()
	if err == nil {
		t.Error("block with invalid tx should fail validation")
	}
}

func TestBlock_Validate_MultipleTxs(t *testing.T) {
	key, _ := crypto.GenerateKey()

	coinbase := testCoinbase(5)

	b1 := tx.NewBuilder().
		AddInput(types.Outpoint{TxHash: types.Hash{0x01}, Index: 0}).
		PayToAddress(1000, types.Address{0x03})
	b1.Sign(key)

	b2 := tx.NewBuilder().
		AddInput(types.Outpoint{TxHash: types.Hash{0x02}, Index: 0}).
		PayToAddress(2000, types.Address{0x04})
	b2.Sign(key)

	txs := []*tx.Transaction{coinbase, b1.Build(), b2.Build()}

	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	merkle := ComputeMerkleRoot(hashes)

	blk := NewBlock(Header{
		Version:    CurrentVersion,
		MerkleRoot: merkle,
		Timestamp:  1700000000,
	}, txs)
	blk.Height = 5

	if err := blk.Validate(); err != nil {
		t.Errorf("multi-tx block should validate: %v", err)
	}
}

func TestBlock_Validate_NoCoinbase(t *testing.T) {
	key, _ := crypto.GenerateKey()
	b := tx.NewBuilder().
		AddInput(types.Outpoint{TxHash: types.Hash{0x01}, Index: 0}).
		PayToAddress(1000, types.Address{0x03})
	b.Sign(key)
	transaction := b.Build()

	merkle := ComputeMerkleRoot([]types.Hash{transaction.Hash()})
	blk := NewBlock(Header{
		Version:    CurrentVersion,
		MerkleRoot: merkle,
		Timestamp:  1700000000,
	}, []*tx.Transaction{transaction})
	blk.Height = 1

	err := blk.Validate()
	if !errors.Is(err, ErrNoCoinbase) {
		t.Errorf("expected ErrNoCoinbase, got: %v", err)
	}
}

func TestBlock_Validate_MultipleCoinbase(t *testing.T) {
	coinbase1 := testCoinbase(1)
	coinbase2 := testCoinbase(1)

	txs := []*tx.Transaction{coinbase1, coinbase2}
	hashes := []types.Hash{txs[0].Hash(), txs[1].Hash()}
	merkle := ComputeMerkleRoot(hashes)

	blk := NewBlock(Header{
		Version:    CurrentVersion,
		MerkleRoot: merkle,
		Timestamp:  1700000000,
	}, txs)
	blk.Height = 1

	err := blk.Validate()
	if !errors.Is(err, ErrMultipleCoinbase) {
		t.Errorf("expected ErrMultipleCoinbase, got: %v", err)
	}
}

func TestBlock_Validate_CoinbaseHeightMismatch(t *testing.T) {
	coinbase := testCoinbase(1)
	merkle := ComputeMerkleRoot([]types.Hash{coinbase.Hash()})

	blk := NewBlock(Header{
		Version:    CurrentVersion,
		MerkleRoot: merkle,
		Timestamp:  1700000000,
	}, []*tx.Transaction{coinbase})
	blk.Height = 2 // coinbase encodes height 1

	if err := blk.Validate(); err == nil {
		t.Error("expected error for coinbase height mismatch")
	}
}

func TestBlock_Validate_DuplicateInputAcrossTxs(t *testing.T) {
	key, _ := crypto.GenerateKey()
	coinbase := testCoinbase(1)

	shared := types.Outpoint{TxHash: types.Hash{0x09}, Index: 0}

	b1 := tx.NewBuilder().AddInput(shared).PayToAddress(1000, types.Address{0x03})
	b1.Sign(key)
	b2 := tx.NewBuilder().AddInput(shared).PayToAddress(1500, types.Address{0x04})
	b2.Sign(key)

	txs := []*tx.Transaction{coinbase, b1.Build(), b2.Build()}
	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	merkle := ComputeMerkleRoot(hashes)

	blk := NewBlock(Header{
		Version:    CurrentVersion,
		MerkleRoot: merkle,
		Timestamp:  1700000000,
	}, txs)
	blk.Height = 1

	err := blk.Validate()
	if !errors.Is(err, ErrDuplicateBlockInput) {
		t.Errorf("expected ErrDuplicateBlockInput, got: %v", err)
	}
}

func TestBlock_Validate_TooManyTxs(t *testing.T) {
	coinbase := testCoinbase(1)
	key, _ := crypto.GenerateKey()

	txs := make([]*tx.Transaction, 0, config.MaxBlockTxs+1)
	txs = append(txs, coinbase)

	for i := 0; i < config.MaxBlockTxs; i++ {
		b := tx.NewBuilder().
			AddInput(types.Outpoint{TxHash: types.Hash{byte(i >> 16), byte(i >> 8), byte(i)}, Index: uint32(i)}).
			PayToAddress(1000, types.Address{0x03})
		b.Sign(key)
		txs = append(txs, b.Build())
	}

	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	merkle := ComputeMerkleRoot(hashes)

	blk := NewBlock(Header{
		Version:    CurrentVersion,
		MerkleRoot: merkle,
		Timestamp:  1700000000,
	}, txs)
	blk.Height = 1

	err := blk.Validate()
	if !errors.Is(err, ErrTooManyTxs) {
		t.Errorf("expected ErrTooManyTxs, got: %v", err)
	}
}

func TestBlock_Validate_BlockTooLarge(t *testing.T) {
	bigData := make([]byte, config.MaxBlockSize)
	coinbase := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{tx.NewCoinbaseInput(1)},
		Outputs: []tx.Output{{
			Amount:       1000,
			PubKeyScript: bigData,
		}},
	}

	merkle := ComputeMerkleRoot([]types.Hash{coinbase.Hash()})

	blk := NewBlock(Header{
		Version:    CurrentVersion,
		MerkleRoot: merkle,
		Timestamp:  1700000000,
	}, []*tx.Transaction{coinbase})
	blk.Height = 1

	err := blk.Validate()
	if !errors.Is(err, ErrBlockTooLarge) {
		t.Errorf("expected ErrBlockTooLarge, got: %v", err)
	}
}

func TestBlock_Hash(t *testing.T) {
	blk := validBlock(t)
	h := blk.Hash()
	if h.IsZero() {
		t.Error("Block.Hash() should not be zero")
	}

	blk2 := &Block{}
	if blk2.Hash() != crypto.Hash(make([]byte, HeaderSize)) {
		t.Error("Block.Hash() with zero header should be SHA-256d of 80 zero bytes")
	}
}
