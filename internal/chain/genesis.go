package chain

import (
	"fmt"
	"sort"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

// CreateGenesisBlock builds the genesis block from the genesis
// configuration. It has height 0, a zero PrevHash, and a single coinbase
// transaction distributing the initial allocations.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}

	coinbase, err := buildGenesisCoinbase(gen.Alloc)
	if err != nil {
		return nil, fmt.Errorf("build coinbase: %w", err)
	}

	txs := []*tx.Transaction{coinbase}
	txHashes := []types.Hash{coinbase.Hash()}
	merkle := block.ComputeMerkleRoot(txHashes)

	header := block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   types.Hash{},
		MerkleRoot: merkle,
		Timestamp:  gen.Timestamp,
		Bits:       gen.Bits,
	}

	return block.NewBlock(header, txs), nil
}

// buildGenesisCoinbase creates the genesis coinbase transaction: one
// pay-to-address output per allocation, addresses processed in sorted
// order so every node builds byte-identical genesis blocks.
func buildGenesisCoinbase(alloc map[string]uint64) (*tx.Transaction, error) {
	addrs := make([]string, 0, len(alloc))
	for addr := range alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var outputs []tx.Output
	for _, addrStr := range addrs {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		outputs = append(outputs, tx.Output{
			Amount:       alloc[addrStr],
			PubKeyScript: types.PayToAddress(addr),
		})
	}

	if len(outputs) == 0 {
		outputs = []tx.Output{{
			Amount:       0,
			PubKeyScript: types.PayToAddress(types.Address{}),
		}}
	}

	return &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{tx.NewCoinbaseInput(0)},
		Outputs: outputs,
	}, nil
}
