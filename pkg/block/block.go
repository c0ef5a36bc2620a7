// Package block defines block types, serialization, and validation.
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

// Block is a header plus its ordered transactions. Height is cached here,
// derived from chain position at the time the block was connected — it is
// not part of the header and is not covered by the block hash.
type Block struct {
	Header       Header            `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
	Height       uint64            `json:"height"`
}

// NewBlock creates a new block with the given header and transactions.
// Height defaults to zero; callers connecting the block to a chain set it
// explicitly.
func NewBlock(header Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// Hash returns the block's identity: the header hash.
func (b *Block) Hash() types.Hash {
	return b.Header.Hash()
}

// Coinbase returns the block's first transaction, or nil if the block has
// none.
func (b *Block) Coinbase() *tx.Transaction {
	if len(b.Transactions) == 0 {
		return nil
	}
	return b.Transactions[0]
}

// Serialize encodes the block as header(80) | tx_count(4) | txs, where
// each transaction is length-prefixed(4) followed by its own canonical
// serialization. Height is chain-position metadata, not part of the wire
// format.
func (b *Block) Serialize() []byte {
	buf := make([]byte, 0, HeaderSize+4+256*len(b.Transactions))
	buf = append(buf, b.Header.Serialize()...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.Transactions)))
	for _, t := range b.Transactions {
		raw := t.Serialize()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(raw)))
		buf = append(buf, raw...)
	}
	return buf
}

// Deserialize decodes a block produced by Serialize.
func Deserialize(data []byte) (*Block, error) {
	if len(data) < HeaderSize+4 {
		return nil, fmt.Errorf("block: truncated block, need at least %d bytes, got %d", HeaderSize+4, len(data))
	}
	header, err := DeserializeHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}
	data = data[HeaderSize:]

	count := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]

	txs := make([]*tx.Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("block: truncated transaction length prefix at index %d", i)
		}
		txLen := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < txLen {
			return nil, fmt.Errorf("block: truncated transaction body at index %d", i)
		}
		t, err := tx.Deserialize(data[:txLen])
		if err != nil {
			return nil, fmt.Errorf("block: transaction %d: %w", i, err)
		}
		txs = append(txs, t)
		data = data[txLen:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("block: %d trailing bytes after decoding %d transactions", len(data), count)
	}

	return &Block{Header: header, Transactions: txs}, nil
}
