package types

import "fmt"

// CoinbaseIndex is the synthetic output index used by a coinbase input to
// mark that it does not reference any prior transaction output.
const CoinbaseIndex uint32 = 0xFFFFFFFF

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxHash Hash   `json:"tx_hash"`
	Index  uint32 `json:"index"`
}

// IsCoinbase returns true if the outpoint is the synthetic coinbase marker:
// a zero transaction hash and the reserved index 0xFFFFFFFF.
func (o Outpoint) IsCoinbase() bool {
	return o.TxHash.IsZero() && o.Index == CoinbaseIndex
}

// Key returns the ASCII UTXO key "{tx_hash_hex}:{output_index_decimal}"
// used by the chain store's utxo keyspace.
func (o Outpoint) Key() string {
	return fmt.Sprintf("%s:%d", o.TxHash.String(), o.Index)
}

// String returns "txhash:index" in hex.
func (o Outpoint) String() string {
	return o.Key()
}
