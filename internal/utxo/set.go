// Package utxo manages the unspent transaction output set: the full node's
// view of what can be spent. Every validated block mutates it; every
// transaction validation reads from it.
package utxo

import "github.com/atmnchain/atmnd/pkg/types"

// UTXO represents a single unspent transaction output.
type UTXO struct {
	Outpoint types.Outpoint `json:"outpoint"`
	Value    uint64         `json:"value"`
	Script   types.Script   `json:"script"`
	Height   uint64         `json:"height"`
	Coinbase bool           `json:"coinbase"`
}

// Set is the interface for UTXO storage.
type Set interface {
	Get(outpoint types.Outpoint) (*UTXO, error)
	Put(utxo *UTXO) error
	Delete(outpoint types.Outpoint) error
	Has(outpoint types.Outpoint) (bool, error)
}
