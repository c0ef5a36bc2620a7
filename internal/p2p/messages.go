package p2p

import (
	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/tx"
	"github.com/atmnchain/atmnd/pkg/types"
)

// BlockAnnounceMsg announces a newly seen block by hash and height without
// sending its body.
type BlockAnnounceMsg struct {
	Hash   types.Hash `json:"hash"`
	Height uint64     `json:"height"`
}

// BlockRequestMsg asks a peer for the full block matching Hash.
type BlockRequestMsg struct {
	Hash types.Hash `json:"hash"`
}

// BlockResponseMsg carries a full block in reply to a BlockRequestMsg.
// Found is false when the peer does not have the requested block.
type BlockResponseMsg struct {
	Found bool         `json:"found"`
	Block *block.Block `json:"block,omitempty"`
}

// TransactionBroadcastMsg relays one transaction to be admitted to the
// receiver's mempool and regossiped.
type TransactionBroadcastMsg struct {
	Transaction *tx.Transaction `json:"transaction"`
}

// GetPeersMsg requests a sample of the receiver's known-good addresses.
type GetPeersMsg struct{}

// PeersResponseMsg replies with addresses the receiver can dial.
type PeersResponseMsg struct {
	Addrs []string `json:"addrs"`
}

// PingMsg/PongMsg are a liveness round trip identified by a shared nonce.
type PingMsg struct {
	Nonce uint64 `json:"nonce"`
}

type PongMsg struct {
	Nonce uint64 `json:"nonce"`
}

// SyncRequestMsg asks for up to Max consecutive blocks starting at FromHeight.
type SyncRequestMsg struct {
	FromHeight uint64 `json:"from_height"`
	Max        uint32 `json:"max"`
}

// SyncResponseMsg returns the requested range. HasMore signals additional
// blocks remain beyond the last one returned.
type SyncResponseMsg struct {
	Blocks  []*block.Block `json:"blocks"`
	HasMore bool           `json:"has_more"`
}
