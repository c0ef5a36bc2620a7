package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/tx"
)

// BroadcastTx sends a transaction to every connected peer.
func (n *Node) BroadcastTx(t *tx.Transaction) error {
	payload, err := json.Marshal(TransactionBroadcastMsg{Transaction: t})
	if err != nil {
		return fmt.Errorf("marshal tx broadcast: %w", err)
	}
	n.broadcast(MsgTransactionBroadcast, payload, "")
	return nil
}

// BroadcastBlock announces a newly produced or accepted block to every
// connected peer. Peers that don't already have it will follow up with a
// BlockRequest.
func (n *Node) BroadcastBlock(b *block.Block) error {
	payload, err := json.Marshal(BlockAnnounceMsg{Hash: b.Hash(), Height: b.Height})
	if err != nil {
		return fmt.Errorf("marshal block announce: %w", err)
	}
	n.broadcast(MsgBlockAnnounce, payload, "")
	return nil
}

// broadcast writes a frame to every connected peer except skipAddr (used to
// avoid echoing a message back to the peer it arrived from).
func (n *Node) broadcast(t MsgType, payload []byte, skipAddr string) {
	for _, p := range n.registry.list() {
		if p.addr == skipAddr {
			continue
		}
		go func(p *Peer) {
			if err := p.send(n.config.Magic, t, payload); err != nil {
				n.logger().Debug().Err(err).Str("peer", p.addr).Msg("broadcast send failed")
			}
		}(p)
	}
}
