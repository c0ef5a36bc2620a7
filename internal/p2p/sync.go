package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/types"
)

// maxSyncBatch is the largest block range ever served in one SyncResponse,
// regardless of what a peer requests.
const maxSyncBatch = 500

// syncRequestTimeout bounds how long RequestBlocks waits for a reply before
// giving up on that peer.
const syncRequestTimeout = 30 * time.Second

// RequestBlocks asks a specific connected peer for up to max consecutive
// blocks starting at fromHeight and waits for its SyncResponse.
func (n *Node) RequestBlocks(ctx context.Context, addr string, fromHeight uint64, max uint32) (*SyncResponseMsg, error) {
	p, ok := n.registry.get(addr)
	if !ok {
		return nil, fmt.Errorf("peer not connected: %s", addr)
	}

	payload, err := json.Marshal(SyncRequestMsg{FromHeight: fromHeight, Max: max})
	if err != nil {
		return nil, fmt.Errorf("marshal sync request: %w", err)
	}
	if err := p.send(n.config.Magic, MsgSyncRequest, payload); err != nil {
		return nil, fmt.Errorf("send sync request: %w", err)
	}

	select {
	case resp := <-p.syncResp:
		return resp, nil
	case <-time.After(syncRequestTimeout):
		return nil, fmt.Errorf("sync request to %s timed out", addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("peer %s disconnected mid-sync", addr)
	}
}

// RequestBlock fetches one full block by hash from a specific peer, used
// after a BlockAnnounce for a hash the local chain doesn't have yet.
func (n *Node) RequestBlock(ctx context.Context, addr string, hash types.Hash) (*block.Block, error) {
	p, ok := n.registry.get(addr)
	if !ok {
		return nil, fmt.Errorf("peer not connected: %s", addr)
	}

	payload, err := json.Marshal(BlockRequestMsg{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("marshal block request: %w", err)
	}
	if err := p.send(n.config.Magic, MsgBlockRequest, payload); err != nil {
		return nil, fmt.Errorf("send block request: %w", err)
	}

	select {
	case resp := <-p.blockResp:
		if !resp.Found {
			return nil, fmt.Errorf("peer %s does not have block %x", addr, hash)
		}
		return resp.Block, nil
	case <-time.After(syncRequestTimeout):
		return nil, fmt.Errorf("block request to %s timed out", addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("peer %s disconnected mid-request", addr)
	}
}

// CatchUp repeatedly issues SyncRequests to addr, handing each batch to
// apply, until the peer reports no more blocks or apply fails. It is the
// bootstrap/catch-up driver invoked when a peer's handshake best_height
// exceeds the local tip by more than the caller's threshold.
func (n *Node) CatchUp(ctx context.Context, addr string, fromHeight uint64, apply func(*block.Block) error) error {
	height := fromHeight
	for {
		resp, err := n.RequestBlocks(ctx, addr, height, maxSyncBatch)
		if err != nil {
			return err
		}
		for _, b := range resp.Blocks {
			if err := apply(b); err != nil {
				return fmt.Errorf("apply synced block %d: %w", b.Height, err)
			}
			height = b.Height + 1
		}
		if !resp.HasMore || len(resp.Blocks) == 0 {
			return nil
		}
	}
}
