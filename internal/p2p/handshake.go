package p2p

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/atmnchain/atmnd/pkg/types"
)

// replayWindow bounds how stale a peer's handshake timestamp may be.
const replayWindow = 300 * time.Second

// maxUserAgentBytes caps the advertised user agent string.
const maxUserAgentBytes = 100

// HandshakeMsg is the first message exchanged on every connection.
type HandshakeMsg struct {
	ProtocolVersion uint32     `json:"protocol_version"`
	NetworkMagic    [4]byte    `json:"network_magic"`
	NodeID          uint64     `json:"node_id"`
	Timestamp       int64      `json:"timestamp"`
	BestHeight      uint64     `json:"best_height"`
	GenesisHash     types.Hash `json:"genesis_hash"`
	Challenge       [32]byte   `json:"challenge"`
	UserAgent       string     `json:"user_agent"`
}

// HandshakeAck carries proof that the responder received the initiator's
// challenge: SHA-256(their_nonce || their_node_id).
type HandshakeAck struct {
	Proof [32]byte `json:"proof"`
}

// newChallenge generates a random 32-byte challenge nonce.
func newChallenge() [32]byte {
	var c [32]byte
	_, _ = rand.Read(c[:])
	return c
}

// newNodeID generates a random 64-bit session node identifier.
func newNodeID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// proveChallenge computes the handshake proof for a received challenge and
// node ID: SHA-256(nonce || node_id).
func proveChallenge(nonce [32]byte, nodeID uint64) [32]byte {
	var buf [40]byte
	copy(buf[:32], nonce[:])
	binary.BigEndian.PutUint64(buf[32:], nodeID)
	return sha256.Sum256(buf[:])
}

// validateHandshake checks a peer's handshake message against local policy.
// An empty string return means the handshake is acceptable.
func (n *Node) validateHandshake(msg HandshakeMsg) string {
	if msg.ProtocolVersion < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d", msg.ProtocolVersion, MinProtocolVersion)
	}
	if msg.NetworkMagic != n.config.Magic {
		return fmt.Sprintf("network magic mismatch: peer=%x local=%x", msg.NetworkMagic, n.config.Magic)
	}
	if msg.GenesisHash != n.genesisHash {
		return fmt.Sprintf("genesis mismatch: peer=%s local=%s", msg.GenesisHash.String()[:16], n.genesisHash.String()[:16])
	}
	now := time.Now().Unix()
	skew := now - msg.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > replayWindow {
		return fmt.Sprintf("timestamp outside replay window: skew=%ds", skew)
	}
	if msg.UserAgent == "" {
		return "empty user agent"
	}
	if len(msg.UserAgent) > maxUserAgentBytes {
		return "user agent too long"
	}
	return ""
}

// buildHandshake constructs this node's outgoing handshake message.
func (n *Node) buildHandshake(challenge [32]byte) HandshakeMsg {
	var height uint64
	if n.heightFn != nil {
		height = n.heightFn()
	}
	return HandshakeMsg{
		ProtocolVersion: ProtocolVersion,
		NetworkMagic:    n.config.Magic,
		NodeID:          n.nodeID,
		Timestamp:       time.Now().Unix(),
		BestHeight:      height,
		GenesisHash:     n.genesisHash,
		Challenge:       challenge,
		UserAgent:       n.config.UserAgent,
	}
}
