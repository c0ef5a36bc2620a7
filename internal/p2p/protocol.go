package p2p

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MagicMainnet and MagicTestnet are the 4-byte network magics prefixed to
// every frame. They are chosen to be non-printable and mutually unique so a
// misdirected connection to the wrong network is rejected at the framing
// layer, before a single message is decoded.
var (
	MagicMainnet = [4]byte{0xa7, 0x4d, 0x4e, 0x01}
	MagicTestnet = [4]byte{0xa7, 0x4d, 0x4e, 0x74}
)

// ProtocolVersion is the protocol version this node speaks.
// MinProtocolVersion is the lowest version accepted from a peer.
const (
	ProtocolVersion    uint32 = 1
	MinProtocolVersion uint32 = 1
)

// Size limits enforced at the framing layer. A frame whose declared length
// exceeds the limit for its message type is rejected and the connection is
// dropped without reading the payload into memory.
const (
	MaxBlockMessageBytes = 4 * 1024 * 1024
	MaxTxMessageBytes    = 1 * 1024 * 1024
	MaxOtherMessageBytes = 32 * 1024 * 1024

	frameHeaderLen = 4 + 4 + 1 // magic + length + type
)

// MsgType identifies the kind of payload carried by a frame.
type MsgType byte

const (
	MsgHandshake MsgType = iota
	MsgHandshakeAck
	MsgBlockAnnounce
	MsgBlockRequest
	MsgBlockResponse
	MsgTransactionBroadcast
	MsgGetPeers
	MsgPeersResponse
	MsgPing
	MsgPong
	MsgSyncRequest
	MsgSyncResponse
)

func (t MsgType) String() string {
	switch t {
	case MsgHandshake:
		return "Handshake"
	case MsgHandshakeAck:
		return "HandshakeAck"
	case MsgBlockAnnounce:
		return "BlockAnnounce"
	case MsgBlockRequest:
		return "BlockRequest"
	case MsgBlockResponse:
		return "BlockResponse"
	case MsgTransactionBroadcast:
		return "TransactionBroadcast"
	case MsgGetPeers:
		return "GetPeers"
	case MsgPeersResponse:
		return "PeersResponse"
	case MsgPing:
		return "Ping"
	case MsgPong:
		return "Pong"
	case MsgSyncRequest:
		return "SyncRequest"
	case MsgSyncResponse:
		return "SyncResponse"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// maxBytesFor returns the size ceiling for a given message kind, per the
// three-tier limit (block / transaction / everything else).
func maxBytesFor(t MsgType) int {
	switch t {
	case MsgBlockAnnounce, MsgBlockResponse:
		return MaxBlockMessageBytes
	case MsgTransactionBroadcast:
		return MaxTxMessageBytes
	default:
		return MaxOtherMessageBytes
	}
}

// Frame is a decoded wire message: its type tag and raw JSON payload.
type Frame struct {
	Type    MsgType
	Payload []byte
}

// WriteFrame encodes magic || length || type || payload and writes it to w.
// length covers the type byte plus the payload.
func WriteFrame(w io.Writer, magic [4]byte, t MsgType, payload []byte) error {
	body := len(payload) + 1
	if body > maxBytesFor(t) {
		return fmt.Errorf("p2p: %s payload too large: %d bytes", t, body)
	}

	header := make([]byte, 9)
	copy(header[0:4], magic[:])
	binary.BigEndian.PutUint32(header[4:8], uint32(body))
	header[8] = byte(t)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads and validates one frame from r against the expected
// network magic. It enforces the per-message-kind size ceiling before
// allocating a buffer for the payload, so an oversize declared length never
// results in a large allocation.
func ReadFrame(r io.Reader, wantMagic [4]byte) (*Frame, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	var gotMagic [4]byte
	copy(gotMagic[:], header[0:4])
	if gotMagic != wantMagic {
		return nil, fmt.Errorf("p2p: bad network magic: got %x want %x", gotMagic, wantMagic)
	}

	length := binary.BigEndian.Uint32(header[4:8])
	if length == 0 {
		return nil, fmt.Errorf("p2p: empty frame")
	}
	if length > MaxOtherMessageBytes {
		return nil, fmt.Errorf("p2p: frame length %d exceeds hard ceiling", length)
	}
	t := MsgType(header[8])
	if int(length) > maxBytesFor(t) {
		return nil, fmt.Errorf("p2p: %s frame too large: %d bytes", t, length)
	}

	payload := make([]byte, length-1)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return &Frame{Type: t, Payload: payload}, nil
}
