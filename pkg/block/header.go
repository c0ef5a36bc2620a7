package block

import (
	"encoding/binary"
	"fmt"

	"github.com/atmnchain/atmnd/pkg/crypto"
	"github.com/atmnchain/atmnd/pkg/types"
)

// HeaderSize is the fixed serialized size of a block header in bytes:
// version(4) + prev_hash(32) + merkle_root(32) + timestamp(4) + bits(4) + nonce(4).
const HeaderSize = 4 + 32 + 32 + 4 + 4 + 4

// CurrentVersion is the block version this node produces.
const CurrentVersion uint32 = 1

// Header is the fixed 80-byte block header. Height is not part of the
// header — it is cached on Block, derived from chain position.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint32     `json:"timestamp"`
	Bits       uint32     `json:"bits"`
	Nonce      uint32     `json:"nonce"`
}

// Hash returns SHA-256d of the header's canonical serialization. This is
// the value that must satisfy the PoW target.
func (h Header) Hash() types.Hash {
	return crypto.Hash(h.Serialize())
}

// Serialize encodes the header into its canonical 80-byte little-endian
// wire format.
func (h Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// DeserializeHeader decodes a canonical 80-byte header.
func DeserializeHeader(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, fmt.Errorf("block: header must be %d bytes, got %d", HeaderSize, len(data))
	}
	var h Header
	h.Version = binary.LittleEndian.Uint32(data[0:4])
	copy(h.PrevHash[:], data[4:36])
	copy(h.MerkleRoot[:], data[36:68])
	h.Timestamp = binary.LittleEndian.Uint32(data[68:72])
	h.Bits = binary.LittleEndian.Uint32(data[72:76])
	h.Nonce = binary.LittleEndian.Uint32(data[76:80])
	return h, nil
}
