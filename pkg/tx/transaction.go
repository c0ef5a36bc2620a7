// Package tx defines transaction types, canonical serialization, and
// validation.
package tx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/atmnchain/atmnd/pkg/crypto"
	"github.com/atmnchain/atmnd/pkg/types"
)

// Transaction is version + ordered inputs + ordered outputs + locktime.
type Transaction struct {
	Version  uint32   `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint32   `json:"lock_time"`
}

// Input references a prior output being spent. A coinbase input has a
// zero prev tx hash and index types.CoinbaseIndex; its SignatureScript
// carries the block height instead of a spend proof.
type Input struct {
	PrevOut         types.Outpoint `json:"prev_out"`
	SignatureScript types.Script   `json:"signature_script"`
	Sequence        uint32         `json:"sequence"`
}

// IsCoinbase reports whether this input is the synthetic coinbase marker.
func (in Input) IsCoinbase() bool {
	return in.PrevOut.IsCoinbase()
}

// Output creates a new spendable value locked to pubkey_script.
type Output struct {
	Amount       uint64       `json:"amount"`
	PubKeyScript types.Script `json:"pubkey_script"`
}

// Hash returns the transaction ID: SHA-256d of the full canonical
// serialization, including signature scripts.
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash(t.Serialize())
}

// Serialize returns the canonical little-endian byte encoding of the
// transaction, used for tx-hash and merkle computation.
//
// version(4) | in_count(4) | [tx_hash(32) index(4) sig_script_len(4)+data sequence(4)]...
// | out_count(4) | [amount(8) pubkey_script_len(4)+data]... | locktime(4)
func (t *Transaction) Serialize() []byte {
	return t.serialize(false)
}

// SigningBytes returns the bytes that are hashed and signed to produce an
// input's signature: identical to Serialize except every non-coinbase
// input's SignatureScript is treated as empty, since the script isn't known
// until after signing. Coinbase inputs keep their height script.
func (t *Transaction) SigningBytes() []byte {
	return t.serialize(true)
}

func (t *Transaction) serialize(blankScripts bool) []byte {
	buf := make([]byte, 0, 64+64*len(t.Inputs)+64*len(t.Outputs))
	buf = binary.LittleEndian.AppendUint32(buf, t.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, in.PrevOut.TxHash[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		script := in.SignatureScript
		if blankScripts && !in.IsCoinbase() {
			script = nil
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(script)))
		buf = append(buf, script...)
		buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Outputs)))
	for _, out := range t.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Amount)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.PubKeyScript)))
		buf = append(buf, out.PubKeyScript...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, t.LockTime)
	return buf
}

// Deserialize decodes a transaction produced by Serialize.
func Deserialize(data []byte) (*Transaction, error) {
	const u32 = 4
	read := func(n int) ([]byte, error) {
		if len(data) < n {
			return nil, fmt.Errorf("tx: truncated transaction")
		}
		b := data[:n]
		data = data[n:]
		return b, nil
	}

	verBytes, err := read(u32)
	if err != nil {
		return nil, err
	}
	t := &Transaction{Version: binary.LittleEndian.Uint32(verBytes)}

	inCountBytes, err := read(u32)
	if err != nil {
		return nil, err
	}
	inCount := binary.LittleEndian.Uint32(inCountBytes)
	t.Inputs = make([]Input, 0, inCount)
	for i := uint32(0); i < inCount; i++ {
		hashBytes, err := read(types.HashSize)
		if err != nil {
			return nil, fmt.Errorf("tx: input %d: %w", i, err)
		}
		idxBytes, err := read(u32)
		if err != nil {
			return nil, fmt.Errorf("tx: input %d: %w", i, err)
		}
		scriptLenBytes, err := read(u32)
		if err != nil {
			return nil, fmt.Errorf("tx: input %d: %w", i, err)
		}
		scriptLen := binary.LittleEndian.Uint32(scriptLenBytes)
		scriptBytes, err := read(int(scriptLen))
		if err != nil {
			return nil, fmt.Errorf("tx: input %d: %w", i, err)
		}
		seqBytes, err := read(u32)
		if err != nil {
			return nil, fmt.Errorf("tx: input %d: %w", i, err)
		}
		var txHash types.Hash
		copy(txHash[:], hashBytes)
		in := Input{
			PrevOut:  types.Outpoint{TxHash: txHash, Index: binary.LittleEndian.Uint32(idxBytes)},
			Sequence: binary.LittleEndian.Uint32(seqBytes),
		}
		if scriptLen > 0 {
			in.SignatureScript = append(types.Script(nil), scriptBytes...)
		}
		t.Inputs = append(t.Inputs, in)
	}

	outCountBytes, err := read(u32)
	if err != nil {
		return nil, err
	}
	outCount := binary.LittleEndian.Uint32(outCountBytes)
	t.Outputs = make([]Output, 0, outCount)
	for i := uint32(0); i < outCount; i++ {
		amountBytes, err := read(8)
		if err != nil {
			return nil, fmt.Errorf("tx: output %d: %w", i, err)
		}
		scriptLenBytes, err := read(u32)
		if err != nil {
			return nil, fmt.Errorf("tx: output %d: %w", i, err)
		}
		scriptLen := binary.LittleEndian.Uint32(scriptLenBytes)
		scriptBytes, err := read(int(scriptLen))
		if err != nil {
			return nil, fmt.Errorf("tx: output %d: %w", i, err)
		}
		out := Output{Amount: binary.LittleEndian.Uint64(amountBytes)}
		if scriptLen > 0 {
			out.PubKeyScript = append(types.Script(nil), scriptBytes...)
		}
		t.Outputs = append(t.Outputs, out)
	}

	lockBytes, err := read(u32)
	if err != nil {
		return nil, err
	}
	t.LockTime = binary.LittleEndian.Uint32(lockBytes)

	if len(data) != 0 {
		return nil, fmt.Errorf("tx: %d trailing bytes after decoding transaction", len(data))
	}
	return t, nil
}

// TotalOutputValue returns the sum of all output amounts, erroring on
// uint64 overflow.
func (t *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range t.Outputs {
		if total > math.MaxUint64-out.Amount {
			return 0, fmt.Errorf("tx: output value overflow")
		}
		total += out.Amount
	}
	return total, nil
}

// CoinbaseHeight decodes the block height carried in a coinbase input's
// signature script. Returns an error if in is not a well-formed coinbase
// height script (little-endian 8 bytes).
func CoinbaseHeight(in Input) (uint64, error) {
	if len(in.SignatureScript) != 8 {
		return 0, fmt.Errorf("tx: coinbase script must carry an 8-byte height, got %d bytes", len(in.SignatureScript))
	}
	return binary.LittleEndian.Uint64(in.SignatureScript), nil
}

// NewCoinbaseInput builds the synthetic input for a coinbase transaction
// at the given height.
func NewCoinbaseInput(height uint64) Input {
	script := make([]byte, 8)
	binary.LittleEndian.PutUint64(script, height)
	return Input{
		PrevOut:         types.Outpoint{Index: types.CoinbaseIndex},
		SignatureScript: script,
		Sequence:        math.MaxUint32,
	}
}
