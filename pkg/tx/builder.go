package tx

import (
	"fmt"

	"github.com/atmnchain/atmnd/pkg/crypto"
	"github.com/atmnchain/atmnd/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a new transaction builder.
func NewBuilder() *Builder {
	return &Builder{
		tx: &Transaction{Version: 1},
	}
}

// AddInput adds an input referencing a previous output, with Sequence set
// to the maximum value.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut, Sequence: ^uint32(0)})
	return b
}

// AddOutput adds an output paying amount to a pubkey script.
func (b *Builder) AddOutput(amount uint64, script types.Script) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Amount: amount, PubKeyScript: script})
	return b
}

// PayToAddress adds a standard output paying amount to addr.
func (b *Builder) PayToAddress(amount uint64, addr types.Address) *Builder {
	return b.AddOutput(amount, types.PayToAddress(addr))
}

// SetLockTime sets the transaction lock time.
func (b *Builder) SetLockTime(lockTime uint32) *Builder {
	b.tx.LockTime = lockTime
	return b
}

// Sign signs all inputs with the provided private key. Every input is
// assumed to be spendable by the same key (single-key spending).
func (b *Builder) Sign(key *crypto.PrivateKey) error {
	digest := crypto.Hash(b.tx.SigningBytes())
	sig, err := key.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	script, err := PackSignatureScript(sig, key.PublicKey())
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	for i := range b.tx.Inputs {
		if b.tx.Inputs[i].IsCoinbase() {
			continue
		}
		b.tx.Inputs[i].SignatureScript = script
	}
	return nil
}

// SignMulti signs each input with the key that owns its outpoint.
// outpointAddr maps each input's outpoint to the address that owns it;
// signers maps each address to the private key that can spend from it.
func (b *Builder) SignMulti(
	signers map[types.Address]*crypto.PrivateKey,
	outpointAddr map[types.Outpoint]types.Address,
) error {
	digest := crypto.Hash(b.tx.SigningBytes())

	cache := make(map[types.Address][]byte)
	for i := range b.tx.Inputs {
		if b.tx.Inputs[i].IsCoinbase() {
			continue
		}

		addr, ok := outpointAddr[b.tx.Inputs[i].PrevOut]
		if !ok {
			return fmt.Errorf("no address mapping for input %d outpoint", i)
		}
		key, ok := signers[addr]
		if !ok {
			return fmt.Errorf("no signer for address %s (input %d)", addr, i)
		}

		script, cached := cache[addr]
		if !cached {
			sig, err := key.Sign(digest[:])
			if err != nil {
				return fmt.Errorf("sign input %d: %w", i, err)
			}
			script, err = PackSignatureScript(sig, key.PublicKey())
			if err != nil {
				return fmt.Errorf("sign input %d: %w", i, err)
			}
			cache[addr] = script
		}
		b.tx.Inputs[i].SignatureScript = script
	}
	return nil
}

// Build returns the constructed transaction. Does not validate — call
// tx.Validate() separately.
func (b *Builder) Build() *Transaction {
	return b.tx
}
