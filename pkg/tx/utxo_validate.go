package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/atmnchain/atmnd/pkg/crypto"
	"github.com/atmnchain/atmnd/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound   = errors.New("input UTXO not found")
	ErrInsufficientFee = errors.New("insufficient fee")
	ErrInputOverflow   = errors.New("input values overflow")
	ErrScriptMismatch  = errors.New("pubkey does not match UTXO script")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	GetUTXO(outpoint types.Outpoint) (amount uint64, script types.Script, err error)
	HasUTXO(outpoint types.Outpoint) bool
}

// ValidateWithUTXOs performs full validation of a transaction against the
// UTXO set: structural validity, input existence, pubkey-to-script
// matching, signature correctness, and inputs >= outputs. Returns the fee
// (inputs - outputs).
func (t *Transaction) ValidateWithUTXOs(provider UTXOProvider) (uint64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}

	sigHash := t.SigningBytes()
	digest := crypto.Hash(sigHash)

	var totalInput uint64
	for i, in := range t.Inputs {
		if in.IsCoinbase() {
			continue
		}

		if !provider.HasUTXO(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}
		amount, script, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		sig, pubKey, err := UnpackSignatureScript(in.SignatureScript)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		if err := verifyPayToAddress(pubKey, script); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		if !crypto.VerifySignature(digest[:], sig, pubKey) {
			return 0, fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}

		if totalInput > math.MaxUint64-amount {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += amount
	}

	totalOutput, err := t.TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("output overflow: %w", err)
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFee, totalInput, totalOutput)
	}

	return totalInput - totalOutput, nil
}

// verifyPayToAddress checks that pubKey hashes to the address the UTXO's
// script pays to.
func verifyPayToAddress(pubKey []byte, script types.Script) error {
	expected, ok := script.Address()
	if !ok {
		return fmt.Errorf("%w: output script is not a standard pay-to-address script", ErrScriptMismatch)
	}
	derived := crypto.AddressFromPubKey(pubKey)
	if expected != derived {
		return fmt.Errorf("%w: expected %s, got %s", ErrScriptMismatch, expected, derived)
	}
	return nil
}
