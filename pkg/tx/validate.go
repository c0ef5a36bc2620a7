package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/atmnchain/atmnd/config"
	"github.com/atmnchain/atmnd/pkg/types"
)

// Structural validation errors.
var (
	ErrNoInputs           = errors.New("transaction has no inputs")
	ErrNoOutputs          = errors.New("transaction has no outputs")
	ErrDuplicateInput     = errors.New("duplicate input")
	ErrOutputOverflow     = errors.New("output values overflow")
	ErrZeroOutput         = errors.New("output amount is zero")
	ErrMissingSigScript   = errors.New("input missing signature script")
	ErrInvalidSig         = errors.New("invalid signature")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrScriptDataTooLarge = errors.New("script data too large")
	ErrMalformedCoinbase  = errors.New("malformed coinbase transaction")
)

// Validate checks transaction structure and basic rules. It does not check
// UTXO existence or signature correctness — see ValidateWithUTXOs for that.
func (t *Transaction) Validate() error {
	if len(t.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(t.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(t.Inputs), config.MaxTxInputs)
	}
	if len(t.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(t.Outputs), config.MaxTxOutputs)
	}

	seen := make(map[types.Outpoint]bool, len(t.Inputs))
	for i, in := range t.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true

		if in.IsCoinbase() {
			continue
		}
		if len(in.SignatureScript) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingSigScript)
		}
	}

	var totalOutput uint64
	for i, out := range t.Outputs {
		if out.Amount == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		if len(out.PubKeyScript) > config.MaxScriptData {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptDataTooLarge, len(out.PubKeyScript), config.MaxScriptData)
		}
		if totalOutput > math.MaxUint64-out.Amount {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Amount
	}

	return nil
}

// ValidateCoinbase checks that t is a well-formed coinbase transaction for
// the given block height: exactly one input, that input is the coinbase
// marker, and its signature script carries height.
func (t *Transaction) ValidateCoinbase(height uint64) error {
	if len(t.Inputs) != 1 || !t.Inputs[0].IsCoinbase() {
		return fmt.Errorf("%w: must have exactly one coinbase input", ErrMalformedCoinbase)
	}
	if len(t.Outputs) == 0 {
		return fmt.Errorf("%w: %w", ErrMalformedCoinbase, ErrNoOutputs)
	}
	got, err := CoinbaseHeight(t.Inputs[0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedCoinbase, err)
	}
	if got != height {
		return fmt.Errorf("%w: height %d, want %d", ErrMalformedCoinbase, got, height)
	}
	return nil
}
