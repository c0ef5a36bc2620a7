package consensus

import (
	"fmt"

	"github.com/atmnchain/atmnd/pkg/block"
)

// Validator validates blocks against both structural and proof-of-work
// rules.
type Validator struct {
	engine Engine
}

// NewValidator creates a block validator with the given consensus engine.
func NewValidator(engine Engine) *Validator {
	return &Validator{engine: engine}
}

// ValidateBlock checks a block's structure and its header's proof of
// work. Subsidy correctness and bits-vs-retarget agreement are checked
// separately by the chain package, which has the height and history
// context this validator does not.
func (v *Validator) ValidateBlock(blk *block.Block) error {
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("block structure: %w", err)
	}
	if err := v.engine.VerifyHeader(blk.Header); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	return nil
}
