// Package consensus implements the chain's proof-of-work rules: compact
// target encoding, difficulty retargeting, block reward scheduling, and
// nonce search.
package consensus

import (
	"context"

	"github.com/atmnchain/atmnd/pkg/block"
)

// Engine mines and verifies block headers under a consensus rule set.
type Engine interface {
	// VerifyHeader checks that header's hash satisfies the proof-of-work
	// requirement encoded in its own Bits field.
	VerifyHeader(header block.Header) error

	// Prepare sets the Bits field a new block at the given height must
	// mine against.
	Prepare(header *block.Header, height uint64) error

	// Seal searches for a nonce that makes blk's header hash satisfy its
	// target, blocking until found or ctx is cancelled. It returns the
	// number of hashes attempted, whether it succeeded or was cancelled.
	Seal(ctx context.Context, blk *block.Block) (hashes uint64, err error)
}
