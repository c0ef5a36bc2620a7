package consensus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/atmnchain/atmnd/pkg/block"
	"github.com/atmnchain/atmnd/pkg/crypto"
)

// hashCountBatchSize is how many nonce attempts a sealing worker
// accumulates locally before flushing into the shared atomic counter, so
// concurrent workers don't contend on every hash.
const hashCountBatchSize = 10_000

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty target")
	ErrZeroBits         = errors.New("bits must be nonzero")
	ErrBadBits          = errors.New("block bits does not match expected retarget")
)

// PoW implements proof-of-work consensus over the compact target encoding
// in BitsToTarget/TargetToBits. Required difficulty is carried in each
// header's Bits field; the engine holds only the chain-wide parameters
// needed to compute the next value.
type PoW struct {
	InitialBits    uint32   // bits for the first block of the chain
	RetargetPeriod uint32   // blocks between difficulty adjustments (0 = never)
	TargetSpanSecs uint32   // expected wall-clock seconds per retarget period
	PowLimit       *big.Int // easiest allowed target; no block may exceed it

	// BitsFn computes the expected Bits for a new block at a given
	// height. Set by the node operator from chain history. If nil,
	// Prepare falls back to InitialBits.
	BitsFn func(height uint64) uint32

	// Threads controls the number of parallel mining goroutines.
	// 0 or 1 = single-threaded. Each goroutine searches a strided
	// partition of the nonce space.
	Threads int
}

// NewPoW creates a PoW engine from chain parameters.
func NewPoW(initialBits uint32, retargetPeriod, targetSpanSecs uint32, powLimit *big.Int) (*PoW, error) {
	if initialBits == 0 {
		return nil, ErrZeroBits
	}
	if powLimit == nil || powLimit.Sign() <= 0 {
		return nil, fmt.Errorf("consensus: pow_limit must be positive")
	}
	return &PoW{
		InitialBits:    initialBits,
		RetargetPeriod: retargetPeriod,
		TargetSpanSecs: targetSpanSecs,
		PowLimit:       powLimit,
	}, nil
}

// VerifyHeader checks that the header's hash, under SHA-256d, is at or
// below the target its own Bits field encodes.
func (p *PoW) VerifyHeader(header block.Header) error {
	if header.Bits == 0 {
		return ErrZeroBits
	}
	target := ClampToLimit(BitsToTarget(header.Bits), p.PowLimit)
	if !HashMeetsTarget(header.Hash(), target) {
		return ErrInsufficientWork
	}
	return nil
}

// Prepare sets header.Bits to the value a block at height must mine
// against.
func (p *PoW) Prepare(header *block.Header, height uint64) error {
	if p.BitsFn != nil {
		header.Bits = p.BitsFn(height)
	} else {
		header.Bits = p.InitialBits
	}
	return nil
}

// Seal mines blk by iterating its header's nonce until the hash meets the
// target its Bits field encodes. If Threads > 1, mining runs in parallel
// goroutines. It returns the total number of hashes attempted during the
// sweep, whether the sweep succeeded or ctx was cancelled first.
func (p *PoW) Seal(ctx context.Context, blk *block.Block) (uint64, error) {
	if blk.Header.Bits == 0 {
		return 0, ErrZeroBits
	}
	if p.Threads > 1 {
		return p.sealParallel(ctx, blk, p.Threads)
	}
	return p.sealSingle(ctx, blk)
}

// headerPrefix returns the header's serialized bytes minus the trailing
// 4-byte nonce, so the nonce search only needs to append and hash 4 bytes
// per attempt instead of re-encoding the whole header.
func headerPrefix(h *block.Header) []byte {
	full := h.Serialize()
	return full[:len(full)-4]
}

func (p *PoW) sealSingle(ctx context.Context, blk *block.Block) (uint64, error) {
	target := ClampToLimit(BitsToTarget(blk.Header.Bits), p.PowLimit)
	prefix := headerPrefix(&blk.Header)
	buf := make([]byte, len(prefix)+4)
	copy(buf, prefix)
	hashInt := new(big.Int)

	var hashes uint64
	for nonce := uint32(0); ; nonce++ {
		hashes++
		if nonce&0xFFFF == 0 {
			select {
			case <-ctx.Done():
				return hashes, ctx.Err()
			default:
			}
		}

		binary.LittleEndian.PutUint32(buf[len(prefix):], nonce)
		hash := crypto.Hash(buf)
		hashInt.SetBytes(hash[:])
		if hashInt.Cmp(target) <= 0 {
			blk.Header.Nonce = nonce
			return hashes, nil
		}
		if nonce == ^uint32(0) {
			return hashes, fmt.Errorf("consensus: nonce space exhausted")
		}
	}
}

// sealParallel mines with multiple goroutines, each searching a strided
// partition of the nonce space (goroutine i starts at nonce=i, step=threads).
// Workers share a stop signal (ctx), a winner slot (found), and an atomic
// hash counter batched in groups of hashCountBatchSize to avoid contention.
// It waits for every worker to stop before reading the counter, so the
// returned count covers all workers.
func (p *PoW) sealParallel(ctx context.Context, blk *block.Block, threads int) (uint64, error) {
	target := ClampToLimit(BitsToTarget(blk.Header.Bits), p.PowLimit)
	prefix := headerPrefix(&blk.Header)

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var totalHashes atomic.Uint64

	type result struct {
		nonce uint32
		err   error
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		startNonce := uint32(i)
		stride := uint32(threads)
		go func() {
			defer wg.Done()
			buf := make([]byte, len(prefix)+4)
			copy(buf, prefix)
			hashInt := new(big.Int)

			var localCount uint64
			flush := func() {
				if localCount > 0 {
					totalHashes.Add(localCount)
					localCount = 0
				}
			}

			for nonce := startNonce; ; nonce += stride {
				localCount++
				if localCount >= hashCountBatchSize {
					flush()
				}
				if (nonce/stride)&0xFFFF == 0 && nonce > 0 {
					select {
					case <-ctx.Done():
						flush()
						return
					default:
					}
				}

				binary.LittleEndian.PutUint32(buf[len(prefix):], nonce)
				hash := crypto.Hash(buf)
				hashInt.SetBytes(hash[:])
				if hashInt.Cmp(target) <= 0 {
					flush()
					select {
					case found <- result{nonce: nonce}:
					default:
					}
					cancel()
					return
				}

				if nonce > ^uint32(0)-stride {
					flush()
					select {
					case found <- result{err: fmt.Errorf("consensus: nonce space exhausted")}:
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		cancel()
		wg.Wait()
		if !ok {
			return totalHashes.Load(), fmt.Errorf("consensus: nonce space exhausted")
		}
		if r.err != nil {
			return totalHashes.Load(), r.err
		}
		blk.Header.Nonce = r.nonce
		return totalHashes.Load(), nil
	case <-parent.Done():
		cancel()
		wg.Wait()
		if r, ok := <-found; ok && r.err == nil {
			blk.Header.Nonce = r.nonce
			return totalHashes.Load(), nil
		}
		return totalHashes.Load(), parent.Err()
	}
}

// ExpectedBits computes the correct Bits for a block at the given height,
// given the previous block's bits and a lookup for block timestamps by
// height (used only at retarget boundaries).
func (p *PoW) ExpectedBits(height uint64, prevBits uint32, getTimestamp func(uint64) (uint32, error)) uint32 {
	if height == 0 || prevBits == 0 {
		return p.InitialBits
	}
	if !ShouldRetarget(height-1, p.RetargetPeriod) {
		return prevBits
	}

	period := uint64(p.RetargetPeriod)
	firstTS, err := getTimestamp(height - period)
	if err != nil {
		return prevBits
	}
	lastTS, err := getTimestamp(height - 1)
	if err != nil {
		return prevBits
	}

	return NextBits(height-1, prevBits, firstTS, lastTS, p.RetargetPeriod, p.TargetSpanSecs, p.PowLimit)
}

// VerifyBits checks that a block header's stated Bits matches the value
// expected from chain history.
func (p *PoW) VerifyBits(header block.Header, height uint64, prevBits uint32, getTimestamp func(uint64) (uint32, error)) error {
	expected := p.ExpectedBits(height, prevBits, getTimestamp)
	if header.Bits != expected {
		return fmt.Errorf("%w: height %d has bits %#08x, want %#08x", ErrBadBits, height, header.Bits, expected)
	}
	return nil
}
