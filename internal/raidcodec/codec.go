// Package raidcodec wraps github.com/klauspost/reedsolomon behind the
// narrow raid_gen/raid_rec signatures spec.md §1 treats as a black box:
// the coding theory is orthogonal to the parity-and-metadata engine, only
// the signatures matter here. Grounded on the Reed-Solomon wiring shown in
// the raid6 reference controller (other_examples' raid-simulator) and the
// erasure-coding backends (minio, aistore) in the retrieval pack.
package raidcodec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Codec generates and reconstructs parity for a fixed (dataShards,
// parityShards) shape. openArray builds one Codec per invocation and the
// engines share it, since reedsolomon.New is not free.
type Codec struct {
	dataShards   int
	parityShards int
	enc          reedsolomon.Encoder
}

// New builds a codec for diskCount data shards and parityLevel parity
// shards (parityLevel 1..6 per spec.md's LEV_MAX).
func New(diskCount, parityLevel int) (*Codec, error) {
	if diskCount <= 0 {
		return nil, fmt.Errorf("raidcodec: disk_count must be positive, got %d", diskCount)
	}
	if parityLevel <= 0 {
		return nil, fmt.Errorf("raidcodec: parity_level must be positive, got %d", parityLevel)
	}
	// With a single parity shard, WithFastOneParityMatrix makes the parity
	// the plain XOR of the data shards.
	enc, err := reedsolomon.New(diskCount, parityLevel, reedsolomon.WithFastOneParityMatrix())
	if err != nil {
		return nil, fmt.Errorf("raidcodec: construct encoder: %w", err)
	}
	return &Codec{dataShards: diskCount, parityShards: parityLevel, enc: enc}, nil
}

// Gen fills buffers[disk_count : disk_count+parity_level] (the parity
// slots) from buffers[0:disk_count] (the data slots), matching spec.md
// §4.5's buffer layout. Every slice in buffers must have length
// blockSize; missing (nil) data slots are treated as all-zero, matching
// a block whose file is shorter than blockSize (the "pad with zeros"
// rule of spec.md §4.6 step 3).
func (c *Codec) Gen(blockSize int, buffers [][]byte) error {
	if len(buffers) != c.dataShards+c.parityShards {
		return fmt.Errorf("raidcodec: Gen expects %d buffers, got %d", c.dataShards+c.parityShards, len(buffers))
	}
	shards := c.materialize(blockSize, buffers)
	if err := c.enc.Encode(shards); err != nil {
		return fmt.Errorf("raidcodec: encode: %w", err)
	}
	for i := c.dataShards; i < c.dataShards+c.parityShards; i++ {
		copy(buffers[i], shards[i])
	}
	return nil
}

// Rec reconstructs every shard named in failedMap (a set of buffer
// indices, 0..dataShards+parityShards-1) from the surviving shards, and
// writes the recovered bytes back into buffers. It returns an error if
// more shards are missing than the codec's parity shards can repair.
func (c *Codec) Rec(failedMap map[int]bool, blockSize int, buffers [][]byte) error {
	if len(failedMap) > c.parityShards {
		return fmt.Errorf("raidcodec: %d failed shards exceeds parity level %d", len(failedMap), c.parityShards)
	}
	shards := c.materialize(blockSize, buffers)
	for idx := range failedMap {
		if idx < 0 || idx >= len(shards) {
			return fmt.Errorf("raidcodec: failed index %d out of range", idx)
		}
		shards[idx] = nil
	}
	if err := c.enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("raidcodec: reconstruct: %w", err)
	}
	for idx := range failedMap {
		// buffers[idx] is commonly nil going in: a failed shard's caller
		// has no data to hand us, that is the point of marking it failed.
		// Replace the element outright rather than copy into it.
		buffers[idx] = shards[idx]
	}
	return nil
}

func (c *Codec) materialize(blockSize int, buffers [][]byte) [][]byte {
	shards := make([][]byte, len(buffers))
	for i, b := range buffers {
		if b == nil {
			shards[i] = make([]byte, blockSize)
			continue
		}
		shards[i] = b
	}
	return shards
}

// DataShards returns the number of data shards this codec was built for.
func (c *Codec) DataShards() int { return c.dataShards }

// ParityShards returns the number of parity shards this codec was built for.
func (c *Codec) ParityShards() int { return c.parityShards }
