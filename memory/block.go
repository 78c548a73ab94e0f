package memory

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/fathom/memutils"
)

// memoryBlock is one fixed-size device allocation subdivided into page-sized
// chunks. Occupancy is tracked by a single 64-bit bitmap, one bit per chunk,
// with a set bit meaning the chunk is free.
type memoryBlock struct {
	memory     DeviceMemory
	bitmap     uint64
	chunkCount int
}

func newMemoryBlock(memory DeviceMemory, blockSize int) *memoryBlock {
	chunkCount := blockSize / PageSize
	if chunkCount < 1 || chunkCount > 64 {
		panic("memory: block size must subdivide into 1-64 pages")
	}

	return &memoryBlock{
		memory:     memory,
		bitmap:     allFreeBitmap(chunkCount),
		chunkCount: chunkCount,
	}
}

func allFreeBitmap(chunkCount int) uint64 {
	if chunkCount == 64 {
		return ^uint64(0)
	}
	return 1<<chunkCount - 1
}

// acquireChunk claims the lowest free chunk and returns its index. The caller
// must have checked hasFreeChunks first; an empty bitmap here is a bug.
func (b *memoryBlock) acquireChunk() int {
	if b.bitmap == 0 {
		panic("memory: acquireChunk called on a full block")
	}

	chunk := bits.TrailingZeros64(b.bitmap)
	b.bitmap &^= 1 << chunk
	return chunk
}

// releaseChunk returns a chunk to the block. Releasing a chunk that is
// already free is a double-free in the caller.
func (b *memoryBlock) releaseChunk(chunk int) {
	if chunk < 0 || chunk >= b.chunkCount {
		panic("memory: chunk index out of range")
	}
	if b.bitmap&(1<<chunk) != 0 {
		panic("memory: double free of a chunk")
	}

	b.bitmap |= 1 << chunk
}

func (b *memoryBlock) hasFreeChunks() bool {
	return b.bitmap != 0
}

func (b *memoryBlock) isFull() bool {
	return b.bitmap == 0
}

func (b *memoryBlock) isEmpty() bool {
	return b.bitmap == allFreeBitmap(b.chunkCount)
}

func (b *memoryBlock) freeChunks() int {
	return bits.OnesCount64(b.bitmap)
}

func (b *memoryBlock) usedChunks() int {
	return b.chunkCount - b.freeChunks()
}

func (b *memoryBlock) Validate() error {
	if b.memory == nil {
		return errors.New("memory block has no backing device memory")
	}
	if b.bitmap&^allFreeBitmap(b.chunkCount) != 0 {
		return errors.Errorf("bitmap has bits set beyond the block's %d chunks", b.chunkCount)
	}
	return nil
}

func (b *memoryBlock) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += b.chunkCount * PageSize

	for chunk := 0; chunk < b.chunkCount; chunk++ {
		if b.bitmap&(1<<chunk) != 0 {
			stats.AddUnusedRange(PageSize)
		} else {
			stats.AddAllocation(PageSize)
		}
	}
}
