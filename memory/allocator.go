package memory

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/fathom/memutils"
	"golang.org/x/exp/slog"
)

const (
	// PageSize is the fixed chunk size of the block/bitmap sub-allocator.
	PageSize = 64 * 1024
	// DeviceBlockSize is the size of blocks carved from device-local memory
	// types.
	DeviceBlockSize = 64 * PageSize
	// HostBlockSize is the size of blocks carved from host-visible memory
	// types. Host blocks are smaller- staging traffic is bursty and we would
	// rather not pin 4MiB of host memory per burst.
	HostBlockSize = 16 * PageSize
)

// Usage classifies an allocation by how the CPU and GPU will touch it. The
// class determines which memory property flags are required and which are
// merely preferred when picking a memory type.
type Usage uint32

const (
	// UsageOnce is staging memory: written by the CPU once and read by a
	// transfer soon after.
	UsageOnce Usage = iota
	// UsageDynamic is memory rewritten by the CPU every frame and read by
	// the GPU, such as geometry buffers.
	UsageDynamic
	// UsageStatic is GPU-only memory that the CPU never touches after the
	// initial upload.
	UsageStatic
)

var usageNames = map[Usage]string{
	UsageOnce:    "UsageOnce",
	UsageDynamic: "UsageDynamic",
	UsageStatic:  "UsageStatic",
}

func (u Usage) String() string {
	name, ok := usageNames[u]
	if !ok {
		return "unknown usage"
	}
	return name
}

// Allocation is one page-sized suballocation. It is a value, not a handle-
// the caller is expected to store it alongside the resource it backs and
// return it verbatim to Deallocate.
type Allocation struct {
	// Memory is the device block this allocation lives in, for binding
	// buffers/images against.
	Memory DeviceMemory
	// Offset is the allocation's byte offset within Memory.
	Offset int
	// Size is the usable size in bytes- always one page in this scheme.
	Size int

	typeIndex  int
	blockIndex int
	chunk      int

	// margin is the block-relative offset of the debug magic value written
	// in the chunk's slack past this allocation, or -1 when none was
	// placed.
	margin int
}

// memoryTypeState tracks the blocks carved from one Vulkan memory type. The
// freeBlocks stack lists indices of blocks known to have free chunks so that
// allocation never scans full blocks.
type memoryTypeState struct {
	blockSize  int
	blocks     []*memoryBlock
	freeBlocks []int
}

// Allocator is a page/block sub-allocator over device memory. It owns every
// block it creates; Destroy returns them all to the device.
//
// An Allocator is driven by a single goroutine, matching the renderer's
// threading discipline.
type Allocator struct {
	logger *slog.Logger
	source DeviceMemorySource

	types [common.MaxMemoryTypes]*memoryTypeState
}

// NewAllocator creates an Allocator over the provided memory source. A nil
// logger falls back to slog.Default.
func NewAllocator(logger *slog.Logger, source DeviceMemorySource) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Allocator{
		logger: logger,
		source: source,
	}
}

// FindMemoryTypeIndex selects the memory type for a usage class. Once and
// Dynamic usages prefer memory that is both device-local and host-visible
// and fall back to plain host-visible; Static requires device-local with no
// fallback. Failure is NoSuitableMemoryTypeError.
func (a *Allocator) FindMemoryTypeIndex(usage Usage) (int, error) {
	var required, preferred core1_0.MemoryPropertyFlags

	switch usage {
	case UsageOnce, UsageDynamic:
		required = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
		preferred = core1_0.MemoryPropertyDeviceLocal
	case UsageStatic:
		required = core1_0.MemoryPropertyDeviceLocal
	default:
		panic("memory: unknown usage class")
	}

	memoryTypes := a.source.MemoryTypes()

	if preferred != 0 {
		for i, memoryType := range memoryTypes {
			if memoryType.PropertyFlags&(required|preferred) == required|preferred {
				return i, nil
			}
		}
	}

	for i, memoryType := range memoryTypes {
		if memoryType.PropertyFlags&required == required {
			return i, nil
		}
	}

	return 0, errors.Wrapf(NoSuitableMemoryTypeError, "usage %s requires flags %s", usage, required)
}

// Allocate claims one page-sized region of memory suitable for usage. Blocks
// with known free chunks are reused before any new block is carved from the
// device. An underlying device allocation failure propagates with the
// driver's VkResult.
func (a *Allocator) Allocate(usage Usage, size int) (Allocation, common.VkResult, error) {
	a.logger.Debug("Allocator::Allocate")

	if size > PageSize {
		return Allocation{}, core1_0.VKErrorUnknown,
			errors.Wrapf(PageSizeExceededError, "requested %d bytes, page size is %d", size, PageSize)
	}

	typeIndex, err := a.FindMemoryTypeIndex(usage)
	if err != nil {
		return Allocation{}, core1_0.VKErrorFeatureNotPresent, err
	}

	state := a.types[typeIndex]
	if state == nil {
		state = &memoryTypeState{blockSize: a.blockSizeForType(typeIndex)}
		a.types[typeIndex] = state
	}

	blockIndex, res, err := a.blockWithFreeChunks(typeIndex, state)
	if err != nil {
		return Allocation{}, res, err
	}

	block := state.blocks[blockIndex]
	chunk := block.acquireChunk()
	if block.isFull() {
		// The block was on top of the free stack; drop it until a chunk
		// comes back
		state.freeBlocks = state.freeBlocks[:len(state.freeBlocks)-1]
	}

	memutils.DebugValidate(block)

	allocation := Allocation{
		Memory:     block.memory,
		Offset:     chunk * PageSize,
		Size:       PageSize,
		typeIndex:  typeIndex,
		blockIndex: blockIndex,
		chunk:      chunk,
		margin:     -1,
	}
	a.writeDebugMargin(&allocation, size)

	return allocation, core1_0.VKSuccess, nil
}

// writeDebugMargin places a magic value in the chunk's slack past the
// requested size. Deallocate checks the value is intact, catching writes
// that ran past the caller's requested size. Chunks with no slack for the
// margin, and memory types the CPU cannot map, go unchecked.
func (a *Allocator) writeDebugMargin(allocation *Allocation, size int) {
	if memutils.DebugMargin == 0 || size+memutils.DebugMargin > PageSize {
		return
	}
	if a.source.MemoryTypes()[allocation.typeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible == 0 {
		return
	}

	data, _, err := allocation.Memory.Map()
	if err != nil {
		return
	}

	memutils.WriteMagicValue(data, allocation.Offset+size)
	allocation.margin = allocation.Offset + size
}

// Deallocate returns an allocation's chunk to its block. If the block was
// full it rejoins the free-block stack.
func (a *Allocator) Deallocate(allocation Allocation) {
	state := a.types[allocation.typeIndex]
	if state == nil || allocation.blockIndex >= len(state.blocks) {
		panic("memory: deallocating from an unknown block")
	}

	if allocation.margin >= 0 {
		data, _, err := allocation.Memory.Map()
		if err == nil && !memutils.ValidateMagicValue(data, allocation.margin) {
			panic("MEMORY CORRUPTION DETECTED AFTER FREED ALLOCATION")
		}
	}

	block := state.blocks[allocation.blockIndex]
	wasFull := block.isFull()
	block.releaseChunk(allocation.chunk)

	if wasFull {
		state.freeBlocks = append(state.freeBlocks, allocation.blockIndex)
	}

	memutils.DebugValidate(block)
}

// blockWithFreeChunks returns the index of a block guaranteed to have at
// least one free chunk, carving a new block from the device if necessary.
func (a *Allocator) blockWithFreeChunks(typeIndex int, state *memoryTypeState) (int, common.VkResult, error) {
	for len(state.freeBlocks) > 0 {
		blockIndex := state.freeBlocks[len(state.freeBlocks)-1]
		if state.blocks[blockIndex].hasFreeChunks() {
			return blockIndex, core1_0.VKSuccess, nil
		}
		// Stale entry
		state.freeBlocks = state.freeBlocks[:len(state.freeBlocks)-1]
	}

	memory, res, err := a.source.AllocateMemory(typeIndex, state.blockSize)
	if err != nil {
		return 0, res, errors.Wrapf(err, "carving a new %d-byte block from memory type %d", state.blockSize, typeIndex)
	}

	blockIndex := len(state.blocks)
	state.blocks = append(state.blocks, newMemoryBlock(memory, state.blockSize))
	state.freeBlocks = append(state.freeBlocks, blockIndex)

	return blockIndex, res, nil
}

func (a *Allocator) blockSizeForType(typeIndex int) int {
	memoryTypes := a.source.MemoryTypes()
	if memoryTypes[typeIndex].PropertyFlags&core1_0.MemoryPropertyDeviceLocal != 0 &&
		memoryTypes[typeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible == 0 {
		return DeviceBlockSize
	}
	return HostBlockSize
}

// Destroy returns every block to the device. Blocks that still contain live
// allocations are logged before an error is returned; the caller leaked
// them.
func (a *Allocator) Destroy() error {
	var leaked int

	for typeIndex, state := range a.types {
		if state == nil {
			continue
		}

		for blockIndex, block := range state.blocks {
			if !block.isEmpty() {
				leaked += block.usedChunks()
				a.logger.LogAttrs(context.Background(), slog.LevelError,
					"[UNRELEASED MEMORY] block destroyed with live chunks",
					slog.Int("memoryType", typeIndex),
					slog.Int("block", blockIndex),
					slog.Int("liveChunks", block.usedChunks()),
				)
			}
			a.source.FreeMemory(block.memory)
		}

		a.types[typeIndex] = nil
	}

	if leaked > 0 {
		return errors.Errorf("%d chunks were not freed before the allocator was destroyed", leaked)
	}
	return nil
}

// AddDetailedStatistics sums the allocator's block statistics into stats.
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, state := range a.types {
		if state == nil {
			continue
		}
		for _, block := range state.blocks {
			block.addDetailedStatistics(stats)
		}
	}
}

// PrintJson writes the allocator's statistics into a JSON object, one entry
// per active memory type plus a Total summing them.
func (a *Allocator) PrintJson(json *jwriter.ObjectState) {
	var total memutils.DetailedStatistics
	total.Clear()

	for typeIndex, state := range a.types {
		if state == nil {
			continue
		}

		var stats memutils.DetailedStatistics
		stats.Clear()
		for _, block := range state.blocks {
			block.addDetailedStatistics(&stats)
		}
		total.AddDetailedStatistics(&stats)

		typeObject := json.Name("Type " + strconv.Itoa(typeIndex)).Object()
		stats.PrintJson(&typeObject)
		typeObject.End()
	}

	totalObject := json.Name("Total").Object()
	total.PrintJson(&totalObject)
	totalObject.End()
}

// Validate checks the free-block stacks against block occupancy.
func (a *Allocator) Validate() error {
	for typeIndex, state := range a.types {
		if state == nil {
			continue
		}

		onStack := map[int]bool{}
		for _, blockIndex := range state.freeBlocks {
			if blockIndex >= len(state.blocks) {
				return errors.Errorf("memory type %d: free stack references block %d of %d", typeIndex, blockIndex, len(state.blocks))
			}
			onStack[blockIndex] = true
		}

		for blockIndex, block := range state.blocks {
			if err := block.Validate(); err != nil {
				return err
			}
			if block.hasFreeChunks() && !onStack[blockIndex] {
				return errors.Errorf("memory type %d: block %d has free chunks but is not on the free stack", typeIndex, blockIndex)
			}
		}
	}

	return nil
}

