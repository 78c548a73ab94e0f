package memory

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// DeviceMemory represents one raw memory block obtained from the device. The
// allocator subdivides these into pages; it never maps or frees them behind
// the owner's back.
type DeviceMemory interface {
	// Map exposes the block's contents to the CPU. Only valid for blocks
	// allocated from a host-visible memory type. The mapping is persistent-
	// the allocator maps a block at most once and reuses the pointer.
	Map() (unsafe.Pointer, common.VkResult, error)
	// Unmap releases the mapping established by Map.
	Unmap()
}

// DeviceMemorySource is the allocator's window onto the device. The
// production implementation wraps a Vulkan device; tests substitute an
// in-memory fake.
type DeviceMemorySource interface {
	// MemoryTypes returns the device's memory types in Vulkan order. The
	// index of a type within this slice is the typeIndex used by
	// AllocateMemory.
	MemoryTypes() []core1_0.MemoryType
	// AllocateMemory obtains a raw block of size bytes from the given memory
	// type. A failed allocation must return the driver's VkResult so the
	// caller can distinguish out-of-memory from other failures.
	AllocateMemory(typeIndex int, size int) (DeviceMemory, common.VkResult, error)
	// FreeMemory returns a block to the device. The block must not be mapped.
	FreeMemory(memory DeviceMemory)
}
