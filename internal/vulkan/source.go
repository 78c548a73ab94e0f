package vulkan

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/fathom/memory"
)

// deviceMemory adapts one core1_0.DeviceMemory block to the allocator's
// view of raw memory. The mapping is established once and reused, per the
// DeviceMemory contract.
type deviceMemory struct {
	memory core1_0.DeviceMemory
	size   int
	mapped unsafe.Pointer
}

func (m *deviceMemory) Map() (unsafe.Pointer, common.VkResult, error) {
	if m.mapped != nil {
		return m.mapped, core1_0.VKSuccess, nil
	}

	ptr, res, err := m.memory.Map(0, m.size, 0)
	if err != nil {
		return nil, res, err
	}
	m.mapped = ptr
	return ptr, res, nil
}

func (m *deviceMemory) Unmap() {
	if m.mapped == nil {
		return
	}
	m.memory.Unmap()
	m.mapped = nil
}

// Vk exposes the underlying Vulkan memory for binding images and buffers.
func (m *deviceMemory) Vk() core1_0.DeviceMemory {
	return m.memory
}

// memorySource feeds the page allocator from a Vulkan logical device.
type memorySource struct {
	device      core1_0.Device
	memoryTypes []core1_0.MemoryType
}

func newMemorySource(device core1_0.Device, physicalDevice core1_0.PhysicalDevice) *memorySource {
	memoryProperties := physicalDevice.MemoryProperties()
	return &memorySource{
		device:      device,
		memoryTypes: memoryProperties.MemoryTypes,
	}
}

func (s *memorySource) MemoryTypes() []core1_0.MemoryType {
	return s.memoryTypes
}

func (s *memorySource) AllocateMemory(typeIndex int, size int) (memory.DeviceMemory, common.VkResult, error) {
	vkMemory, res, err := s.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: typeIndex,
	})
	if err != nil {
		return nil, res, err
	}

	return &deviceMemory{memory: vkMemory, size: size}, res, nil
}

func (s *memorySource) FreeMemory(block memory.DeviceMemory) {
	block.(*deviceMemory).memory.Free(nil)
}
