package vulkan

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_timeline_semaphore"
	"github.com/vkngwrapper/fathom/memory"
	"github.com/vkngwrapper/fathom/memutils"
	"github.com/vkngwrapper/fathom/render"
	"golang.org/x/exp/slog"
)

// maxTextureSets bounds how many sampled textures may hold descriptor sets
// at once: the renderer's default texture cap plus the built-in white
// pixel.
const maxTextureSets = 1025

// Device implements render.Device on a Vulkan logical device. Small
// device-local allocations such as texture storage are sub-allocated
// through the page allocator; geometry memory takes dedicated allocations
// because draw lists routinely exceed a page.
type Device struct {
	logger *slog.Logger

	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	queue          core1_0.Queue
	queueFamily    int

	commandPool core1_0.CommandPool
	allocator   *memory.Allocator
	timelines   khr_timeline_semaphore.Extension

	setLayout      core1_0.DescriptorSetLayout
	sampler        core1_0.Sampler
	descriptorPool core1_0.DescriptorPool

	// whiteImage is a 1x1 white texture bound for untextured batches, so
	// the rect pipeline always has a combined image sampler to read.
	whiteImage *textureImage

	nonCoherentAtomSize int
}

// NewDevice wraps device in the renderer's device abstraction. The
// graphics queue family must support both rendering and presentation.
func NewDevice(logger *slog.Logger, physicalDevice core1_0.PhysicalDevice, device core1_0.Device, graphicsFamily int) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to query physical device properties")
	}

	err = memutils.CheckPow2(properties.Limits.NonCoherentAtomSize, "device nonCoherentAtomSize")
	if err != nil {
		return nil, err
	}

	commandPool, _, err := device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: graphicsFamily,
	})
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to create command pool")
	}

	d := &Device{
		logger: logger,

		physicalDevice: physicalDevice,
		device:         device,
		queue:          device.GetQueue(graphicsFamily, 0),
		queueFamily:    graphicsFamily,

		commandPool: commandPool,
		allocator:   memory.NewAllocator(logger, newMemorySource(device, physicalDevice)),
		timelines:   khr_timeline_semaphore.CreateExtensionFromDevice(device),

		nonCoherentAtomSize: properties.Limits.NonCoherentAtomSize,
	}

	err = d.createTextureBindings()
	if err != nil {
		d.destroyTextureBindings()
		commandPool.Destroy(nil)
		return nil, err
	}

	return d, nil
}

func (d *Device) destroyTextureBindings() {
	if d.whiteImage != nil {
		d.whiteImage.Destroy()
		d.whiteImage = nil
	}
	if d.descriptorPool != nil {
		d.descriptorPool.Destroy(nil)
		d.descriptorPool = nil
	}
	if d.sampler != nil {
		d.sampler.Destroy(nil)
		d.sampler = nil
	}
	if d.setLayout != nil {
		d.setLayout.Destroy(nil)
		d.setLayout = nil
	}
}

// createTextureBindings builds the descriptor machinery every sampled
// texture shares: the single-binding set layout the rect pipeline is laid
// out against, the sampler, the pool sets come from, and the white pixel
// untextured batches bind.
func (d *Device) createTextureBindings() error {
	setLayout, _, err := d.device.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageFragment,
			},
		},
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to create texture set layout")
	}
	d.setLayout = setLayout

	d.sampler, _, err = d.device.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		MaxAnisotropy: 1,
		BorderColor:   core1_0.BorderColorIntOpaqueBlack,
		MipmapMode:    core1_0.SamplerMipmapModeLinear,
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to create texture sampler")
	}

	d.descriptorPool, _, err = d.device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		Flags:   core1_0.DescriptorPoolCreateFreeDescriptorSet,
		MaxSets: maxTextureSets,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: maxTextureSets,
			},
		},
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to create texture descriptor pool")
	}

	white, err := d.CreateTextureImage(1, 1)
	if err != nil {
		return cerrors.Wrap(err, "failed to create the white pixel texture")
	}
	d.whiteImage = white.(*textureImage)

	err = d.uploadPixels(d.whiteImage, []byte{0xFF, 0xFF, 0xFF, 0xFF}, nil)
	if err != nil {
		return cerrors.Wrap(err, "failed to upload the white pixel texture")
	}

	return nil
}

// Vk exposes the wrapped logical device.
func (d *Device) Vk() core1_0.Device { return d.device }

// Queue exposes the graphics queue.
func (d *Device) Queue() core1_0.Queue { return d.queue }

// QueueFamily reports the graphics queue family index.
func (d *Device) QueueFamily() int { return d.queueFamily }

func (d *Device) CreateFence(signaled bool) (render.Fence, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags = core1_0.FenceCreateSignaled
	}

	vkFence, _, err := d.device.CreateFence(nil, core1_0.FenceCreateInfo{
		Flags: flags,
	})
	if err != nil {
		return nil, err
	}
	return &fence{device: d.device, fence: vkFence}, nil
}

func (d *Device) CreateSemaphore() (render.Semaphore, error) {
	vkSemaphore, _, err := d.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, err
	}
	return &semaphore{semaphore: vkSemaphore}, nil
}

func (d *Device) CreateTextureImage(width, height int) (render.TextureImage, error) {
	image, _, err := d.device.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Format:    core1_0.FormatR8G8B8A8SRGB,
		Extent: core1_0.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, err
	}

	texture := &textureImage{device: d, image: image, width: width, height: height}

	memRequirements := image.MemoryRequirements()
	err = memutils.CheckPow2(memRequirements.Alignment, "core1_0.MemoryRequirements.Alignment")
	if err != nil {
		image.Destroy(nil)
		return nil, err
	}

	if memRequirements.Size <= memory.PageSize && memRequirements.Alignment <= memory.PageSize {
		allocation, _, err := d.allocator.Allocate(memory.UsageStatic, memRequirements.Size)
		if err != nil {
			image.Destroy(nil)
			return nil, cerrors.Wrap(err, "failed to sub-allocate texture storage")
		}

		err = memutils.CheckAlign(allocation.Offset, uint(memRequirements.Alignment), "texture storage offset")
		if err != nil {
			d.allocator.Deallocate(allocation)
			image.Destroy(nil)
			return nil, err
		}

		_, err = image.BindImageMemory(allocation.Memory.(*deviceMemory).Vk(), allocation.Offset)
		if err != nil {
			d.allocator.Deallocate(allocation)
			image.Destroy(nil)
			return nil, cerrors.Wrap(err, "failed to bind texture storage")
		}
		texture.allocation = allocation
		texture.suballocated = true
	} else {
		typeIndex, err := d.allocator.FindMemoryTypeIndex(memory.UsageStatic)
		if err != nil {
			image.Destroy(nil)
			return nil, err
		}

		dedicated, _, err := d.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
			AllocationSize:  memRequirements.Size,
			MemoryTypeIndex: typeIndex,
		})
		if err != nil {
			image.Destroy(nil)
			return nil, cerrors.Wrap(err, "failed to allocate texture storage")
		}

		_, err = image.BindImageMemory(dedicated, 0)
		if err != nil {
			dedicated.Free(nil)
			image.Destroy(nil)
			return nil, cerrors.Wrap(err, "failed to bind texture storage")
		}
		texture.dedicated = dedicated
	}

	texture.view, _, err = d.device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   core1_0.FormatR8G8B8A8SRGB,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask: core1_0.ImageAspectColor,
			LevelCount: 1,
			LayerCount: 1,
		},
	})
	if err != nil {
		texture.Destroy()
		return nil, cerrors.Wrap(err, "failed to create texture view")
	}

	sets, _, err := d.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: d.descriptorPool,
		SetLayouts:     []core1_0.DescriptorSetLayout{d.setLayout},
	})
	if err != nil {
		texture.Destroy()
		return nil, cerrors.Wrap(err, "failed to allocate texture descriptor set")
	}
	texture.set = sets[0]

	err = d.device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:         texture.set,
			DstBinding:     0,
			DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,
			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					Sampler:     d.sampler,
					ImageView:   texture.view,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			},
		},
	}, nil)
	if err != nil {
		texture.Destroy()
		return nil, cerrors.Wrap(err, "failed to write texture descriptor set")
	}

	return texture, nil
}

func (d *Device) UploadTexturePixels(image render.TextureImage, pixels []byte, sync render.TextureSync) error {
	target := image.(*textureImage)
	if len(pixels) != target.width*target.height*4 {
		return cerrors.Newf("upload of %d bytes does not cover a %dx%d texture", len(pixels), target.width, target.height)
	}
	return d.uploadPixels(target, pixels, &sync)
}

// uploadPixels stages pixels in host-visible memory and transfers them
// into target, transitioning the image to shader-read layout. A nil sync
// submits without texture fencing, which is only safe before the image has
// ever been sampled. The transfer blocks the CPU so the staging memory can
// be returned immediately.
func (d *Device) uploadPixels(target *textureImage, pixels []byte, sync *render.TextureSync) error {
	staging, err := d.newStagingBuffer(pixels)
	if err != nil {
		return err
	}
	defer staging.destroy()

	buffers, _, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to allocate upload command buffer")
	}
	buffer := buffers[0]
	defer d.device.FreeCommandBuffers(buffers)

	_, err = buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to begin upload command buffer")
	}

	err = buffer.CmdPipelineBarrier(core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer, 0, nil, nil,
		[]core1_0.ImageMemoryBarrier{
			{
				OldLayout:           core1_0.ImageLayoutUndefined,
				NewLayout:           core1_0.ImageLayoutTransferDstOptimal,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               target.image,
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask: core1_0.ImageAspectColor,
					LevelCount: 1,
					LayerCount: 1,
				},
				SrcAccessMask: 0,
				DstAccessMask: core1_0.AccessTransferWrite,
			},
		})
	if err != nil {
		return err
	}

	err = buffer.CmdCopyBufferToImage(staging.buffer, target.image, core1_0.ImageLayoutTransferDstOptimal,
		[]core1_0.BufferImageCopy{
			{
				ImageSubresource: core1_0.ImageSubresourceLayers{
					AspectMask: core1_0.ImageAspectColor,
					LayerCount: 1,
				},
				ImageExtent: core1_0.Extent3D{
					Width:  target.width,
					Height: target.height,
					Depth:  1,
				},
			},
		})
	if err != nil {
		return err
	}

	err = buffer.CmdPipelineBarrier(core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, 0, nil, nil,
		[]core1_0.ImageMemoryBarrier{
			{
				OldLayout:           core1_0.ImageLayoutTransferDstOptimal,
				NewLayout:           core1_0.ImageLayoutShaderReadOnlyOptimal,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               target.image,
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask: core1_0.ImageAspectColor,
					LevelCount: 1,
					LayerCount: 1,
				},
				SrcAccessMask: core1_0.AccessTransferWrite,
				DstAccessMask: core1_0.AccessShaderRead,
			},
		})
	if err != nil {
		return err
	}

	_, err = buffer.End()
	if err != nil {
		return cerrors.Wrap(err, "failed to end upload command buffer")
	}

	uploadFence, _, err := d.device.CreateFence(nil, core1_0.FenceCreateInfo{})
	if err != nil {
		return cerrors.Wrap(err, "failed to create upload fence")
	}
	defer uploadFence.Destroy(nil)

	submit := core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{buffer},
	}
	if sync != nil {
		waitSemaphores := make([]core1_0.Semaphore, 0, len(sync.Waits))
		waitValues := make([]uint64, 0, len(sync.Waits))
		waitStages := make([]core1_0.PipelineStageFlags, 0, len(sync.Waits))
		for _, wait := range sync.Waits {
			waitSemaphores = append(waitSemaphores, wait.Semaphore.(*timelineSemaphore).semaphore)
			waitValues = append(waitValues, wait.Value)
			waitStages = append(waitStages, core1_0.PipelineStageTransfer)
		}

		submit.WaitSemaphores = waitSemaphores
		submit.WaitDstStageMask = waitStages
		submit.SignalSemaphores = []core1_0.Semaphore{sync.Signal.(*timelineSemaphore).semaphore}
		submit.NextOptions = common.NextOptions{
			Next: khr_timeline_semaphore.TimelineSemaphoreSubmitInfo{
				WaitSemaphoreValues:   waitValues,
				SignalSemaphoreValues: []uint64{sync.SignalValue},
			},
		}
	}

	_, err = d.queue.Submit(uploadFence, []core1_0.SubmitInfo{submit})
	if err != nil {
		return cerrors.Wrap(err, "failed to submit texture upload")
	}

	_, err = uploadFence.Wait(common.NoTimeout)
	return err
}

func (d *Device) CreateGeometryMemory(size int) (render.GeometryMemory, error) {
	buffer, _, err := d.device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageIndexBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, err
	}

	memRequirements := buffer.MemoryRequirements()
	typeIndex, err := d.allocator.FindMemoryTypeIndex(memory.UsageDynamic)
	if err != nil {
		buffer.Destroy(nil)
		return nil, err
	}

	// Geometry regrows to a draw list's exact size, which routinely
	// exceeds a page, so it bypasses the page allocator.
	vkMemory, _, err := d.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: typeIndex,
	})
	if err != nil {
		buffer.Destroy(nil)
		return nil, cerrors.Wrapf(err, "failed to allocate %d bytes of geometry memory", size)
	}

	_, err = buffer.BindBufferMemory(vkMemory, 0)
	if err != nil {
		vkMemory.Free(nil)
		buffer.Destroy(nil)
		return nil, cerrors.Wrap(err, "failed to bind geometry memory")
	}

	mappedPtr, _, err := vkMemory.Map(0, size, 0)
	if err != nil {
		vkMemory.Free(nil)
		buffer.Destroy(nil)
		return nil, cerrors.Wrap(err, "failed to map geometry memory")
	}

	return &geometryMemory{
		buffer: buffer,
		memory: vkMemory,
		mapped: unsafe.Slice((*byte)(mappedPtr), size),
	}, nil
}

func (d *Device) CreateCommandRecorder() (render.CommandRecorder, error) {
	buffers, _, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, err
	}

	return &commandRecorder{device: d, buffer: buffers[0]}, nil
}

func (d *Device) NonCoherentAtomSize() int { return d.nonCoherentAtomSize }

func (d *Device) WaitIdle() error {
	_, err := d.device.WaitIdle()
	return err
}

// BuildMemoryStatsString assembles a JSON snapshot of the page allocator
// for diagnostics.
func (d *Device) BuildMemoryStatsString() string {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	d.allocator.PrintJson(&obj)
	obj.End()

	return string(writer.Bytes())
}

// Destroy releases the device's texture bindings, command pool, and page
// allocator. The logical device itself belongs to the caller who created
// it.
func (d *Device) Destroy() error {
	d.destroyTextureBindings()
	err := d.allocator.Destroy()
	d.commandPool.Destroy(nil)
	return err
}

type fence struct {
	device core1_0.Device
	fence  core1_0.Fence
}

func (f *fence) Wait() error {
	_, err := f.fence.Wait(common.NoTimeout)
	return err
}

func (f *fence) Reset() error {
	_, err := f.device.ResetFences([]core1_0.Fence{f.fence})
	return err
}

func (f *fence) Destroy() {
	f.fence.Destroy(nil)
}

type semaphore struct {
	semaphore core1_0.Semaphore
}

func (s *semaphore) Destroy() {
	s.semaphore.Destroy(nil)
}

type textureImage struct {
	device *Device

	image core1_0.Image
	view  core1_0.ImageView
	set   core1_0.DescriptorSet

	width  int
	height int

	suballocated bool
	allocation   memory.Allocation
	dedicated    core1_0.DeviceMemory
}

func (t *textureImage) Destroy() {
	if t.set != nil {
		_, _ = t.device.device.FreeDescriptorSets([]core1_0.DescriptorSet{t.set})
		t.set = nil
	}
	if t.view != nil {
		t.view.Destroy(nil)
	}
	t.image.Destroy(nil)

	if t.suballocated {
		t.device.allocator.Deallocate(t.allocation)
	} else if t.dedicated != nil {
		t.dedicated.Free(nil)
	}
}

// stagingBuffer is transient host-visible memory for one pixel upload.
// Uploads no larger than a page go through the allocator's staging class;
// anything bigger takes a dedicated allocation.
type stagingBuffer struct {
	device *Device
	buffer core1_0.Buffer

	suballocated bool
	allocation   memory.Allocation
	dedicated    core1_0.DeviceMemory
}

func (d *Device) newStagingBuffer(pixels []byte) (*stagingBuffer, error) {
	buffer, _, err := d.device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        len(pixels),
		Usage:       core1_0.BufferUsageTransferSrc,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to create staging buffer")
	}

	staging := &stagingBuffer{device: d, buffer: buffer}

	memRequirements := buffer.MemoryRequirements()
	if memRequirements.Size <= memory.PageSize && memRequirements.Alignment <= memory.PageSize {
		allocation, _, err := d.allocator.Allocate(memory.UsageOnce, memRequirements.Size)
		if err != nil {
			buffer.Destroy(nil)
			return nil, cerrors.Wrap(err, "failed to sub-allocate staging memory")
		}

		_, err = buffer.BindBufferMemory(allocation.Memory.(*deviceMemory).Vk(), allocation.Offset)
		if err != nil {
			d.allocator.Deallocate(allocation)
			buffer.Destroy(nil)
			return nil, cerrors.Wrap(err, "failed to bind staging memory")
		}
		staging.suballocated = true
		staging.allocation = allocation

		ptr, _, err := allocation.Memory.Map()
		if err != nil {
			staging.destroy()
			return nil, cerrors.Wrap(err, "failed to map staging memory")
		}
		copy(unsafe.Slice((*byte)(unsafe.Add(ptr, allocation.Offset)), len(pixels)), pixels)
		return staging, nil
	}

	typeIndex, err := d.allocator.FindMemoryTypeIndex(memory.UsageOnce)
	if err != nil {
		buffer.Destroy(nil)
		return nil, err
	}

	dedicated, _, err := d.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: typeIndex,
	})
	if err != nil {
		buffer.Destroy(nil)
		return nil, cerrors.Wrap(err, "failed to allocate staging memory")
	}
	staging.dedicated = dedicated

	_, err = buffer.BindBufferMemory(dedicated, 0)
	if err != nil {
		staging.destroy()
		return nil, cerrors.Wrap(err, "failed to bind staging memory")
	}

	// Staging memory comes from a host-coherent type, so the write needs
	// no explicit flush.
	ptr, _, err := dedicated.Map(0, len(pixels), 0)
	if err != nil {
		staging.destroy()
		return nil, cerrors.Wrap(err, "failed to map staging memory")
	}
	copy(unsafe.Slice((*byte)(ptr), len(pixels)), pixels)
	dedicated.Unmap()

	return staging, nil
}

func (s *stagingBuffer) destroy() {
	s.buffer.Destroy(nil)
	if s.suballocated {
		s.device.allocator.Deallocate(s.allocation)
	} else if s.dedicated != nil {
		s.dedicated.Free(nil)
	}
}

type geometryMemory struct {
	buffer core1_0.Buffer
	memory core1_0.DeviceMemory
	mapped []byte
}

func (m *geometryMemory) Size() int     { return len(m.mapped) }
func (m *geometryMemory) Bytes() []byte { return m.mapped }

func (m *geometryMemory) Flush(offset, size int) error {
	// Geometry memory comes from a host-coherent type, so host writes are
	// visible to the device without an explicit flush.
	return nil
}

func (m *geometryMemory) Destroy() {
	m.memory.Unmap()
	m.buffer.Destroy(nil)
	m.memory.Free(nil)
}

type commandRecorder struct {
	device *Device
	buffer core1_0.CommandBuffer
}

func (r *commandRecorder) Record(target render.FrameTarget, geometry *render.GeometryBuffer, list *render.DrawList) error {
	frame := target.(*frameTarget)

	_, err := r.buffer.Reset(0)
	if err != nil {
		return err
	}

	_, err = r.buffer.Begin(core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return err
	}

	width, height := frame.Extent()
	err = r.buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  frame.renderPass(),
			Framebuffer: frame.framebuffer,
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: core1_0.Extent2D{Width: width, Height: height},
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{0, 0, 0, 1},
			},
		})
	if err != nil {
		return err
	}

	if geometry.IndexCount() > 0 {
		buffer := geometry.Memory().(*geometryMemory).buffer

		viewport := &bytes.Buffer{}
		err = binary.Write(viewport, common.ByteOrder, [2]float32{float32(width), float32(height)})
		if err != nil {
			return err
		}

		r.buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, frame.pipeline())
		r.buffer.CmdPushConstants(frame.pipelineLayout(), core1_0.StageVertex, 0, viewport.Bytes())
		r.buffer.CmdBindVertexBuffers(0, []core1_0.Buffer{buffer}, []int{0})
		r.buffer.CmdBindIndexBuffer(buffer, geometry.IndexOffset(), core1_0.IndexTypeUInt16)

		for _, batch := range list.Batches() {
			set := r.device.whiteImage.set
			if batch.Texture != nil {
				set = batch.Texture.Image().(*textureImage).set
			}
			r.buffer.CmdBindDescriptorSets(core1_0.PipelineBindPointGraphics, frame.pipelineLayout(), 0,
				[]core1_0.DescriptorSet{set}, nil)
			r.buffer.CmdDrawIndexed(batch.IndexCount, 1, batch.FirstIndex, 0, 0)
		}
	}

	r.buffer.CmdEndRenderPass()

	_, err = r.buffer.End()
	return err
}

func (r *commandRecorder) Submit(wait render.Semaphore, signal render.Semaphore, reads []render.TextureSync, submitFence render.Fence) error {
	submit := core1_0.SubmitInfo{
		WaitSemaphores:   []core1_0.Semaphore{wait.(*semaphore).semaphore},
		WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
		CommandBuffers:   []core1_0.CommandBuffer{r.buffer},
		SignalSemaphores: []core1_0.Semaphore{signal.(*semaphore).semaphore},
	}

	if len(reads) > 0 {
		// Binary semaphores and timeline semaphores share the wait and
		// signal lists; the value slices carry a zero for each binary
		// entry.
		waitValues := []uint64{0}
		for _, read := range reads {
			for _, readWait := range read.Waits {
				submit.WaitSemaphores = append(submit.WaitSemaphores, readWait.Semaphore.(*timelineSemaphore).semaphore)
				submit.WaitDstStageMask = append(submit.WaitDstStageMask, core1_0.PipelineStageFragmentShader)
				waitValues = append(waitValues, readWait.Value)
			}
		}

		signalValues := []uint64{0}
		for _, read := range reads {
			submit.SignalSemaphores = append(submit.SignalSemaphores, read.Signal.(*timelineSemaphore).semaphore)
			signalValues = append(signalValues, read.SignalValue)
		}

		submit.NextOptions = common.NextOptions{
			Next: khr_timeline_semaphore.TimelineSemaphoreSubmitInfo{
				WaitSemaphoreValues:   waitValues,
				SignalSemaphoreValues: signalValues,
			},
		}
	}

	_, err := r.device.queue.Submit(submitFence.(*fence).fence, []core1_0.SubmitInfo{submit})
	return err
}

func (r *commandRecorder) Destroy() {
	r.device.device.FreeCommandBuffers([]core1_0.CommandBuffer{r.buffer})
}
