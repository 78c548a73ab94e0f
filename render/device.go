package render

// Device abstracts the graphics device capabilities the renderer needs:
// synchronization primitive creation, host-visible geometry memory, and
// command recording. Production code backs this with a Vulkan logical
// device; tests provide lightweight fakes.
//
// All Create* methods hand ownership of the returned object to the caller,
// who must eventually call its Destroy method.
type Device interface {
	// CreateFence creates a fence used to throttle CPU frame submission.
	// When signaled is true, the first Wait call returns immediately,
	// which is the state a frame slot needs before its first use.
	CreateFence(signaled bool) (Fence, error)
	// CreateSemaphore creates a binary semaphore for ordering GPU work
	// within a single frame, such as acquire-before-draw and
	// draw-before-present.
	CreateSemaphore() (Semaphore, error)
	// CreateTimelineSemaphore creates a monotonically increasing counter
	// semaphore starting at initialValue. Timeline semaphores outlive any
	// single submission, which makes them suitable for tracking whether a
	// long-lived resource still has GPU work pending against it.
	CreateTimelineSemaphore(initialValue uint64) (TimelineSemaphore, error)
	// CreateTextureImage allocates device-side pixel storage for a
	// width x height texture.
	CreateTextureImage(width, height int) (TextureImage, error)
	// UploadTexturePixels transfers tightly packed RGBA8 pixels covering
	// image's full extent. The transfer performs the synchronization
	// described by sync: it waits out sync.Waits before touching the
	// image and signals sync.Signal when the pixels are in place.
	UploadTexturePixels(image TextureImage, pixels []byte, sync TextureSync) error
	// CreateGeometryMemory allocates size bytes of host-visible,
	// persistently mapped memory suitable for vertex and index data.
	CreateGeometryMemory(size int) (GeometryMemory, error)
	// CreateCommandRecorder creates a recorder that can encode and submit
	// one frame's draw commands. Each frame slot owns its own recorder so
	// that recording for frame N+1 never disturbs the commands frame N is
	// still executing.
	CreateCommandRecorder() (CommandRecorder, error)
	// NonCoherentAtomSize reports the alignment required between mapped
	// memory ranges that are flushed independently.
	NonCoherentAtomSize() int
	// WaitIdle blocks until the device has finished all submitted work.
	WaitIdle() error
}

// Fence is a CPU-waitable, one-shot synchronization primitive. It moves to
// the signaled state when the GPU work submitted with it completes, and
// must be explicitly Reset before it can be submitted again.
type Fence interface {
	// Wait blocks until the fence is signaled.
	Wait() error
	// Reset returns the fence to the unsignaled state. Resetting a fence
	// that GPU work is still pending against is a protocol violation, so
	// callers always Wait first.
	Reset() error
	Destroy()
}

// Semaphore is an opaque GPU-to-GPU ordering primitive. The renderer never
// inspects its state from the CPU.
type Semaphore interface {
	Destroy()
}

// TimelineSemaphore is a semaphore with a 64-bit monotonically increasing
// payload. GPU submissions signal it to a target value and the CPU can
// query or wait on that value without blocking other users of the
// semaphore.
type TimelineSemaphore interface {
	// Counter reports the semaphore's current value.
	Counter() (uint64, error)
	// Wait blocks until the counter reaches at least value.
	Wait(value uint64) error
	// Signal sets the counter to value from the CPU. The value must be
	// greater than the current counter.
	Signal(value uint64) error
	Destroy()
}

// TextureImage is the device-side pixel storage behind a Texture. The
// Texture that owns it tracks all synchronization; the image itself is
// opaque to the renderer.
type TextureImage interface {
	Destroy()
}

// GeometryMemory is a persistently mapped, host-visible memory region that
// backs a GeometryBuffer. Writes go through Bytes and must be flushed
// before the GPU reads them.
type GeometryMemory interface {
	// Size reports the capacity of the region in bytes.
	Size() int
	// Bytes exposes the mapped region. The slice stays valid until
	// Destroy is called.
	Bytes() []byte
	// Flush makes host writes in [offset, offset+size) visible to the
	// device. Offset and size must be aligned to the device's
	// non-coherent atom size, except that size may extend to the end of
	// the region.
	Flush(offset, size int) error
	Destroy()
}

// PresentTarget is the presentable image chain for one window. Production
// code backs this with a Vulkan swapchain.
type PresentTarget interface {
	// ImageCount reports how many presentable images the target owns.
	ImageCount() int
	// ImageID reports a stable identity for the image at index. Identities
	// survive a resize when the underlying image does, which lets the
	// Swapchain reuse per-image resources across recreation.
	ImageID(index int) uint64
	// Extent reports the current pixel size of the target's images.
	Extent() (width, height int)
	// AcquireNextImage acquires the next presentable image, arranging for
	// signal to be signaled when the image is ready to be rendered to. It
	// returns SwapchainOutOfDateError when the target no longer matches
	// its surface.
	AcquireNextImage(signal Semaphore) (int, error)
	// Present queues the image at imageIndex for presentation after wait
	// is signaled. It returns SwapchainOutOfDateError when the target no
	// longer matches its surface.
	Present(imageIndex int, wait Semaphore) error
	// Resize recreates the target's images at the given size. Per-image
	// resources held by the caller are invalidated only for images whose
	// ImageID disappears.
	Resize(width, height int) error
	Destroy()
}

// FrameTarget is the per-image render destination: in production, a
// framebuffer plus the image view it wraps.
type FrameTarget interface {
	// ImageID reports the identity of the presentable image this target
	// renders to, matching PresentTarget.ImageID.
	ImageID() uint64
	// Extent reports the pixel size the target was created at.
	Extent() (width, height int)
	Destroy()
}

// FrameTargetFactory creates FrameTargets for a PresentTarget's images.
// It is separate from Device because target creation depends on window
// state (render pass compatibility, surface format) that the device alone
// does not know.
type FrameTargetFactory interface {
	CreateFrameTarget(target PresentTarget, imageIndex int) (FrameTarget, error)
}

// CommandRecorder encodes and submits one frame's draw commands. A
// recorder may be reused once the fence passed to its last Submit has been
// waited on.
type CommandRecorder interface {
	// Record encodes commands that draw list's geometry, already uploaded
	// to geometry, into target.
	Record(target FrameTarget, geometry *GeometryBuffer, list *DrawList) error
	// Submit submits the recorded commands. Execution waits for wait and
	// for every wait carried by reads, signals signal and each read's
	// signal when rendering completes, and signals fence when the whole
	// submission completes. The reads are the fencing for the textures
	// the recorded commands sample.
	Submit(wait Semaphore, signal Semaphore, reads []TextureSync, fence Fence) error
	Destroy()
}
