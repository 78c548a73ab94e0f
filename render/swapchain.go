package render

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// FramesInFlight is the number of frames the CPU may record ahead of the
// GPU. Two keeps the CPU busy while the GPU draws without adding more than
// one frame of latency.
const FramesInFlight = 2

// frameSlot holds the per-frame resources that must not be touched while
// a previous use of the slot is still executing on the GPU. The slot's
// fence guards reuse: it is signaled when the slot's last submission
// completes.
type frameSlot struct {
	fence    Fence
	acquire  Semaphore
	present  Semaphore
	recorder CommandRecorder
	geometry *GeometryBuffer
}

func (s *frameSlot) destroy() {
	s.geometry.Destroy()
	s.recorder.Destroy()
	s.present.Destroy()
	s.acquire.Destroy()
	s.fence.Destroy()
}

// Swapchain drives the per-window frame loop. Each frame runs the same
// three-step protocol: GetNextImage acquires a presentable image, Draw
// submits commands targeting it, and Present queues it for display.
// Calling the steps out of order is a programming error and panics.
//
// GetNextImage and Present surface SwapchainOutOfDateError when the
// window's surface has changed size. The caller resizes the window's
// swapchain with Resize and retries the acquire; no frame resources are
// lost in the process.
type Swapchain struct {
	logger  *slog.Logger
	device  Device
	target  PresentTarget
	factory FrameTargetFactory

	frames  [FramesInFlight]*frameSlot
	targets []FrameTarget

	frameID uint64
	// currentImage is the acquired image index, or -1 between frames.
	currentImage int
}

// NewSwapchain wraps target in a frame-paced swapchain. The swapchain
// takes ownership of target and destroys it when it is itself destroyed.
func NewSwapchain(device Device, target PresentTarget, factory FrameTargetFactory, logger *slog.Logger) (*Swapchain, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Swapchain{
		logger:       logger,
		device:       device,
		target:       target,
		factory:      factory,
		currentImage: -1,
	}

	for i := 0; i < FramesInFlight; i++ {
		slot, err := s.createFrameSlot()
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.frames[i] = slot
	}

	s.targets = make([]FrameTarget, target.ImageCount())
	for i := 0; i < target.ImageCount(); i++ {
		frameTarget, err := factory.CreateFrameTarget(target, i)
		if err != nil {
			s.Destroy()
			return nil, cerrors.Wrapf(err, "failed to create frame target for image %d", i)
		}
		s.targets[i] = frameTarget
	}

	return s, nil
}

func (s *Swapchain) createFrameSlot() (*frameSlot, error) {
	fence, err := s.device.CreateFence(true)
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to create frame fence")
	}

	acquire, err := s.device.CreateSemaphore()
	if err != nil {
		fence.Destroy()
		return nil, cerrors.Wrap(err, "failed to create acquire semaphore")
	}

	present, err := s.device.CreateSemaphore()
	if err != nil {
		acquire.Destroy()
		fence.Destroy()
		return nil, cerrors.Wrap(err, "failed to create present semaphore")
	}

	recorder, err := s.device.CreateCommandRecorder()
	if err != nil {
		present.Destroy()
		acquire.Destroy()
		fence.Destroy()
		return nil, cerrors.Wrap(err, "failed to create frame command recorder")
	}

	return &frameSlot{
		fence:    fence,
		acquire:  acquire,
		present:  present,
		recorder: recorder,
		geometry: NewGeometryBuffer(s.device, s.logger),
	}, nil
}

func (s *Swapchain) currentSlot() *frameSlot {
	return s.frames[s.frameID%FramesInFlight]
}

// GetNextImage begins a frame: it blocks until the frame slot's previous
// submission has completed, then acquires the next presentable image.
//
// On SwapchainOutOfDateError no image is acquired and the slot's fence is
// left signaled, so the caller can Resize and call GetNextImage again.
func (s *Swapchain) GetNextImage() error {
	if s.currentImage >= 0 {
		panic("render: GetNextImage called with an image already acquired")
	}

	slot := s.currentSlot()
	err := slot.fence.Wait()
	if err != nil {
		return cerrors.Wrap(err, "failed to wait for frame fence")
	}

	imageIndex, err := s.target.AcquireNextImage(slot.acquire)
	if err != nil {
		return err
	}

	// The fence is reset only once the acquire succeeds. Resetting before
	// a failed acquire would leave the slot unsignaled with no submission
	// to signal it, deadlocking the retry.
	err = slot.fence.Reset()
	if err != nil {
		return cerrors.Wrap(err, "failed to reset frame fence")
	}

	s.currentImage = imageIndex
	return nil
}

// Draw uploads list's geometry, registers a read against every texture
// the list samples, and submits commands drawing it into the acquired
// image. It must be called between GetNextImage and Present.
func (s *Swapchain) Draw(list *DrawList) error {
	if s.currentImage < 0 {
		panic("render: Draw called with no image acquired")
	}

	slot := s.currentSlot()
	err := slot.geometry.Copy(list)
	if err != nil {
		return err
	}

	err = slot.recorder.Record(s.targets[s.currentImage], slot.geometry, list)
	if err != nil {
		return cerrors.Wrap(err, "failed to record frame commands")
	}

	// One read registration per distinct texture, however many batches
	// sample it.
	var reads []TextureSync
	seen := make(map[*Texture]bool)
	for _, batch := range list.Batches() {
		if batch.Texture == nil || seen[batch.Texture] {
			continue
		}
		seen[batch.Texture] = true
		reads = append(reads, batch.Texture.BeginRead())
	}

	return slot.recorder.Submit(slot.acquire, slot.present, reads, slot.fence)
}

// Present queues the acquired image for display and ends the frame. The
// frame is considered ended even when presentation reports
/// SwapchainOutOfDateError: the submission already happened, so the caller
// only needs to Resize before the next GetNextImage.
func (s *Swapchain) Present() error {
	if s.currentImage < 0 {
		panic("render: Present called with no image acquired")
	}

	slot := s.currentSlot()
	imageIndex := s.currentImage

	s.currentImage = -1
	s.frameID++

	return s.target.Present(imageIndex, slot.present)
}

// Resize recreates the presentable images at the new size and reconciles
// the per-image frame targets: targets whose image survived the resize at
// an unchanged extent are kept, targets for vanished or resized images
// are destroyed, and targets for new images are created.
func (s *Swapchain) Resize(width, height int) error {
	if s.currentImage >= 0 {
		panic("render: Resize called with an image acquired")
	}

	s.logger.Debug("Swapchain::Resize",
		slog.Int("width", width),
		slog.Int("height", height),
	)

	// Frame targets may still be referenced by in-flight submissions.
	for _, slot := range s.frames {
		if slot == nil {
			continue
		}
		err := slot.fence.Wait()
		if err != nil {
			return cerrors.Wrap(err, "failed to drain in-flight frames before resize")
		}
	}

	err := s.target.Resize(width, height)
	if err != nil {
		return cerrors.Wrap(err, "failed to resize present target")
	}

	surviving := make(map[uint64]FrameTarget, len(s.targets))
	for _, frameTarget := range s.targets {
		surviving[frameTarget.ImageID()] = frameTarget
	}

	newWidth, newHeight := s.target.Extent()
	newTargets := make([]FrameTarget, s.target.ImageCount())
	for i := range newTargets {
		id := s.target.ImageID(i)

		existing, ok := surviving[id]
		if ok {
			oldWidth, oldHeight := existing.Extent()
			if oldWidth == newWidth && oldHeight == newHeight {
				newTargets[i] = existing
				delete(surviving, id)
				continue
			}
		}

		newTargets[i], err = s.factory.CreateFrameTarget(s.target, i)
		if err != nil {
			return cerrors.Wrapf(err, "failed to create frame target for image %d", i)
		}
	}

	for _, stale := range surviving {
		stale.Destroy()
	}
	s.targets = newTargets

	return nil
}

// Destroy drains all in-flight frames and releases the swapchain's
// resources, including the wrapped PresentTarget.
func (s *Swapchain) Destroy() {
	for _, slot := range s.frames {
		if slot == nil {
			continue
		}
		_ = slot.fence.Wait()
	}

	for _, frameTarget := range s.targets {
		frameTarget.Destroy()
	}
	s.targets = nil

	for i, slot := range s.frames {
		if slot == nil {
			continue
		}
		slot.destroy()
		s.frames[i] = nil
	}

	s.target.Destroy()
}
