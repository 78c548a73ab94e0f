package render_test

import (
	"fmt"

	"github.com/vkngwrapper/fathom/render"
)

// opLog records the order of synchronization operations so that tests can
// assert on protocol ordering, not just on end state.
type opLog struct {
	ops []string
}

func (l *opLog) record(format string, args ...any) {
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
}

type fakeFence struct {
	log      *opLog
	id       int
	signaled bool
	destroyed bool
}

func (f *fakeFence) Wait() error {
	f.log.record("fence[%d].Wait", f.id)
	if !f.signaled {
		return fmt.Errorf("fence %d waited while unsignaled with no pending submission", f.id)
	}
	return nil
}

func (f *fakeFence) Reset() error {
	f.log.record("fence[%d].Reset", f.id)
	f.signaled = false
	return nil
}

func (f *fakeFence) Destroy() { f.destroyed = true }

type fakeSemaphore struct {
	id        int
	destroyed bool
}

func (s *fakeSemaphore) Destroy() { s.destroyed = true }

type fakeTimelineSemaphore struct {
	value     uint64
	waits     []uint64
	destroyed bool

	// counterErr makes Counter fail, modeling a lost device.
	counterErr error
}

func (s *fakeTimelineSemaphore) Counter() (uint64, error) {
	if s.counterErr != nil {
		return 0, s.counterErr
	}
	return s.value, nil
}

func (s *fakeTimelineSemaphore) Wait(value uint64) error {
	s.waits = append(s.waits, value)
	// Waiting implies the pending GPU work completes.
	if value > s.value {
		s.value = value
	}
	return nil
}

func (s *fakeTimelineSemaphore) Signal(value uint64) error {
	s.value = value
	return nil
}

func (s *fakeTimelineSemaphore) Destroy() { s.destroyed = true }

type fakeTextureImage struct {
	width, height int
	pixels        []byte
	uploads       int
	destroyed     bool
}

func (i *fakeTextureImage) Destroy() { i.destroyed = true }

type fakeGeometryMemory struct {
	data      []byte
	flushes   int
	destroyed bool
}

func (m *fakeGeometryMemory) Size() int     { return len(m.data) }
func (m *fakeGeometryMemory) Bytes() []byte { return m.data }

func (m *fakeGeometryMemory) Flush(offset, size int) error {
	m.flushes++
	return nil
}

func (m *fakeGeometryMemory) Destroy() { m.destroyed = true }

type fakeRecorder struct {
	log       *opLog
	id        int
	records   int
	submits   int
	destroyed bool

	lastGeometry *render.GeometryBuffer
	lastTarget   render.FrameTarget
	lastReads    []render.TextureSync
}

func (r *fakeRecorder) Record(target render.FrameTarget, geometry *render.GeometryBuffer, list *render.DrawList) error {
	r.log.record("recorder[%d].Record", r.id)
	r.records++
	r.lastTarget = target
	r.lastGeometry = geometry
	return nil
}

func (r *fakeRecorder) Submit(wait render.Semaphore, signal render.Semaphore, reads []render.TextureSync, fence render.Fence) error {
	r.log.record("recorder[%d].Submit", r.id)
	r.submits++
	r.lastReads = reads
	// The fake "GPU" completes submissions instantly.
	for _, read := range reads {
		for _, readWait := range read.Waits {
			if err := readWait.Semaphore.Wait(readWait.Value); err != nil {
				return err
			}
		}
		if err := read.Signal.Signal(read.SignalValue); err != nil {
			return err
		}
	}
	fence.(*fakeFence).signaled = true
	return nil
}

func (r *fakeRecorder) Destroy() { r.destroyed = true }

type fakeDevice struct {
	log *opLog

	atomSize int

	fences     []*fakeFence
	semaphores []*fakeSemaphore
	timelines  []*fakeTimelineSemaphore
	images     []*fakeTextureImage
	memories   []*fakeGeometryMemory
	recorders  []*fakeRecorder

	geometryErr error
	uploadErr   error
	waitIdles   int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		log:      &opLog{},
		atomSize: 64,
	}
}

func (d *fakeDevice) CreateFence(signaled bool) (render.Fence, error) {
	fence := &fakeFence{log: d.log, id: len(d.fences), signaled: signaled}
	d.fences = append(d.fences, fence)
	return fence, nil
}

func (d *fakeDevice) CreateSemaphore() (render.Semaphore, error) {
	semaphore := &fakeSemaphore{id: len(d.semaphores)}
	d.semaphores = append(d.semaphores, semaphore)
	return semaphore, nil
}

func (d *fakeDevice) CreateTimelineSemaphore(initialValue uint64) (render.TimelineSemaphore, error) {
	timeline := &fakeTimelineSemaphore{value: initialValue}
	d.timelines = append(d.timelines, timeline)
	return timeline, nil
}

func (d *fakeDevice) CreateTextureImage(width, height int) (render.TextureImage, error) {
	image := &fakeTextureImage{width: width, height: height}
	d.images = append(d.images, image)
	return image, nil
}

func (d *fakeDevice) UploadTexturePixels(image render.TextureImage, pixels []byte, sync render.TextureSync) error {
	if d.uploadErr != nil {
		return d.uploadErr
	}

	// The fake "GPU" transfers instantly.
	for _, wait := range sync.Waits {
		if err := wait.Semaphore.Wait(wait.Value); err != nil {
			return err
		}
	}

	fakeImage := image.(*fakeTextureImage)
	fakeImage.pixels = append(fakeImage.pixels[:0], pixels...)
	fakeImage.uploads++

	return sync.Signal.Signal(sync.SignalValue)
}

func (d *fakeDevice) CreateGeometryMemory(size int) (render.GeometryMemory, error) {
	if d.geometryErr != nil {
		return nil, d.geometryErr
	}
	memory := &fakeGeometryMemory{data: make([]byte, size)}
	d.memories = append(d.memories, memory)
	return memory, nil
}

func (d *fakeDevice) CreateCommandRecorder() (render.CommandRecorder, error) {
	recorder := &fakeRecorder{log: d.log, id: len(d.recorders)}
	d.recorders = append(d.recorders, recorder)
	return recorder, nil
}

func (d *fakeDevice) NonCoherentAtomSize() int { return d.atomSize }

func (d *fakeDevice) WaitIdle() error {
	d.waitIdles++
	return nil
}

type fakePresentTarget struct {
	log *opLog

	width, height int
	imageIDs      []uint64
	nextImageID   uint64
	nextImage     int

	// failAcquires and failPresents make the next N calls report the
	// target as out of date.
	failAcquires int
	failPresents int

	// retainImagesOnResize keeps the image identities across Resize,
	// modeling a driver that reuses the swapchain's images.
	retainImagesOnResize bool

	acquires  int
	presents  []int
	resizes   int
	destroyed bool
}

func newFakePresentTarget(imageCount, width, height int) *fakePresentTarget {
	target := &fakePresentTarget{
		log:    &opLog{},
		width:  width,
		height: height,
	}
	target.replaceImages(imageCount)
	return target
}

func (t *fakePresentTarget) replaceImages(imageCount int) {
	t.imageIDs = make([]uint64, imageCount)
	for i := range t.imageIDs {
		t.nextImageID++
		t.imageIDs[i] = t.nextImageID
	}
	t.nextImage = 0
}

func (t *fakePresentTarget) ImageCount() int { return len(t.imageIDs) }

func (t *fakePresentTarget) ImageID(index int) uint64 { return t.imageIDs[index] }

func (t *fakePresentTarget) Extent() (int, int) { return t.width, t.height }

func (t *fakePresentTarget) AcquireNextImage(signal render.Semaphore) (int, error) {
	t.log.record("target.AcquireNextImage")
	if t.failAcquires > 0 {
		t.failAcquires--
		return 0, render.SwapchainOutOfDateError
	}

	t.acquires++
	index := t.nextImage
	t.nextImage = (t.nextImage + 1) % len(t.imageIDs)
	return index, nil
}

func (t *fakePresentTarget) Present(imageIndex int, wait render.Semaphore) error {
	t.log.record("target.Present")
	if t.failPresents > 0 {
		t.failPresents--
		return render.SwapchainOutOfDateError
	}

	t.presents = append(t.presents, imageIndex)
	return nil
}

func (t *fakePresentTarget) Resize(width, height int) error {
	t.resizes++
	t.width = width
	t.height = height
	if !t.retainImagesOnResize {
		t.replaceImages(len(t.imageIDs))
	}
	return nil
}

func (t *fakePresentTarget) Destroy() { t.destroyed = true }

type fakeFrameTarget struct {
	imageID       uint64
	width, height int
	destroyed     bool
}

func (t *fakeFrameTarget) ImageID() uint64    { return t.imageID }
func (t *fakeFrameTarget) Extent() (int, int) { return t.width, t.height }
func (t *fakeFrameTarget) Destroy()           { t.destroyed = true }

type fakeFrameTargetFactory struct {
	created []*fakeFrameTarget
}

func (f *fakeFrameTargetFactory) CreateFrameTarget(target render.PresentTarget, imageIndex int) (render.FrameTarget, error) {
	width, height := target.Extent()
	frameTarget := &fakeFrameTarget{
		imageID: target.ImageID(imageIndex),
		width:   width,
		height:  height,
	}
	f.created = append(f.created, frameTarget)
	return frameTarget, nil
}

// fakeBackend attaches fake present targets to OS window identifiers.
type fakeBackend struct {
	fakeFrameTargetFactory

	imageCount    int
	width, height int

	targets map[uint32]*fakePresentTarget
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		imageCount: 3,
		width:      800,
		height:     600,
		targets:    map[uint32]*fakePresentTarget{},
	}
}

func (b *fakeBackend) CreatePresentTarget(osWindowID uint32) (render.PresentTarget, error) {
	target := newFakePresentTarget(b.imageCount, b.width, b.height)
	b.targets[osWindowID] = target
	return target, nil
}
