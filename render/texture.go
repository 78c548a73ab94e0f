package render

import (
	cerrors "github.com/cockroachdb/errors"
)

// TextureWait is one semaphore threshold a submission must reach before it
// may touch a texture's pixels.
type TextureWait struct {
	Semaphore TimelineSemaphore
	Value     uint64
}

// TextureSync describes the synchronization a GPU submission touching a
// texture must perform: wait until every entry in Waits has reached its
// value before touching the pixels, and signal Signal to SignalValue once
// the access completes.
type TextureSync struct {
	Waits       []TextureWait
	Signal      TimelineSemaphore
	SignalValue uint64
}

// Texture is a GPU image with CPU-side access fencing. Two timeline
// semaphores track outstanding work: the write semaphore counts completed
// writes against a target that is bumped when a write is registered, and
// the read semaphore does the same for reads. Comparing each semaphore's
// counter against its registered count answers "is any GPU work still
// pending against these pixels" without blocking.
//
// Registration happens on the CPU timeline before the corresponding
// submission, so the pending state is visible to IsIdle the moment the
// work is queued rather than when the GPU starts it.
type Texture struct {
	image TextureImage

	write TimelineSemaphore
	read  TimelineSemaphore

	writeTarget uint64
	readCount   uint64
	hasWrite    bool

	width  int
	height int
}

// NewTexture allocates pixel storage and fencing state for a width x
// height texture.
func NewTexture(device Device, width, height int) (*Texture, error) {
	if width < 1 || height < 1 {
		panic("render: attempted to create a texture with a degenerate extent")
	}

	image, err := device.CreateTextureImage(width, height)
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to allocate storage for a %dx%d texture", width, height)
	}

	write, err := device.CreateTimelineSemaphore(0)
	if err != nil {
		image.Destroy()
		return nil, cerrors.Wrap(err, "failed to create texture write semaphore")
	}

	read, err := device.CreateTimelineSemaphore(0)
	if err != nil {
		write.Destroy()
		image.Destroy()
		return nil, cerrors.Wrap(err, "failed to create texture read semaphore")
	}

	return &Texture{
		image:  image,
		write:  write,
		read:   read,
		width:  width,
		height: height,
	}, nil
}

// Width reports the texture's horizontal extent in pixels.
func (t *Texture) Width() int { return t.width }

// Height reports the texture's vertical extent in pixels.
func (t *Texture) Height() int { return t.height }

// Image exposes the device-side pixel storage.
func (t *Texture) Image() TextureImage { return t.image }

// BeginWrite registers a pending GPU write and returns the synchronization
// the submission must perform: wait for all registered reads and the
// previous registered write to complete, then signal the write semaphore
// to the returned value. Waiting on the previous write serializes
// back-to-back writes that no read separates.
func (t *Texture) BeginWrite() TextureSync {
	t.writeTarget++
	t.hasWrite = true
	return TextureSync{
		Waits: []TextureWait{
			{Semaphore: t.read, Value: t.readCount},
			{Semaphore: t.write, Value: t.writeTarget - 1},
		},
		Signal:      t.write,
		SignalValue: t.writeTarget,
	}
}

// BeginRead registers a pending GPU read and returns the synchronization
// the submission must perform: wait for the most recent registered write
// to complete, then signal the read semaphore to the returned value.
//
// Reading a texture that has never been written samples undefined pixels,
// so BeginRead panics in that case.
func (t *Texture) BeginRead() TextureSync {
	if !t.hasWrite {
		panic("render: attempted to read a texture that has never been written")
	}

	t.readCount++
	return TextureSync{
		Waits: []TextureWait{
			{Semaphore: t.write, Value: t.writeTarget},
		},
		Signal:      t.read,
		SignalValue: t.readCount,
	}
}

// Write uploads pixels to the texture through device. Pixels are
// tightly packed RGBA8 rows covering the full extent. The upload is
// fenced like any registered write: it waits out registered reads and
// the previous write before touching the image.
func (t *Texture) Write(device Device, pixels []byte) error {
	if len(pixels) != t.width*t.height*4 {
		panic("render: pixel data does not match the texture's extent")
	}

	sync := t.BeginWrite()
	err := device.UploadTexturePixels(t.image, pixels, sync)
	if err != nil {
		// The upload never reached the GPU. Complete the registered
		// write from the CPU so the fencing counters stay honest.
		signalErr := sync.Signal.Signal(sync.SignalValue)
		if signalErr != nil {
			return cerrors.CombineErrors(
				cerrors.Wrap(err, "failed to upload texture pixels"),
				cerrors.Wrap(signalErr, "failed to roll back the registered write"),
			)
		}
		return cerrors.Wrap(err, "failed to upload texture pixels")
	}
	return nil
}

// IsIdle reports whether all registered GPU accesses have completed. It
// never blocks.
func (t *Texture) IsIdle() (bool, error) {
	writeCount, err := t.write.Counter()
	if err != nil {
		return false, err
	}
	if writeCount < t.writeTarget {
		return false, nil
	}

	readCount, err := t.read.Counter()
	if err != nil {
		return false, err
	}
	return readCount >= t.readCount, nil
}

// WaitIdle blocks until all registered GPU accesses have completed.
func (t *Texture) WaitIdle() error {
	err := t.write.Wait(t.writeTarget)
	if err != nil {
		return err
	}
	return t.read.Wait(t.readCount)
}

// Destroy releases the texture's image and semaphores. Destroying a
// texture with GPU work still pending against it would free memory the
// GPU is about to touch, so Destroy panics instead of racing- callers
// that cannot prove idleness should WaitIdle first. A failed idleness
// query leaves the sync state unknown and counts as pending work.
func (t *Texture) Destroy() {
	idle, err := t.IsIdle()
	if err != nil {
		panic("render: could not verify texture idleness before destruction: " + err.Error())
	}
	if !idle {
		panic("render: attempted to destroy a texture with GPU work pending against it")
	}

	t.read.Destroy()
	t.write.Destroy()
	t.image.Destroy()
}
