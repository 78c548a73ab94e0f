package render_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/fathom/render"
)

func newTestTexture(t *testing.T, device *fakeDevice) *render.Texture {
	texture, err := render.NewTexture(device, 256, 128)
	require.NoError(t, err)
	return texture
}

func TestTextureStartsIdle(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)
	defer texture.Destroy()

	idle, err := texture.IsIdle()
	require.NoError(t, err)
	require.True(t, idle)

	require.Equal(t, 256, texture.Width())
	require.Equal(t, 128, texture.Height())
}

func TestTextureWriteFencing(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)

	sync := texture.BeginWrite()
	require.Equal(t, uint64(1), sync.SignalValue)
	// The first write has no readers and no prior write to wait for.
	for _, wait := range sync.Waits {
		require.Equal(t, uint64(0), wait.Value)
	}

	// Registered but not yet executed: the texture is busy.
	idle, err := texture.IsIdle()
	require.NoError(t, err)
	require.False(t, idle)

	// The "GPU" finishes the write.
	require.NoError(t, sync.Signal.Signal(sync.SignalValue))

	idle, err = texture.IsIdle()
	require.NoError(t, err)
	require.True(t, idle)

	texture.Destroy()
}

func TestTextureReadWaitsForLastWrite(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)
	defer func() {
		require.NoError(t, texture.WaitIdle())
		texture.Destroy()
	}()

	writeSync := texture.BeginWrite()
	readSync := texture.BeginRead()

	require.Len(t, readSync.Waits, 1)
	require.Same(t, writeSync.Signal, readSync.Waits[0].Semaphore)
	require.Equal(t, writeSync.SignalValue, readSync.Waits[0].Value)
	require.Equal(t, uint64(1), readSync.SignalValue)

	// A second write waits for the registered read.
	secondWrite := texture.BeginWrite()
	require.Equal(t, uint64(2), secondWrite.SignalValue)
	requireWaitOn(t, secondWrite, readSync.Signal, readSync.SignalValue)
}

// requireWaitOn asserts that sync carries a wait on semaphore reaching
// value.
func requireWaitOn(t *testing.T, sync render.TextureSync, semaphore render.TimelineSemaphore, value uint64) {
	t.Helper()
	for _, wait := range sync.Waits {
		if wait.Semaphore == semaphore {
			require.Equal(t, value, wait.Value)
			return
		}
	}
	t.Fatalf("sync does not wait on the expected semaphore")
}

func TestTextureBackToBackWritesSerialize(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)
	defer func() {
		require.NoError(t, texture.WaitIdle())
		texture.Destroy()
	}()

	firstWrite := texture.BeginWrite()
	secondWrite := texture.BeginWrite()

	// With no read in between, the second write must still order itself
	// behind the first through the write semaphore.
	requireWaitOn(t, secondWrite, firstWrite.Signal, firstWrite.SignalValue)

	// The first write has not completed, so the second write's wait is
	// not yet satisfied.
	counter, err := firstWrite.Signal.Counter()
	require.NoError(t, err)
	require.Less(t, counter, firstWrite.SignalValue)
}

func TestTextureIdleTracksBothCounters(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)

	writeSync := texture.BeginWrite()
	require.NoError(t, writeSync.Signal.Signal(writeSync.SignalValue))

	readSync := texture.BeginRead()

	// Write completed, read pending.
	idle, err := texture.IsIdle()
	require.NoError(t, err)
	require.False(t, idle)

	require.NoError(t, readSync.Signal.Signal(readSync.SignalValue))

	idle, err = texture.IsIdle()
	require.NoError(t, err)
	require.True(t, idle)

	texture.Destroy()
}

func TestTextureWaitIdleDrainsPendingWork(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)

	writeSync := texture.BeginWrite()
	require.NoError(t, writeSync.Signal.Signal(writeSync.SignalValue))
	texture.BeginRead()

	require.NoError(t, texture.WaitIdle())

	idle, err := texture.IsIdle()
	require.NoError(t, err)
	require.True(t, idle)

	texture.Destroy()
}

func TestTextureWriteUploadsPixels(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)

	pixels := make([]byte, 256*128*4)
	pixels[0] = 0xAB
	require.NoError(t, texture.Write(device, pixels))

	require.Equal(t, 1, device.images[0].uploads)
	require.Equal(t, pixels, device.images[0].pixels)

	// The upload registered and completed a write, so the texture is
	// readable and idle.
	idle, err := texture.IsIdle()
	require.NoError(t, err)
	require.True(t, idle)

	texture.BeginRead()
	require.NoError(t, texture.WaitIdle())
	texture.Destroy()
}

func TestTextureWriteMismatchedPixelsPanics(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)
	defer texture.Destroy()

	require.Panics(t, func() {
		_ = texture.Write(device, make([]byte, 16))
	})
}

func TestTextureFailedWriteLeavesTextureIdle(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)

	device.uploadErr = errors.New("transfer queue lost")
	err := texture.Write(device, make([]byte, 256*128*4))
	require.ErrorIs(t, err, device.uploadErr)

	// The failed upload was unregistered, so the texture can still be
	// destroyed without draining anything.
	idle, err := texture.IsIdle()
	require.NoError(t, err)
	require.True(t, idle)
	texture.Destroy()
}

func TestTextureReadBeforeWritePanics(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)
	defer texture.Destroy()

	require.Panics(t, func() {
		texture.BeginRead()
	})
}

func TestTextureDestroyWhileBusyPanics(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)

	texture.BeginWrite()

	require.Panics(t, func() {
		texture.Destroy()
	})

	// Draining the work makes destruction legal again.
	require.NoError(t, texture.WaitIdle())
	texture.Destroy()

	require.True(t, device.images[0].destroyed)
	for _, timeline := range device.timelines {
		require.True(t, timeline.destroyed)
	}
}

func TestTextureDestroyPanicsWhenIdleQueryFails(t *testing.T) {
	device := newFakeDevice()
	texture := newTestTexture(t, device)

	// A failed counter query leaves the sync state unknown; destroying
	// anyway could free memory the GPU is still touching.
	device.timelines[0].counterErr = errors.New("device lost")
	require.Panics(t, func() {
		texture.Destroy()
	})

	device.timelines[0].counterErr = nil
	texture.Destroy()
}

func TestTextureDegenerateExtentPanics(t *testing.T) {
	device := newFakeDevice()

	require.Panics(t, func() {
		_, _ = render.NewTexture(device, 0, 128)
	})
	require.Panics(t, func() {
		_, _ = render.NewTexture(device, 128, -1)
	})
}
