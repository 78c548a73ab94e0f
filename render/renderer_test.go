package render_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/fathom/render"
)

func newTestRenderer() (*render.Renderer, *fakeDevice, *fakeBackend) {
	device := newFakeDevice()
	backend := newFakeBackend()
	renderer := render.NewRenderer(device, backend, render.RendererOptions{})
	return renderer, device, backend
}

func TestRendererWindowLifecycle(t *testing.T) {
	renderer, _, backend := newTestRenderer()
	defer func() {
		require.NoError(t, renderer.Destroy())
	}()

	handle, err := renderer.CreateWindow(7)
	require.NoError(t, err)

	window := renderer.Window(handle)
	require.NotNil(t, window)
	require.Equal(t, uint32(7), window.OSWindowID())

	resolved, ok := renderer.WindowFromOS(7)
	require.True(t, ok)
	require.Equal(t, handle, resolved)

	renderer.DestroyWindow(handle)
	require.Nil(t, renderer.Window(handle))
	_, ok = renderer.WindowFromOS(7)
	require.False(t, ok)
	require.True(t, backend.targets[7].destroyed)

	// Destroying through a stale handle is a no-op.
	renderer.DestroyWindow(handle)
}

func TestRendererRejectsDuplicateOSWindow(t *testing.T) {
	renderer, _, _ := newTestRenderer()
	defer func() {
		require.NoError(t, renderer.Destroy())
	}()

	handle, err := renderer.CreateWindow(3)
	require.NoError(t, err)

	_, err = renderer.CreateWindow(3)
	require.ErrorIs(t, err, render.WindowInUseError)

	// The identifier frees up once the first window is gone.
	renderer.DestroyWindow(handle)
	_, err = renderer.CreateWindow(3)
	require.NoError(t, err)
}

func TestRendererRenderWindow(t *testing.T) {
	renderer, _, backend := newTestRenderer()
	defer func() {
		require.NoError(t, renderer.Destroy())
	}()

	handle, err := renderer.CreateWindow(1)
	require.NoError(t, err)

	require.NoError(t, renderer.RenderWindow(handle, singleRectList(), 800, 600))
	require.Equal(t, []int{0}, backend.targets[1].presents)

	renderer.DestroyWindow(handle)
	err = renderer.RenderWindow(handle, singleRectList(), 800, 600)
	require.Error(t, err)
}

func TestRendererRenderWindowRetriesAfterResize(t *testing.T) {
	renderer, _, backend := newTestRenderer()
	defer func() {
		require.NoError(t, renderer.Destroy())
	}()

	handle, err := renderer.CreateWindow(1)
	require.NoError(t, err)
	target := backend.targets[1]

	target.failAcquires = 1
	require.NoError(t, renderer.RenderWindow(handle, singleRectList(), 1024, 768))

	require.Equal(t, 1, target.resizes)
	require.Equal(t, 1024, target.width)
	require.Equal(t, 768, target.height)
	require.Equal(t, []int{0}, target.presents)
}

func TestRendererRenderWindowResizesAfterStalePresent(t *testing.T) {
	renderer, _, backend := newTestRenderer()
	defer func() {
		require.NoError(t, renderer.Destroy())
	}()

	handle, err := renderer.CreateWindow(1)
	require.NoError(t, err)
	target := backend.targets[1]

	target.failPresents = 1
	require.NoError(t, renderer.RenderWindow(handle, singleRectList(), 640, 480))
	require.Equal(t, 1, target.resizes)

	// The next frame proceeds against the resized chain.
	require.NoError(t, renderer.RenderWindow(handle, singleRectList(), 640, 480))
	require.Equal(t, 1, target.resizes)
}

func TestRendererTextureLifecycle(t *testing.T) {
	renderer, device, _ := newTestRenderer()
	defer func() {
		require.NoError(t, renderer.Destroy())
	}()

	handle, err := renderer.CreateTexture(64, 64)
	require.NoError(t, err)

	texture := renderer.Texture(handle)
	require.NotNil(t, texture)
	require.Equal(t, 64, texture.Width())

	// A busy texture is drained before destruction rather than panicking.
	texture.BeginWrite()
	require.NoError(t, renderer.DestroyTexture(handle))

	require.Nil(t, renderer.Texture(handle))
	require.True(t, device.images[0].destroyed)

	require.NoError(t, renderer.DestroyTexture(handle))
}

func TestRendererWriteTexturePixels(t *testing.T) {
	renderer, device, _ := newTestRenderer()
	defer func() {
		require.NoError(t, renderer.Destroy())
	}()

	handle, err := renderer.CreateTexture(8, 8)
	require.NoError(t, err)

	pixels := make([]byte, 8*8*4)
	require.NoError(t, renderer.WriteTexturePixels(handle, pixels))
	require.Equal(t, 1, device.images[0].uploads)

	require.NoError(t, renderer.DestroyTexture(handle))
	require.Error(t, renderer.WriteTexturePixels(handle, pixels))
}

func TestRendererBuildStatsString(t *testing.T) {
	renderer, _, _ := newTestRenderer()
	defer func() {
		require.NoError(t, renderer.Destroy())
	}()

	_, err := renderer.CreateWindow(1)
	require.NoError(t, err)
	_, err = renderer.CreateTexture(32, 32)
	require.NoError(t, err)
	textureHandle, err := renderer.CreateTexture(32, 32)
	require.NoError(t, err)
	require.NoError(t, renderer.DestroyTexture(textureHandle))

	var stats struct {
		Windows struct {
			TotalSlots int
			LiveSlots  int
			FreeSlots  int
		}
		Textures struct {
			TotalSlots int
			LiveSlots  int
			FreeSlots  int
		}
	}
	require.NoError(t, json.Unmarshal([]byte(renderer.BuildStatsString()), &stats))

	require.Equal(t, 1, stats.Windows.LiveSlots)
	require.Equal(t, 1, stats.Textures.LiveSlots)
	require.Equal(t, 1, stats.Textures.FreeSlots)
}

func TestRendererDestroyDrainsLeakedResources(t *testing.T) {
	renderer, device, backend := newTestRenderer()

	_, err := renderer.CreateWindow(1)
	require.NoError(t, err)
	_, err = renderer.CreateTexture(16, 16)
	require.NoError(t, err)

	require.NoError(t, renderer.Destroy())

	require.True(t, backend.targets[1].destroyed)
	require.True(t, device.images[0].destroyed)
	require.Positive(t, device.waitIdles)
}
