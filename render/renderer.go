package render

import (
	"context"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/fathom/handles"
	"golang.org/x/exp/slog"
)

// WindowBackend creates device presentation resources for OS windows: the
// presentable image chain bound to a window's surface and the per-image
// render targets. Production code backs this with Vulkan surface and
// swapchain extensions.
type WindowBackend interface {
	FrameTargetFactory
	// CreatePresentTarget builds a presentable image chain for the OS
	// window identified by osWindowID.
	CreatePresentTarget(osWindowID uint32) (PresentTarget, error)
}

// Window binds an OS window to the swapchain that presents to it.
type Window struct {
	osID      uint32
	swapchain *Swapchain
}

// OSWindowID reports the window system's identifier for this window, the
// same value OS events carry.
func (w *Window) OSWindowID() uint32 { return w.osID }

// Swapchain exposes the window's frame-paced swapchain.
func (w *Window) Swapchain() *Swapchain { return w.swapchain }

// RendererOptions adjusts Renderer construction. The zero value is a
// usable default.
type RendererOptions struct {
	// Logger receives the renderer's diagnostics. When nil, slog.Default
	// is used.
	Logger *slog.Logger
	// MaxWindows caps how many windows may be live at once. Zero selects
	// a small default; the cap is rounded up to a power of two.
	MaxWindows uint32
	// MaxTextures caps how many textures may be live at once. Zero
	// selects a default suited to atlas-style texture use; the cap is
	// rounded up to a power of two.
	MaxTextures uint32
}

const (
	defaultMaxWindows  = 8
	defaultMaxTextures = 1024
)

// Renderer is the top-level entry point: it owns every window swapchain
// and texture, hands out weak handles to them, and routes OS window
// identifiers back to handles for event dispatch.
//
// All methods must be called from the same goroutine. Window systems
// deliver their events on one thread and the renderer's handle pools are
// built for single-goroutine use, so the renderer inherits that
// discipline rather than adding locks nothing contends on.
type Renderer struct {
	logger  *slog.Logger
	device  Device
	backend WindowBackend

	windows  *handles.Pool[*Window]
	textures *handles.Pool[*Texture]

	windowsByOSID *swiss.Map[uint32, handles.Handle[*Window]]
}

// NewRenderer creates a Renderer driving device, using backend to attach
// swapchains to OS windows.
func NewRenderer(device Device, backend WindowBackend, options RendererOptions) *Renderer {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxWindows := options.MaxWindows
	if maxWindows == 0 {
		maxWindows = defaultMaxWindows
	}
	maxTextures := options.MaxTextures
	if maxTextures == 0 {
		maxTextures = defaultMaxTextures
	}

	return &Renderer{
		logger:  logger,
		device:  device,
		backend: backend,

		windows:       handles.NewPool[*Window](maxWindows),
		textures:      handles.NewPool[*Texture](maxTextures),
		windowsByOSID: swiss.NewMap[uint32, handles.Handle[*Window]](maxWindows),
	}
}

// CreateWindow attaches a swapchain to the OS window identified by
// osWindowID and returns a handle for it. An OS window can carry at most
// one swapchain, so a second CreateWindow for the same identifier fails
// with WindowInUseError.
func (r *Renderer) CreateWindow(osWindowID uint32) (handles.Handle[*Window], error) {
	r.logger.Debug("Renderer::CreateWindow",
		slog.Uint64("osWindowID", uint64(osWindowID)),
	)

	_, inUse := r.windowsByOSID.Get(osWindowID)
	if inUse {
		return handles.Handle[*Window]{}, cerrors.Wrapf(WindowInUseError, "OS window %d", osWindowID)
	}

	target, err := r.backend.CreatePresentTarget(osWindowID)
	if err != nil {
		return handles.Handle[*Window]{}, cerrors.Wrapf(err, "failed to create present target for OS window %d", osWindowID)
	}

	swapchain, err := NewSwapchain(r.device, target, r.backend, r.logger)
	if err != nil {
		return handles.Handle[*Window]{}, err
	}

	window := &Window{
		osID:      osWindowID,
		swapchain: swapchain,
	}

	handle, err := r.windows.Insert(window)
	if err != nil {
		swapchain.Destroy()
		return handles.Handle[*Window]{}, err
	}

	r.windowsByOSID.Put(osWindowID, handle)
	return handle, nil
}

// Window resolves a window handle, or nil if the handle is stale.
func (r *Renderer) Window(handle handles.Handle[*Window]) *Window {
	window := r.windows.Get(handle)
	if window == nil {
		return nil
	}
	return *window
}

// WindowFromOS resolves an OS window identifier, as carried by window
// system events, to the handle of the attached window.
func (r *Renderer) WindowFromOS(osWindowID uint32) (handles.Handle[*Window], bool) {
	return r.windowsByOSID.Get(osWindowID)
}

// DestroyWindow detaches and destroys the swapchain behind handle. Stale
// handles are ignored.
func (r *Renderer) DestroyWindow(handle handles.Handle[*Window]) {
	window, ok := r.windows.Remove(handle)
	if !ok {
		return
	}

	r.logger.Debug("Renderer::DestroyWindow",
		slog.Uint64("osWindowID", uint64(window.osID)),
	)

	r.windowsByOSID.Delete(window.osID)
	window.swapchain.Destroy()
}

// RenderWindow runs one full frame for the window behind handle: acquire,
// draw list, present. When the swapchain has fallen out of date with its
// surface, RenderWindow resizes it to width x height and retries the
// acquire once, so callers only need to pass the window's current size.
//
// A stale handle fails with the pool's lookup semantics surfaced as an
// error rather than a panic, since window destruction can race OS events
// that are already queued.
func (r *Renderer) RenderWindow(handle handles.Handle[*Window], list *DrawList, width, height int) error {
	window := r.Window(handle)
	if window == nil {
		return errors.New("render: window handle is stale")
	}
	swapchain := window.swapchain

	err := swapchain.GetNextImage()
	if errors.Is(err, SwapchainOutOfDateError) {
		err = swapchain.Resize(width, height)
		if err != nil {
			return err
		}
		err = swapchain.GetNextImage()
	}
	if err != nil {
		return err
	}

	err = swapchain.Draw(list)
	if err != nil {
		return err
	}

	err = swapchain.Present()
	if errors.Is(err, SwapchainOutOfDateError) {
		// The frame already rendered; the next frame acquires against the
		// resized images.
		return swapchain.Resize(width, height)
	}
	return err
}

// CreateTexture allocates a width x height texture and returns a handle
// for it.
func (r *Renderer) CreateTexture(width, height int) (handles.Handle[*Texture], error) {
	r.logger.Debug("Renderer::CreateTexture",
		slog.Int("width", width),
		slog.Int("height", height),
	)

	texture, err := NewTexture(r.device, width, height)
	if err != nil {
		return handles.Handle[*Texture]{}, err
	}

	handle, err := r.textures.Insert(texture)
	if err != nil {
		texture.Destroy()
		return handles.Handle[*Texture]{}, err
	}
	return handle, nil
}

// WriteTexturePixels uploads pixels (tightly packed RGBA8 covering the
// full extent) to the texture behind handle. The upload is fenced against
// any frame still sampling the texture.
func (r *Renderer) WriteTexturePixels(handle handles.Handle[*Texture], pixels []byte) error {
	texture := r.Texture(handle)
	if texture == nil {
		return errors.New("render: texture handle is stale")
	}
	return texture.Write(r.device, pixels)
}

// Texture resolves a texture handle, or nil if the handle is stale.
func (r *Renderer) Texture(handle handles.Handle[*Texture]) *Texture {
	texture := r.textures.Get(handle)
	if texture == nil {
		return nil
	}
	return *texture
}

// DestroyTexture waits out any pending GPU work against the texture
// behind handle and destroys it. Stale handles are ignored.
func (r *Renderer) DestroyTexture(handle handles.Handle[*Texture]) error {
	texture, ok := r.textures.Remove(handle)
	if !ok {
		return nil
	}

	err := texture.WaitIdle()
	if err != nil {
		return cerrors.Wrap(err, "failed to drain texture before destruction")
	}
	texture.Destroy()
	return nil
}

// BuildStatsString assembles a JSON snapshot of the renderer's handle
// pools for diagnostics.
func (r *Renderer) BuildStatsString() string {
	writer := jwriter.NewWriter()

	obj := writer.Object()

	windowStats := r.windows.Statistics()
	windowObj := obj.Name("Windows").Object()
	windowStats.PrintJson(&windowObj)
	windowObj.End()

	textureStats := r.textures.Statistics()
	textureObj := obj.Name("Textures").Object()
	textureStats.PrintJson(&textureObj)
	textureObj.End()

	obj.End()

	return string(writer.Bytes())
}

// Destroy tears the renderer down: every remaining window and texture is
// drained and destroyed. Live handles left in the pools indicate callers
// that lost track of resources, so each one is logged before release.
func (r *Renderer) Destroy() error {
	err := r.device.WaitIdle()
	if err != nil {
		return cerrors.Wrap(err, "failed to drain device before renderer teardown")
	}

	r.windows.Drain(func(window *Window) {
		r.logger.LogAttrs(context.Background(), slog.LevelError,
			"[UNRELEASED WINDOW] a window was never destroyed",
			slog.Uint64("osWindowID", uint64(window.osID)),
		)
		r.windowsByOSID.Delete(window.osID)
		window.swapchain.Destroy()
	})

	r.textures.Drain(func(texture *Texture) {
		r.logger.LogAttrs(context.Background(), slog.LevelError,
			"[UNRELEASED TEXTURE] a texture was never destroyed",
			slog.Int("width", texture.width),
			slog.Int("height", texture.height),
		)
		texture.Destroy()
	})

	return nil
}
