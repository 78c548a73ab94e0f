package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"
	core "github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v2/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/extensions/v2/khr_timeline_semaphore"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v2"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/fathom/handles"
	"github.com/vkngwrapper/fathom/render"
	"github.com/vkngwrapper/fathom/internal/vulkan"
	"github.com/vkngwrapper/fathom/ui"
)

const enableValidationLayers = true

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{
	khr_swapchain.ExtensionName,
	khr_timeline_semaphore.ExtensionName,
}

type demoApplication struct {
	logger *slog.Logger

	window *sdl.Window
	loader core.Loader

	instance       core1_0.Instance
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	physicalDevice core1_0.PhysicalDevice
	graphicsFamily int

	device   *vulkan.Device
	backend  *vulkan.Backend
	renderer *render.Renderer

	handler       ui.WindowEventHandler
	windowHandle  handles.Handle[*render.Window]
	textureHandle handles.Handle[*render.Texture]
	drawList      render.DrawList

	shaderDir string
}

func (app *demoApplication) run() error {
	err := app.initWindow()
	if err != nil {
		return err
	}

	err = app.initVulkan()
	if err != nil {
		return err
	}
	defer app.cleanup()

	return app.mainLoop()
}

func (app *demoApplication) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return errors.Wrap(err, "failed to initialize sdl")
	}

	window, err := sdl.CreateWindow("Fathom Demo",
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		800, 600,
		sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return errors.Wrap(err, "failed to create window")
	}
	app.window = window

	app.loader, err = core.CreateLoaderFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return errors.Wrap(err, "failed to load vulkan")
	}

	return nil
}

func (app *demoApplication) initVulkan() error {
	err := app.createInstance()
	if err != nil {
		return err
	}

	err = app.setupDebugMessenger()
	if err != nil {
		return err
	}

	err = app.createDevice()
	if err != nil {
		return err
	}

	return app.createRenderer()
}

func (app *demoApplication) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    "Fathom Demo",
		ApplicationVersion: common.CreateVersion(0, 1, 0),
		EngineName:         "fathom",
		EngineVersion:      common.CreateVersion(0, 1, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := app.window.VulkanGetInstanceExtensions()
	extensions, _, err := app.loader.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Newf("missing required instance extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if enableValidationLayers {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	layers, _, err := app.loader.AvailableLayers()
	if err != nil {
		return err
	}

	if enableValidationLayers {
		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("validation layer %s is not available", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = app.debugMessengerOptions()
	}

	app.instance, _, err = app.loader.CreateInstance(nil, instanceOptions)
	if err != nil {
		return errors.Wrap(err, "failed to create vulkan instance")
	}

	return nil
}

func (app *demoApplication) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    app.logValidation,
	}
}

func (app *demoApplication) logValidation(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	app.logger.Warn("validation",
		slog.String("severity", severity.String()),
		slog.String("type", msgType.String()),
		slog.String("message", data.Message))
	return false
}

func (app *demoApplication) setupDebugMessenger() error {
	if !enableValidationLayers {
		return nil
	}

	debugLoader := ext_debug_utils.CreateExtensionFromInstance(app.instance)
	var err error
	app.debugMessenger, _, err = debugLoader.CreateDebugUtilsMessenger(app.instance, nil, app.debugMessengerOptions())
	if err != nil {
		return errors.Wrap(err, "failed to create debug messenger")
	}

	return nil
}

// createDevice selects a physical device and builds the logical device.
// Fathom renders and presents on a single queue, so only families that
// support both are considered.
func (app *demoApplication) createDevice() error {
	surfaceLoader := khr_surface.CreateExtensionFromInstance(app.instance)

	// Present support is a per-surface query. The demo only ever has one
	// window, so its surface stands in for all of them.
	querySurface, err := vkng_sdl2.CreateSurface(app.instance, surfaceLoader, app.window)
	if err != nil {
		return errors.Wrap(err, "failed to create surface")
	}
	defer querySurface.Destroy(nil)

	physicalDevices, _, err := app.instance.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		family, ok, err := findQueueFamily(device, querySurface)
		if err != nil {
			return err
		}
		if !ok || !supportsDeviceExtensions(device) {
			continue
		}

		app.physicalDevice = device
		app.graphicsFamily = family
		break
	}

	if app.physicalDevice == nil {
		return errors.New("no suitable gpu found")
	}

	extensionNames := append([]string{}, deviceExtensions...)

	extensions, _, err := app.physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return err
	}

	_, portability := extensions[khr_portability_subset.ExtensionName]
	if portability {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	queuePriority := float32(1.0)
	logicalDevice, _, err := app.physicalDevice.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: app.graphicsFamily,
				QueuePriorities:  []float32{queuePriority},
			},
		},
		EnabledFeatures:       &core1_0.PhysicalDeviceFeatures{},
		EnabledExtensionNames: extensionNames,
		NextOptions: common.NextOptions{
			Next: khr_timeline_semaphore.PhysicalDeviceTimelineSemaphoreFeatures{
				TimelineSemaphore: true,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to create logical device")
	}

	app.device, err = vulkan.NewDevice(app.logger, app.physicalDevice, logicalDevice, app.graphicsFamily)
	if err != nil {
		return err
	}

	return nil
}

func findQueueFamily(device core1_0.PhysicalDevice, surface khr_surface.Surface) (int, bool, error) {
	for familyIndex, family := range device.QueueFamilyProperties() {
		if family.QueueFlags&core1_0.QueueGraphics == 0 {
			continue
		}

		supported, _, err := surface.PhysicalDeviceSurfaceSupport(device, familyIndex)
		if err != nil {
			return 0, false, err
		}
		if supported {
			return familyIndex, true, nil
		}
	}

	return 0, false, nil
}

func supportsDeviceExtensions(device core1_0.PhysicalDevice) bool {
	extensions, _, err := device.EnumerateDeviceExtensionProperties()
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	return true
}

func (app *demoApplication) createRenderer() error {
	vertexShader, err := os.ReadFile(filepath.Join(app.shaderDir, "rect.vert.spv"))
	if err != nil {
		return errors.Wrap(err, "failed to read vertex shader")
	}

	fragmentShader, err := os.ReadFile(filepath.Join(app.shaderDir, "rect.frag.spv"))
	if err != nil {
		return errors.Wrap(err, "failed to read fragment shader")
	}

	app.backend = vulkan.NewBackend(app.logger, app.instance, app.device, vertexShader, fragmentShader)
	app.renderer = render.NewRenderer(app.device, app.backend, render.RendererOptions{
		Logger: app.logger,
	})

	windowID, err := app.window.GetID()
	if err != nil {
		return errors.Wrap(err, "failed to query window id")
	}

	app.windowHandle, err = app.renderer.CreateWindow(uint32(windowID))
	if err != nil {
		return err
	}

	app.textureHandle, err = app.renderer.CreateTexture(64, 64)
	if err != nil {
		return err
	}
	err = app.renderer.WriteTexturePixels(app.textureHandle, checkerboardPixels(64, 64, 8))
	if err != nil {
		return err
	}

	app.handler = newDemoHandler(app.renderer.Texture(app.textureHandle))
	app.handler.OnCreate(app.windowHandle)
	return nil
}

func (app *demoApplication) mainLoop() error {
	rendering := true

	frames := 0
	frameStart := hrtime.Now()
	reportStart := frameStart

appLoop:
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				app.handler.OnClose()
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_CLOSE:
					app.handler.OnClose()
					break appLoop
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
				}
			case *sdl.MouseMotionEvent:
				app.handler.OnMouseMove(int(e.X), int(e.Y))
			case *sdl.MouseButtonEvent:
				button, known := mouseButton(e.Button)
				if known {
					app.handler.OnMouseButton(button, e.State == sdl.PRESSED, int(e.X), int(e.Y))
				}
			}
		}

		if !rendering {
			sdl.Delay(16)
			continue
		}

		width, height := app.window.GetSize()
		if width <= 0 || height <= 0 {
			continue
		}

		frameStart = hrtime.Now()

		app.drawList.Reset()
		ctx := ui.NewDrawContext(&app.drawList)
		app.handler.OnRedraw(ctx, int(width), int(height))

		err := app.renderer.RenderWindow(app.windowHandle, &app.drawList, int(width), int(height))
		if err != nil {
			return err
		}

		frames++
		frameEnd := hrtime.Now()
		if frameEnd-reportStart >= 5*time.Second {
			app.logger.Debug("frame timing",
				slog.Int("frames", frames),
				slog.Duration("lastFrame", frameEnd-frameStart),
				slog.Float64("fps", float64(frames)/(frameEnd-reportStart).Seconds()))
			frames = 0
			reportStart = frameEnd
		}
	}

	return nil
}

func mouseButton(sdlButton uint8) (ui.MouseButton, bool) {
	switch sdlButton {
	case sdl.BUTTON_LEFT:
		return ui.MouseButtonLeft, true
	case sdl.BUTTON_MIDDLE:
		return ui.MouseButtonMiddle, true
	case sdl.BUTTON_RIGHT:
		return ui.MouseButtonRight, true
	}
	return 0, false
}

func (app *demoApplication) cleanup() {
	if app.renderer != nil {
		app.logger.Info("renderer statistics", slog.String("stats", app.renderer.BuildStatsString()))

		err := app.renderer.DestroyTexture(app.textureHandle)
		if err != nil {
			app.logger.Error("failed to destroy texture", slog.Any("error", err))
		}

		err = app.renderer.Destroy()
		if err != nil {
			app.logger.Error("failed to destroy renderer", slog.Any("error", err))
		}
	}

	if app.device != nil {
		app.logger.Info("device memory statistics", slog.String("stats", app.device.BuildMemoryStatsString()))

		device := app.device.Vk()
		err := app.device.Destroy()
		if err != nil {
			app.logger.Error("failed to destroy device", slog.Any("error", err))
		}
		device.Destroy(nil)
	}

	if app.debugMessenger != nil {
		app.debugMessenger.Destroy(nil)
	}
	if app.instance != nil {
		app.instance.Destroy(nil)
	}
	if app.window != nil {
		app.window.Destroy()
	}
	sdl.Quit()
}

func main() {
	shaderDir := flag.String("shaders", "shaders", "directory containing compiled rect.vert.spv and rect.frag.spv")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	app := &demoApplication{
		logger:    logger,
		shaderDir: *shaderDir,
	}

	err := app.run()
	if err != nil {
		logger.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}
