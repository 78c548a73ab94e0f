package vulkan

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_surface"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/fathom/render"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v2"
	"golang.org/x/exp/slog"
)

// Backend implements render.WindowBackend for SDL windows. It attaches a
// Vulkan surface and swapchain to an OS window and builds the per-image
// framebuffers the renderer draws into.
type Backend struct {
	logger *slog.Logger
	device *Device

	instance     core1_0.Instance
	surfaceExt   khr_surface.Extension
	swapchainExt khr_swapchain.Extension

	vertexShader   []uint32
	fragmentShader []uint32

	// nextImageID hands out identities for swapchain images. Recreating a
	// swapchain produces new images, so identities are never reissued.
	nextImageID uint64
}

// NewBackend creates a Backend. The shader arguments carry the SPIR-V
// bytecode for the renderer's rect pipeline.
func NewBackend(logger *slog.Logger, instance core1_0.Instance, device *Device, vertexShader []byte, fragmentShader []byte) *Backend {
	if logger == nil {
		logger = slog.Default()
	}

	return &Backend{
		logger: logger,
		device: device,

		instance:     instance,
		surfaceExt:   khr_surface.CreateExtensionFromInstance(instance),
		swapchainExt: khr_swapchain.CreateExtensionFromDevice(device.Vk()),

		vertexShader:   bytesToBytecode(vertexShader),
		fragmentShader: bytesToBytecode(fragmentShader),
	}
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

func (b *Backend) CreatePresentTarget(osWindowID uint32) (render.PresentTarget, error) {
	window, err := sdl.GetWindowFromID(osWindowID)
	if err != nil {
		return nil, cerrors.Wrapf(err, "no SDL window with id %d", osWindowID)
	}

	surface, err := vkng_sdl2.CreateSurface(b.instance, b.surfaceExt, window)
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to create window surface")
	}

	target := &presentTarget{
		backend: b,
		window:  window,
		surface: surface,
	}

	err = target.chooseSurfaceFormat()
	if err != nil {
		target.Destroy()
		return nil, err
	}

	err = target.createRenderPass()
	if err != nil {
		target.Destroy()
		return nil, err
	}

	width, height := window.VulkanGetDrawableSize()
	err = target.buildSwapchain(int(width), int(height))
	if err != nil {
		target.Destroy()
		return nil, err
	}

	return target, nil
}

func (b *Backend) CreateFrameTarget(target render.PresentTarget, imageIndex int) (render.FrameTarget, error) {
	present := target.(*presentTarget)

	view, _, err := b.device.Vk().CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    present.images[imageIndex],
		ViewType: core1_0.ImageViewType2D,
		Format:   present.format.Format,
		Components: core1_0.ComponentMapping{
			R: core1_0.SwizzleIdentity,
			G: core1_0.SwizzleIdentity,
			B: core1_0.SwizzleIdentity,
			A: core1_0.SwizzleIdentity,
		},
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask: core1_0.ImageAspectColor,
			LevelCount: 1,
			LayerCount: 1,
		},
	})
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to create swapchain image view")
	}

	framebuffer, _, err := b.device.Vk().CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  present.pass,
		Layers:      1,
		Attachments: []core1_0.ImageView{view},
		Width:       present.extent.Width,
		Height:      present.extent.Height,
	})
	if err != nil {
		view.Destroy(nil)
		return nil, cerrors.Wrap(err, "failed to create framebuffer")
	}

	return &frameTarget{
		target:      present,
		imageID:     present.imageIDs[imageIndex],
		view:        view,
		framebuffer: framebuffer,
		width:       present.extent.Width,
		height:      present.extent.Height,
	}, nil
}

type presentTarget struct {
	backend *Backend
	window  *sdl.Window
	surface khr_surface.Surface

	format khr_surface.SurfaceFormat
	pass   core1_0.RenderPass

	pipelineLayout core1_0.PipelineLayout
	rectPipeline   core1_0.Pipeline

	swapchain khr_swapchain.Swapchain
	images    []core1_0.Image
	imageIDs  []uint64
	extent    core1_0.Extent2D
}

func (t *presentTarget) chooseSurfaceFormat() error {
	formats, _, err := t.surface.PhysicalDeviceSurfaceFormats(t.backend.device.physicalDevice)
	if err != nil {
		return cerrors.Wrap(err, "failed to query surface formats")
	}

	t.format = formats[0]
	for _, format := range formats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			t.format = format
			break
		}
	}
	return nil
}

func (t *presentTarget) createRenderPass() error {
	pass, _, err := t.backend.device.Vk().CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         t.format.Format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				DstAccessMask: core1_0.AccessColorAttachmentWrite,
			},
		},
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to create render pass")
	}

	t.pass = pass
	return nil
}

func (t *presentTarget) buildSwapchain(width, height int) error {
	capabilities, _, err := t.surface.PhysicalDeviceSurfaceCapabilities(t.backend.device.physicalDevice)
	if err != nil {
		return cerrors.Wrap(err, "failed to query surface capabilities")
	}

	presentModes, _, err := t.surface.PhysicalDeviceSurfacePresentModes(t.backend.device.physicalDevice)
	if err != nil {
		return cerrors.Wrap(err, "failed to query surface present modes")
	}

	presentMode := khr_surface.PresentModeFIFO
	for _, mode := range presentModes {
		if mode == khr_surface.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	extent := capabilities.CurrentExtent
	if extent.Width == -1 {
		extent = clampExtent(width, height, capabilities)
	}

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}

	oldSwapchain := t.swapchain
	swapchain, _, err := t.backend.swapchainExt.CreateSwapchain(t.backend.device.Vk(), nil, khr_swapchain.SwapchainCreateInfo{
		Surface: t.surface,

		MinImageCount:    imageCount,
		ImageFormat:      t.format.Format,
		ImageColorSpace:  t.format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode: core1_0.SharingModeExclusive,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,

		OldSwapchain: oldSwapchain,
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to create swapchain")
	}
	if oldSwapchain != nil {
		oldSwapchain.Destroy(nil)
	}
	t.swapchain = swapchain
	t.extent = extent

	t.images, _, err = swapchain.SwapchainImages()
	if err != nil {
		return cerrors.Wrap(err, "failed to query swapchain images")
	}

	t.imageIDs = make([]uint64, len(t.images))
	for i := range t.imageIDs {
		t.backend.nextImageID++
		t.imageIDs[i] = t.backend.nextImageID
	}

	return t.buildPipeline()
}

func clampExtent(width, height int, capabilities *khr_surface.SurfaceCapabilities) core1_0.Extent2D {
	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}

// buildPipeline recreates the rect pipeline. The viewport is baked into
// the pipeline, so it is rebuilt whenever the swapchain extent changes.
func (t *presentTarget) buildPipeline() error {
	device := t.backend.device.Vk()

	if t.rectPipeline != nil {
		t.rectPipeline.Destroy(nil)
		t.rectPipeline = nil
	}

	if t.pipelineLayout == nil {
		// The vertex shader maps pixel coordinates to clip space using
		// the viewport size, delivered as a push constant. Set 0 carries
		// the batch's combined image sampler.
		layout, _, err := device.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
			SetLayouts: []core1_0.DescriptorSetLayout{t.backend.device.setLayout},
			PushConstantRanges: []core1_0.PushConstantRange{
				{
					StageFlags: core1_0.StageVertex,
					Offset:     0,
					Size:       8,
				},
			},
		})
		if err != nil {
			return cerrors.Wrap(err, "failed to create pipeline layout")
		}
		t.pipelineLayout = layout
	}

	vertShader, _, err := device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: t.backend.vertexShader,
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to create vertex shader module")
	}
	defer vertShader.Destroy(nil)

	fragShader, _, err := device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: t.backend.fragmentShader,
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to create fragment shader module")
	}
	defer fragShader.Destroy(nil)

	pipelines, _, err := device.CreateGraphicsPipelines(nil, nil, []core1_0.GraphicsPipelineCreateInfo{
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{
					Stage:  core1_0.StageVertex,
					Module: vertShader,
					Name:   "main",
				},
				{
					Stage:  core1_0.StageFragment,
					Module: fragShader,
					Name:   "main",
				},
			},
			VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
				VertexBindingDescriptions:   vertexBindingDescriptions(),
				VertexAttributeDescriptions: vertexAttributeDescriptions(),
			},
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology: core1_0.PrimitiveTopologyTriangleList,
			},
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: []core1_0.Viewport{
					{
						X:        0,
						Y:        0,
						Width:    float32(t.extent.Width),
						Height:   float32(t.extent.Height),
						MinDepth: 0,
						MaxDepth: 1,
					},
				},
				Scissors: []core1_0.Rect2D{
					{
						Offset: core1_0.Offset2D{X: 0, Y: 0},
						Extent: t.extent,
					},
				},
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				PolygonMode: core1_0.PolygonModeFill,
				CullMode:    core1_0.CullModeNone,
				FrontFace:   core1_0.FrontFaceClockwise,
				LineWidth:   1.0,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				RasterizationSamples: core1_0.Samples1,
				MinSampleShading:     1.0,
			},
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				LogicOp:        core1_0.LogicOpCopy,
				BlendConstants: [4]float32{0, 0, 0, 0},
				Attachments: []core1_0.PipelineColorBlendAttachmentState{
					{
						BlendEnabled:        true,
						SrcColorBlendFactor: core1_0.BlendFactorSrcAlpha,
						DstColorBlendFactor: core1_0.BlendFactorOneMinusSrcAlpha,
						ColorBlendOp:        core1_0.BlendOpAdd,
						SrcAlphaBlendFactor: core1_0.BlendFactorOne,
						DstAlphaBlendFactor: core1_0.BlendFactorOneMinusSrcAlpha,
						AlphaBlendOp:        core1_0.BlendOpAdd,
						ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen |
							core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
					},
				},
			},
			Layout:            t.pipelineLayout,
			RenderPass:        t.pass,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to create rect pipeline")
	}

	t.rectPipeline = pipelines[0]
	return nil
}

func vertexBindingDescriptions() []core1_0.VertexInputBindingDescription {
	v := render.Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func vertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := render.Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.UV)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32B32A32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
	}
}

func (t *presentTarget) ImageCount() int { return len(t.images) }

func (t *presentTarget) ImageID(index int) uint64 { return t.imageIDs[index] }

func (t *presentTarget) Extent() (int, int) { return t.extent.Width, t.extent.Height }

func (t *presentTarget) AcquireNextImage(signal render.Semaphore) (int, error) {
	imageIndex, res, err := t.swapchain.AcquireNextImage(common.NoTimeout, signal.(*semaphore).semaphore, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, render.SwapchainOutOfDateError
	} else if err != nil {
		return 0, err
	}

	return imageIndex, nil
}

func (t *presentTarget) Present(imageIndex int, wait render.Semaphore) error {
	res, err := t.backend.swapchainExt.QueuePresent(t.backend.device.Queue(), khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait.(*semaphore).semaphore},
		Swapchains:     []khr_swapchain.Swapchain{t.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return render.SwapchainOutOfDateError
	}
	return err
}

func (t *presentTarget) Resize(width, height int) error {
	return t.buildSwapchain(width, height)
}

func (t *presentTarget) Destroy() {
	if t.rectPipeline != nil {
		t.rectPipeline.Destroy(nil)
		t.rectPipeline = nil
	}
	if t.pipelineLayout != nil {
		t.pipelineLayout.Destroy(nil)
		t.pipelineLayout = nil
	}
	if t.pass != nil {
		t.pass.Destroy(nil)
		t.pass = nil
	}
	if t.swapchain != nil {
		t.swapchain.Destroy(nil)
		t.swapchain = nil
	}
	if t.surface != nil {
		t.surface.Destroy(nil)
		t.surface = nil
	}
}

type frameTarget struct {
	target *presentTarget

	imageID     uint64
	view        core1_0.ImageView
	framebuffer core1_0.Framebuffer

	width  int
	height int
}

func (t *frameTarget) ImageID() uint64 { return t.imageID }

func (t *frameTarget) Extent() (int, int) { return t.width, t.height }

func (t *frameTarget) renderPass() core1_0.RenderPass { return t.target.pass }

func (t *frameTarget) pipeline() core1_0.Pipeline { return t.target.rectPipeline }

func (t *frameTarget) pipelineLayout() core1_0.PipelineLayout { return t.target.pipelineLayout }

func (t *frameTarget) Destroy() {
	t.framebuffer.Destroy(nil)
	t.view.Destroy(nil)
}
