package main

import (
	"math"

	"github.com/loov/hrtime"
	vkngmath "github.com/vkngwrapper/math"

	"github.com/vkngwrapper/fathom/handles"
	"github.com/vkngwrapper/fathom/render"
	"github.com/vkngwrapper/fathom/ui"
)

// panelWidget fills its bounds with a solid color.
type panelWidget struct {
	bounds render.Rect
	color  vkngmath.Vec4[float32]
}

func (w *panelWidget) Draw(ctx *ui.DrawContext) {
	ctx.FillRect(w.bounds, w.color)
}

// pulseWidget is a square whose color oscillates over time. It follows
// the last click.
type pulseWidget struct {
	center vkngmath.Vec2[float32]
	size   float32
}

func (w *pulseWidget) Draw(ctx *ui.DrawContext) {
	phase := math.Mod(hrtime.Now().Seconds(), 2.0) * math.Pi
	brightness := float32(0.5 + 0.5*math.Sin(phase))

	half := w.size / 2
	bounds := render.NewRect(w.center.X-half, w.center.Y-half, w.size, w.size)
	ctx.FillRect(bounds, vkngmath.Vec4[float32]{X: brightness, Y: 0.3, Z: 1 - brightness, W: 1})
}

// imageWidget draws a sampled texture stretched across its bounds.
type imageWidget struct {
	bounds  render.Rect
	texture *render.Texture
	tint    vkngmath.Vec4[float32]
}

func (w *imageWidget) Draw(ctx *ui.DrawContext) {
	ctx.TexturedRect(w.bounds, render.FullTextureUV, w.texture, w.tint)
}

// checkerboardPixels builds a two-tone RGBA checkerboard.
func checkerboardPixels(width, height, cell int) []byte {
	pixels := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			shade := byte(0x66)
			if (x/cell+y/cell)%2 == 0 {
				shade = 0xE6
			}

			offset := (y*width + x) * 4
			pixels[offset] = shade
			pixels[offset+1] = shade
			pixels[offset+2] = shade
			pixels[offset+3] = 0xFF
		}
	}
	return pixels
}

// demoHandler drives a small widget tree: a dark background panel, a
// header bar, a checkerboard image, and a pulsing square that jumps to
// wherever the user clicks.
type demoHandler struct {
	tree *ui.Tree

	background *panelWidget
	header     *panelWidget
	image      *imageWidget
	pulse      *pulseWidget

	mouseX, mouseY int
}

func newDemoHandler(texture *render.Texture) *demoHandler {
	handler := &demoHandler{
		tree: ui.NewTree(64),
		background: &panelWidget{
			color: vkngmath.Vec4[float32]{X: 0.08, Y: 0.08, Z: 0.1, W: 1},
		},
		header: &panelWidget{
			color: vkngmath.Vec4[float32]{X: 0.16, Y: 0.16, Z: 0.22, W: 1},
		},
		image: &imageWidget{
			texture: texture,
			tint:    vkngmath.Vec4[float32]{X: 1, Y: 1, Z: 1, W: 1},
		},
		pulse: &pulseWidget{
			center: vkngmath.Vec2[float32]{X: 400, Y: 300},
			size:   80,
		},
	}

	// 64 nodes is far more than the demo tree needs, so insertion
	// cannot fail here.
	root, err := handler.tree.InsertRoot(handler.background)
	if err != nil {
		panic(err)
	}
	if _, err = handler.tree.Insert(root, handler.header); err != nil {
		panic(err)
	}
	if _, err = handler.tree.Insert(root, handler.image); err != nil {
		panic(err)
	}
	if _, err = handler.tree.Insert(root, handler.pulse); err != nil {
		panic(err)
	}
	return handler
}

func (h *demoHandler) OnCreate(window handles.Handle[*render.Window]) {}

func (h *demoHandler) OnRedraw(ctx *ui.DrawContext, width, height int) {
	h.background.bounds = render.NewRect(0, 0, float32(width), float32(height))
	h.header.bounds = render.NewRect(0, 0, float32(width), 48)
	h.image.bounds = render.NewRect(float32(width)-144, float32(height)-144, 128, 128)

	h.tree.Draw(ctx)
}

func (h *demoHandler) OnMouseMove(x, y int) {
	h.mouseX = x
	h.mouseY = y
}

func (h *demoHandler) OnMouseButton(button ui.MouseButton, pressed bool, x, y int) {
	if button == ui.MouseButtonLeft && pressed {
		h.pulse.center = vkngmath.Vec2[float32]{X: float32(x), Y: float32(y)}
	}
}

func (h *demoHandler) OnClose() {}
