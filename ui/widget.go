package ui

import (
	"github.com/vkngwrapper/fathom/handles"
	"github.com/vkngwrapper/fathom/render"
	vkngmath "github.com/vkngwrapper/math"
)

// Widget is the contract a tree node's content fulfills. Widgets hold
// their own state; the tree only owns their position in the hierarchy.
type Widget interface {
	// Draw emits the widget's geometry. It is called once per redraw in
	// tree order, parents before children.
	Draw(ctx *DrawContext)
}

// DrawContext collects draw commands during a redraw pass. It wraps the
// frame's DrawList so widgets never touch renderer internals directly.
type DrawContext struct {
	list *render.DrawList
}

// NewDrawContext wraps list for a redraw pass.
func NewDrawContext(list *render.DrawList) *DrawContext {
	return &DrawContext{list: list}
}

// FillRect draws a solid rectangle.
func (c *DrawContext) FillRect(bounds render.Rect, color vkngmath.Vec4[float32]) {
	c.list.PushRect(bounds, color)
}

// TexturedRect draws a rectangle sampling the region uv of texture,
// modulated by tint.
func (c *DrawContext) TexturedRect(bounds render.Rect, uv render.Rect, texture *render.Texture, tint vkngmath.Vec4[float32]) {
	c.list.PushTexturedRect(bounds, uv, texture, tint)
}

// WindowEventHandler is the boundary between the OS event loop and
// application code. The event loop owns window lifecycle; the application
// reacts. A handler is bound to a single window.
type WindowEventHandler interface {
	// OnCreate runs once after the window's swapchain exists.
	OnCreate(window handles.Handle[*render.Window])
	// OnRedraw runs once per frame to collect the window's geometry.
	OnRedraw(ctx *DrawContext, width, height int)
	// OnMouseMove reports cursor movement in window pixel coordinates.
	OnMouseMove(x, y int)
	// OnMouseButton reports a button press or release at the cursor's
	// current position.
	OnMouseButton(button MouseButton, pressed bool, x, y int)
	// OnClose runs when the user asks the window to close, before the
	// window is destroyed.
	OnClose()
}

// MouseButton identifies a mouse button in OnMouseButton events.
type MouseButton int

const (
	MouseButtonLeft MouseButton = iota
	MouseButtonMiddle
	MouseButtonRight
)
