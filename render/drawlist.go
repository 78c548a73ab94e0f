package render

import (
	"math"

	vkngmath "github.com/vkngwrapper/math"
)

// Rect is an axis-aligned rectangle in pixel coordinates. Min is the
// top-left corner and Max the bottom-right.
type Rect struct {
	Min vkngmath.Vec2[float32]
	Max vkngmath.Vec2[float32]
}

// NewRect builds a Rect from a top-left corner and a size.
func NewRect(x, y, width, height float32) Rect {
	return Rect{
		Min: vkngmath.Vec2[float32]{X: x, Y: y},
		Max: vkngmath.Vec2[float32]{X: x + width, Y: y + height},
	}
}

// Width reports the rectangle's horizontal extent.
func (r Rect) Width() float32 { return r.Max.X - r.Min.X }

// Height reports the rectangle's vertical extent.
func (r Rect) Height() float32 { return r.Max.Y - r.Min.Y }

// Vertex is the layout of a single geometry vertex as uploaded to the GPU.
type Vertex struct {
	Position vkngmath.Vec2[float32]
	UV       vkngmath.Vec2[float32]
	Color    vkngmath.Vec4[float32]
}

// FullTextureUV maps a rectangle's corners onto the whole texture.
var FullTextureUV = Rect{
	Min: vkngmath.Vec2[float32]{X: 0, Y: 0},
	Max: vkngmath.Vec2[float32]{X: 1, Y: 1},
}

// Batch is a contiguous run of indices drawn with a single texture. A nil
// Texture marks untextured geometry, which samples the renderer's built-in
// white pixel.
type Batch struct {
	Texture    *Texture
	FirstIndex int
	IndexCount int
}

// DrawList accumulates untransformed 2d geometry for a single frame. It is
// reset and refilled each frame rather than reallocated, so its backing
// slices grow to the high-water mark of a window's content and stay there.
//
// Indices are 16-bit. A draw list that would push the vertex count past
// the 16-bit limit indicates a runaway caller, so PushRect panics rather
// than silently producing wrapped indices.
type DrawList struct {
	vertices []Vertex
	indices  []uint16
	batches  []Batch
}

// PushRect appends a solid-color rectangle to the list.
func (l *DrawList) PushRect(rect Rect, color vkngmath.Vec4[float32]) {
	l.PushTexturedRect(rect, FullTextureUV, nil, color)
}

// PushTexturedRect appends a rectangle sampling the region uv of texture,
// modulated by color. Consecutive rects sharing a texture merge into one
// batch.
func (l *DrawList) PushTexturedRect(rect Rect, uv Rect, texture *Texture, color vkngmath.Vec4[float32]) {
	base := len(l.vertices)
	if base+4 > math.MaxUint16+1 {
		panic("render: draw list exceeds 16-bit index range")
	}

	firstIndex := len(l.indices)
	if len(l.batches) > 0 && l.batches[len(l.batches)-1].Texture == texture {
		l.batches[len(l.batches)-1].IndexCount += 6
	} else {
		l.batches = append(l.batches, Batch{
			Texture:    texture,
			FirstIndex: firstIndex,
			IndexCount: 6,
		})
	}

	l.vertices = append(l.vertices,
		Vertex{Position: rect.Min, UV: uv.Min, Color: color},
		Vertex{
			Position: vkngmath.Vec2[float32]{X: rect.Max.X, Y: rect.Min.Y},
			UV:       vkngmath.Vec2[float32]{X: uv.Max.X, Y: uv.Min.Y},
			Color:    color,
		},
		Vertex{Position: rect.Max, UV: uv.Max, Color: color},
		Vertex{
			Position: vkngmath.Vec2[float32]{X: rect.Min.X, Y: rect.Max.Y},
			UV:       vkngmath.Vec2[float32]{X: uv.Min.X, Y: uv.Max.Y},
			Color:    color,
		},
	)
	l.indices = append(l.indices,
		uint16(base), uint16(base+1), uint16(base+2),
		uint16(base+2), uint16(base+3), uint16(base),
	)
}

// VertexCount reports the number of vertices pushed since the last Reset.
func (l *DrawList) VertexCount() int { return len(l.vertices) }

// IndexCount reports the number of indices pushed since the last Reset.
func (l *DrawList) IndexCount() int { return len(l.indices) }

// Vertices exposes the accumulated vertex data.
func (l *DrawList) Vertices() []Vertex { return l.vertices }

// Indices exposes the accumulated index data.
func (l *DrawList) Indices() []uint16 { return l.indices }

// Batches exposes the accumulated texture batches in push order.
func (l *DrawList) Batches() []Batch { return l.batches }

// Reset empties the list while retaining its backing capacity.
func (l *DrawList) Reset() {
	l.vertices = l.vertices[:0]
	l.indices = l.indices[:0]
	l.batches = l.batches[:0]
}
