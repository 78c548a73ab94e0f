package render

import (
	"bytes"
	"encoding/binary"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/fathom/memutils"
	"golang.org/x/exp/slog"
)

// GeometryBuffer owns the host-visible memory one frame slot uploads its
// DrawList into. Vertex data sits at offset 0 and index data at the first
// offset past the vertices that satisfies the device's non-coherent atom
// alignment, so the two ranges can be bound at independent offsets of the
// same buffer.
//
// The buffer grows to exactly the size a draw list requires and never
// shrinks. There is no growth factor: window content tends to stabilize at
// a steady vertex count after a few frames, so speculative headroom would
// only waste host-visible memory.
type GeometryBuffer struct {
	device Device
	logger *slog.Logger

	memory GeometryMemory

	vertexCount int
	indexCount  int
	indexOffset int
}

// NewGeometryBuffer creates an empty GeometryBuffer. No memory is allocated
// until the first Copy.
func NewGeometryBuffer(device Device, logger *slog.Logger) *GeometryBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeometryBuffer{
		device: device,
		logger: logger,
	}
}

// Copy uploads list's vertex and index data into the buffer, growing the
// backing memory first if the current allocation is too small.
func (b *GeometryBuffer) Copy(list *DrawList) error {
	atomSize := uint(b.device.NonCoherentAtomSize())
	memutils.DebugCheckPow2(atomSize, "device nonCoherentAtomSize")

	vertexBytes := binary.Size(list.Vertices())
	indexBytes := binary.Size(list.Indices())
	indexOffset := memutils.AlignUp(vertexBytes, atomSize)
	required := indexOffset + indexBytes

	b.vertexCount = list.VertexCount()
	b.indexCount = list.IndexCount()
	b.indexOffset = indexOffset

	if required == 0 {
		return nil
	}

	if b.memory == nil || b.memory.Size() < required {
		if b.memory != nil {
			b.memory.Destroy()
			b.memory = nil
		}

		memory, err := b.device.CreateGeometryMemory(required)
		if err != nil {
			return cerrors.Wrapf(err, "failed to grow geometry buffer to %d bytes", required)
		}
		b.memory = memory
		b.logger.Debug("GeometryBuffer::Copy",
			slog.Int("newSize", required),
		)
	}

	mapped := b.memory.Bytes()

	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, list.Vertices())
	if err != nil {
		return err
	}
	copy(mapped, buf.Bytes())

	buf.Reset()
	err = binary.Write(buf, common.ByteOrder, list.Indices())
	if err != nil {
		return err
	}
	copy(mapped[indexOffset:], buf.Bytes())

	return b.memory.Flush(0, b.memory.Size())
}

// Memory exposes the backing memory, or nil if nothing has been uploaded
// yet.
func (b *GeometryBuffer) Memory() GeometryMemory { return b.memory }

// VertexCount reports the number of vertices the last Copy uploaded.
func (b *GeometryBuffer) VertexCount() int { return b.vertexCount }

// IndexCount reports the number of indices the last Copy uploaded.
func (b *GeometryBuffer) IndexCount() int { return b.indexCount }

// IndexOffset reports the byte offset of the index data within the buffer.
func (b *GeometryBuffer) IndexOffset() int { return b.indexOffset }

// Destroy releases the backing memory. The caller must ensure the GPU is
// no longer reading from the buffer.
func (b *GeometryBuffer) Destroy() {
	if b.memory != nil {
		b.memory.Destroy()
		b.memory = nil
	}
	b.vertexCount = 0
	b.indexCount = 0
	b.indexOffset = 0
}
