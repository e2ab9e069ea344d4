package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

// GeometryDescriptor references one triangle mesh living in caller owned
// buffers. Zero IndexBuffer means the vertices are consumed three at a time.
// Zero TransformBuffer means identity.
type GeometryDescriptor struct {
	VertexBuffer Buffer
	VertexOffset uint64
	VertexCount  uint32
	VertexStride uint64

	IndexBuffer Buffer
	IndexOffset uint64
	IndexCount  uint32

	// A 3x4 row-major float matrix applied to the vertices before building.
	TransformBuffer Buffer
	TransformOffset uint64

	// Opaque geometry never invokes any-hit shaders.
	Opaque bool
}

func (g GeometryDescriptor) Indexed() bool {
	return g.IndexBuffer != 0
}

// TriangleCount is the number of primitives the geometry contributes.
func (g GeometryDescriptor) TriangleCount() uint32 {
	if g.Indexed() {
		return g.IndexCount / 3
	}
	return g.VertexCount / 3
}

func (g GeometryDescriptor) validate() error {
	if g.VertexBuffer == 0 {
		return fmt.Errorf("%w: geometry has no vertex buffer", core.ErrInvalidArgument)
	}
	if g.VertexCount == 0 || g.VertexStride == 0 {
		return fmt.Errorf("%w: geometry needs a vertex count and stride (count=%d stride=%d)", core.ErrInvalidArgument, g.VertexCount, g.VertexStride)
	}
	if g.Indexed() {
		if g.IndexCount == 0 || g.IndexCount%3 != 0 {
			return fmt.Errorf("%w: index count %d is not a whole number of triangles", core.ErrInvalidArgument, g.IndexCount)
		}
	} else if g.VertexCount%3 != 0 {
		return fmt.Errorf("%w: vertex count %d is not a whole number of triangles", core.ErrInvalidArgument, g.VertexCount)
	}
	return nil
}

// BuildDevice is what building a structure needs: acceleration structure
// commands plus host mapping for instance records.
type BuildDevice interface {
	ExecutionContext
	AccelerationStructureDevice
}

// BottomLevelBuilder turns one or more triangle geometries into a single
// bottom-level acceleration structure. Call order: AddVertexBuffer (any
// number of times), CreateAccelerationStructure, ComputeBufferSizes,
// Generate. Not safe for concurrent use.
type BottomLevelBuilder struct {
	label      string
	geometries []GeometryDescriptor
	flags      BuildFlags

	structure   AccelerationStructure
	resultSize  uint64
	scratchSize uint64
	isBound     bool
}

func NewBottomLevelBuilder() *BottomLevelBuilder {
	return &BottomLevelBuilder{
		label: core.NewIdentifier("blas"),
	}
}

func (b *BottomLevelBuilder) Label() string {
	return b.label
}

// AddVertexBuffer adds a non-indexed triangle geometry.
func (b *BottomLevelBuilder) AddVertexBuffer(
	vertexBuffer Buffer,
	vertexOffset uint64,
	vertexCount uint32,
	vertexStride uint64,
	transformBuffer Buffer,
	transformOffset uint64,
	isOpaque bool) error {
	return b.AddGeometry(GeometryDescriptor{
		VertexBuffer:    vertexBuffer,
		VertexOffset:    vertexOffset,
		VertexCount:     vertexCount,
		VertexStride:    vertexStride,
		TransformBuffer: transformBuffer,
		TransformOffset: transformOffset,
		Opaque:          isOpaque,
	})
}

// AddIndexedVertexBuffer adds an indexed triangle geometry. Indices are 32 bit.
func (b *BottomLevelBuilder) AddIndexedVertexBuffer(
	vertexBuffer Buffer,
	vertexOffset uint64,
	vertexCount uint32,
	vertexStride uint64,
	indexBuffer Buffer,
	indexOffset uint64,
	indexCount uint32,
	transformBuffer Buffer,
	transformOffset uint64,
	isOpaque bool) error {
	return b.AddGeometry(GeometryDescriptor{
		VertexBuffer:    vertexBuffer,
		VertexOffset:    vertexOffset,
		VertexCount:     vertexCount,
		VertexStride:    vertexStride,
		IndexBuffer:     indexBuffer,
		IndexOffset:     indexOffset,
		IndexCount:      indexCount,
		TransformBuffer: transformBuffer,
		TransformOffset: transformOffset,
		Opaque:          isOpaque,
	})
}

// AddGeometry appends g. Geometry cannot change once the structure exists.
func (b *BottomLevelBuilder) AddGeometry(g GeometryDescriptor) error {
	if b.structure != 0 {
		return fmt.Errorf("%w: %s: geometry added after the structure was created", core.ErrUsageSequence, b.label)
	}
	if err := g.validate(); err != nil {
		return fmt.Errorf("%s: %w", b.label, err)
	}
	b.geometries = append(b.geometries, g)
	return nil
}

func (b *BottomLevelBuilder) Geometries() []GeometryDescriptor {
	out := make([]GeometryDescriptor, len(b.geometries))
	copy(out, b.geometries)
	return out
}

func (b *BottomLevelBuilder) info() *AccelerationStructureInfo {
	return &AccelerationStructureInfo{
		Level:      BottomLevel,
		Flags:      b.flags,
		Geometries: b.geometries,
	}
}

// CreateAccelerationStructure creates the empty device object for the
// accumulated geometry. allowUpdate makes later refits possible at the price
// of a larger scratch buffer.
func (b *BottomLevelBuilder) CreateAccelerationStructure(dev AccelerationStructureDevice, allowUpdate bool) (AccelerationStructure, error) {
	if b.structure != 0 {
		return 0, fmt.Errorf("%w: %s: structure already created", core.ErrUsageSequence, b.label)
	}
	if len(b.geometries) == 0 {
		return 0, fmt.Errorf("%w: %s: no geometry added", core.ErrInvalidArgument, b.label)
	}

	b.flags = BuildPreferFastTrace
	if allowUpdate {
		b.flags |= BuildAllowUpdate
	}

	as, err := dev.CreateAccelerationStructure(b.info())
	if err != nil {
		core.LogError("%s: failed to create acceleration structure: %s", b.label, err)
		return 0, fmt.Errorf("%s: create acceleration structure: %w", b.label, err)
	}
	b.structure = as
	core.LogDebug("%s: created for %d geometries (allowUpdate=%t)", b.label, len(b.geometries), allowUpdate)
	return as, nil
}

func (b *BottomLevelBuilder) Structure() AccelerationStructure {
	return b.structure
}

func (b *BottomLevelBuilder) AllowsUpdate() bool {
	return b.flags&BuildAllowUpdate != 0
}

// ComputeBufferSizes queries how much result memory and scratch space the
// structure needs.
func (b *BottomLevelBuilder) ComputeBufferSizes(dev AccelerationStructureDevice) (BufferSizes, error) {
	if b.structure == 0 {
		return BufferSizes{}, fmt.Errorf("%w: %s: sizes requested before the structure was created", core.ErrUsageSequence, b.label)
	}
	result, scratch, err := computeSizes(dev, b.structure)
	if err != nil {
		return BufferSizes{}, fmt.Errorf("%s: %w", b.label, err)
	}
	b.resultSize = result.Size
	b.scratchSize = scratch.Size
	return BufferSizes{Result: result, Scratch: scratch}, nil
}

// Generate records the build into cmd. The first call binds the structure to
// resultMemory. With updateOnly the structure is refit from previous instead
// of rebuilt, which requires allowUpdate at creation.
func (b *BottomLevelBuilder) Generate(
	dev AccelerationStructureDevice,
	cmd CommandBuffer,
	scratch Buffer,
	scratchOffset uint64,
	resultMemory DeviceMemory,
	resultOffset uint64,
	updateOnly bool,
	previous AccelerationStructure) error {
	if b.resultSize == 0 || b.scratchSize == 0 {
		return fmt.Errorf("%w: %s: generate called before ComputeBufferSizes", core.ErrBufferSizes, b.label)
	}
	if scratch == 0 {
		return fmt.Errorf("%w: %s: no scratch buffer", core.ErrInvalidArgument, b.label)
	}
	if updateOnly {
		if !b.AllowsUpdate() {
			return fmt.Errorf("%w: %s: refit requested but the structure was created without allowUpdate", core.ErrUsageSequence, b.label)
		}
		if previous == 0 {
			return fmt.Errorf("%w: %s: refit requested without a previous structure", core.ErrInvalidArgument, b.label)
		}
		if !b.isBound {
			return fmt.Errorf("%w: %s", core.ErrNotBound, b.label)
		}
	}

	if !b.isBound {
		if resultMemory == 0 {
			return fmt.Errorf("%w: %s: no result memory", core.ErrNotBound, b.label)
		}
		if err := dev.BindAccelerationStructureMemory(b.structure, resultMemory, resultOffset); err != nil {
			core.LogError("%s: failed to bind memory: %s", b.label, err)
			return fmt.Errorf("%s: bind memory: %w", b.label, err)
		}
		b.isBound = true
	}

	build := &BuildCommand{
		Info:          b.info(),
		Update:        updateOnly,
		Dst:           b.structure,
		Scratch:       scratch,
		ScratchOffset: scratchOffset,
	}
	if updateOnly {
		build.Src = previous
	}
	dev.CmdBuildAccelerationStructure(cmd, build)
	dev.CmdAccelerationStructureBarrier(cmd)

	core.LogDebug("%s: recorded %s (update=%t)", b.label, BottomLevel, updateOnly)
	return nil
}
