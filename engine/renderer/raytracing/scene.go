package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
)

const (
	metricBottomLevel = "blas"
	metricTopLevel    = "tlas"
	metricRefit       = "refit"
)

// Mesh is a triangle mesh already uploaded by the geometry source. Vertex
// positions are three float32 at the start of every vertex.
type Mesh struct {
	Name string

	VertexBuffer Buffer
	VertexOffset uint64
	VertexCount  uint32
	VertexStride uint64

	// Optional 32-bit indices.
	IndexBuffer Buffer
	IndexOffset uint64
	IndexCount  uint32

	Opaque bool
}

// MeshInstance places Mesh (an index into the scene's meshes) in the world.
type MeshInstance struct {
	Mesh          int
	Transform     math.Mat4
	HitGroupIndex uint32
	// Zero means DefaultInstanceMask.
	Mask  uint8
	Flags InstanceFlags
}

// Scene owns one bottom-level structure per mesh and the top-level structure
// over all instances.
type Scene struct {
	label       string
	allowUpdate bool

	meshes    []Mesh
	instances []MeshInstance

	bottomLevels []*AccelerationStructureBuffers
	topLevel     *AccelerationStructureBuffers
	topBuilder   *TopLevelBuilder

	clock   *core.Clock
	metrics *core.BuildMetrics
}

type SceneOption func(*Scene)

// WithAllowUpdate keeps the top-level structure refittable so transforms can
// change without a full rebuild.
func WithAllowUpdate(allowUpdate bool) SceneOption {
	return func(s *Scene) {
		s.allowUpdate = allowUpdate
	}
}

// WithConfig takes the scene options from the ray tracing configuration.
func WithConfig(cfg core.RayTracingConfig) SceneOption {
	return func(s *Scene) {
		s.allowUpdate = cfg.AllowUpdate
	}
}

func NewScene(meshes []Mesh, instances []MeshInstance, opts ...SceneOption) (*Scene, error) {
	if len(meshes) == 0 {
		return nil, fmt.Errorf("%w: scene without meshes", core.ErrInvalidArgument)
	}
	for i, in := range instances {
		if in.Mesh < 0 || in.Mesh >= len(meshes) {
			return nil, fmt.Errorf("%w: instance %d references mesh %d of %d", core.ErrInvalidArgument, i, in.Mesh, len(meshes))
		}
	}
	s := &Scene{
		label:     core.NewIdentifier("scene"),
		meshes:    append([]Mesh(nil), meshes...),
		instances: append([]MeshInstance(nil), instances...),
		clock:     core.NewClock(),
		metrics:   core.NewBuildMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scene) Label() string {
	return s.label
}

func (s *Scene) Metrics() *core.BuildMetrics {
	return s.metrics
}

// TopLevel is the structure to bind for tracing. Zero before Build.
func (s *Scene) TopLevel() AccelerationStructure {
	if s.topLevel == nil {
		return 0
	}
	return s.topLevel.Structure
}

func (s *Scene) BottomLevel(mesh int) AccelerationStructure {
	if mesh < 0 || mesh >= len(s.bottomLevels) {
		return 0
	}
	return s.bottomLevels[mesh].Structure
}

// Build creates every structure. All bottom levels are recorded into one
// command buffer and submitted before the top level is built.
func (s *Scene) Build(dev Device) error {
	if s.topLevel != nil {
		return fmt.Errorf("%w: %s: scene already built", core.ErrUsageSequence, s.label)
	}
	if err := s.buildBottomLevels(dev); err != nil {
		s.Destroy(dev)
		return err
	}
	if err := s.buildTopLevel(dev); err != nil {
		s.Destroy(dev)
		return err
	}
	core.LogInfo("%s: built %d meshes, %d instances", s.label, len(s.meshes), len(s.instances))
	return nil
}

func (s *Scene) buildBottomLevels(dev Device) error {
	s.clock.Start()
	cmd, err := dev.BeginOneShotCommandBuffer()
	if err != nil {
		return fmt.Errorf("%s: begin command buffer: %w", s.label, err)
	}
	for _, mesh := range s.meshes {
		bufs, err := s.recordBottomLevel(dev, cmd, mesh)
		if err != nil {
			// Builds recorded so far still run so their buffers are idle
			// before Build destroys them.
			if submitErr := dev.SubmitAndWaitIdle(cmd); submitErr != nil {
				core.LogError("%s: submit after failed record: %s", s.label, submitErr)
			}
			return err
		}
		s.bottomLevels = append(s.bottomLevels, bufs)
	}
	if err := dev.SubmitAndWaitIdle(cmd); err != nil {
		return fmt.Errorf("%s: submit bottom-level builds: %w", s.label, err)
	}
	s.clock.Update()
	s.metrics.Record(metricBottomLevel, s.clock.Elapsed())
	return nil
}

func (s *Scene) recordBottomLevel(dev Device, cmd CommandBuffer, mesh Mesh) (*AccelerationStructureBuffers, error) {
	b := NewBottomLevelBuilder()
	if err := b.AddGeometry(GeometryDescriptor{
		VertexBuffer: mesh.VertexBuffer,
		VertexOffset: mesh.VertexOffset,
		VertexCount:  mesh.VertexCount,
		VertexStride: mesh.VertexStride,
		IndexBuffer:  mesh.IndexBuffer,
		IndexOffset:  mesh.IndexOffset,
		IndexCount:   mesh.IndexCount,
		Opaque:       mesh.Opaque,
	}); err != nil {
		return nil, fmt.Errorf("mesh %q: %w", mesh.Name, err)
	}
	as, err := b.CreateAccelerationStructure(dev, false)
	if err != nil {
		return nil, fmt.Errorf("mesh %q: %w", mesh.Name, err)
	}
	sizes, err := b.ComputeBufferSizes(dev)
	if err != nil {
		dev.DestroyAccelerationStructure(as)
		return nil, fmt.Errorf("mesh %q: %w", mesh.Name, err)
	}
	bufs, err := AllocateAccelerationStructureBuffers(dev, b.Label(), as, sizes)
	if err != nil {
		dev.DestroyAccelerationStructure(as)
		return nil, fmt.Errorf("mesh %q: %w", mesh.Name, err)
	}
	if err := b.Generate(dev, cmd, bufs.Scratch, 0, bufs.ResultMemory, 0, false, 0); err != nil {
		bufs.Destroy(dev)
		return nil, fmt.Errorf("mesh %q: %w", mesh.Name, err)
	}
	return bufs, nil
}

func (s *Scene) buildTopLevel(dev Device) error {
	s.clock.Start()
	t := NewTopLevelBuilder()
	for i, in := range s.instances {
		mask := in.Mask
		if mask == 0 {
			mask = DefaultInstanceMask
		}
		if err := t.AddInstanceWithOptions(Instance{
			BottomLevel:   s.bottomLevels[in.Mesh].Structure,
			Transform:     in.Transform,
			InstanceID:    uint32(i),
			HitGroupIndex: in.HitGroupIndex,
			Mask:          mask,
			Flags:         in.Flags,
		}); err != nil {
			return fmt.Errorf("%s: instance %d: %w", s.label, i, err)
		}
	}
	as, err := t.CreateAccelerationStructure(dev, s.allowUpdate)
	if err != nil {
		return err
	}
	sizes, err := t.ComputeBufferSizes(dev)
	if err != nil {
		dev.DestroyAccelerationStructure(as)
		return err
	}
	bufs, err := AllocateAccelerationStructureBuffers(dev, t.Label(), as, sizes)
	if err != nil {
		dev.DestroyAccelerationStructure(as)
		return err
	}
	s.topLevel = bufs
	s.topBuilder = t

	if err := s.submitTopLevel(dev, false); err != nil {
		return err
	}
	s.clock.Update()
	s.metrics.Record(metricTopLevel, s.clock.Elapsed())
	return nil
}

func (s *Scene) submitTopLevel(dev Device, updateOnly bool) error {
	cmd, err := dev.BeginOneShotCommandBuffer()
	if err != nil {
		return fmt.Errorf("%s: begin command buffer: %w", s.label, err)
	}
	var previous AccelerationStructure
	if updateOnly {
		previous = s.topLevel.Structure
	}
	if err := s.topBuilder.Generate(dev, cmd,
		s.topLevel.Scratch, 0,
		s.topLevel.ResultMemory, 0,
		s.topLevel.Instances, s.topLevel.InstancesMemory,
		updateOnly, previous); err != nil {
		if submitErr := dev.SubmitAndWaitIdle(cmd); submitErr != nil {
			core.LogError("%s: submit after failed record: %s", s.label, submitErr)
		}
		return err
	}
	if err := dev.SubmitAndWaitIdle(cmd); err != nil {
		return fmt.Errorf("%s: submit top-level build: %w", s.label, err)
	}
	return nil
}

// UpdateTransforms sets a new transform for every instance, in instance
// order, and refits the top level in place.
func (s *Scene) UpdateTransforms(dev Device, transforms []math.Mat4) error {
	if s.topBuilder == nil {
		return fmt.Errorf("%w: %s: scene not built", core.ErrUsageSequence, s.label)
	}
	if !s.allowUpdate {
		return fmt.Errorf("%w: %s: scene was built without updates enabled", core.ErrUsageSequence, s.label)
	}
	if len(transforms) != len(s.instances) {
		return fmt.Errorf("%w: %s: %d transforms for %d instances", core.ErrInvalidArgument, s.label, len(transforms), len(s.instances))
	}
	s.clock.Start()
	for i, m := range transforms {
		if err := s.topBuilder.SetInstanceTransform(i, m); err != nil {
			return err
		}
		s.instances[i].Transform = m
	}
	if err := s.submitTopLevel(dev, true); err != nil {
		return err
	}
	s.clock.Update()
	s.metrics.Record(metricRefit, s.clock.Elapsed())
	return nil
}

// Reconfigure applies cfg to a scene. Switching allow_update on a built
// scene rebuilds the top level, which replaces TopLevel; the returned flag
// reports that so descriptors referencing it can be rewritten.
func (s *Scene) Reconfigure(dev Device, cfg core.RayTracingConfig) (bool, error) {
	if cfg.AllowUpdate == s.allowUpdate {
		return false, nil
	}
	s.allowUpdate = cfg.AllowUpdate
	if s.topLevel == nil {
		return false, nil
	}
	s.topLevel.Destroy(dev)
	s.topLevel = nil
	s.topBuilder = nil
	if err := s.buildTopLevel(dev); err != nil {
		s.Destroy(dev)
		return false, err
	}
	core.LogInfo("%s: top level rebuilt with allow_update=%t", s.label, s.allowUpdate)
	return true, nil
}

// Destroy releases every structure. The device must be idle.
func (s *Scene) Destroy(dev Device) {
	s.topLevel.Destroy(dev)
	s.topLevel = nil
	s.topBuilder = nil
	for _, b := range s.bottomLevels {
		b.Destroy(dev)
	}
	s.bottomLevels = nil
	s.clock.Stop()
}
