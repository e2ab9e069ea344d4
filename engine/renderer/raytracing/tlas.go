package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
)

// TopLevelBuilder gathers instances of bottom-level structures into the
// scene structure that rays are traced against. Not safe for concurrent use.
type TopLevelBuilder struct {
	label     string
	instances []Instance
	flags     BuildFlags

	structure     AccelerationStructure
	resultSize    uint64
	scratchSize   uint64
	instancesSize uint64
	isBound       bool
}

func NewTopLevelBuilder() *TopLevelBuilder {
	return &TopLevelBuilder{
		label: core.NewIdentifier("tlas"),
	}
}

func (t *TopLevelBuilder) Label() string {
	return t.label
}

// AddInstance adds a fully visible instance with no flags.
func (t *TopLevelBuilder) AddInstance(blas AccelerationStructure, transform math.Mat4, instanceID, hitGroupIndex uint32) error {
	return t.AddInstanceWithOptions(Instance{
		BottomLevel:   blas,
		Transform:     transform,
		InstanceID:    instanceID,
		HitGroupIndex: hitGroupIndex,
		Mask:          DefaultInstanceMask,
	})
}

// AddInstanceWithOptions adds in as given, mask and flags included. Instances
// keep their insertion order in the instance buffer.
func (t *TopLevelBuilder) AddInstanceWithOptions(in Instance) error {
	if t.structure != 0 {
		return fmt.Errorf("%w: %s: instance added after the structure was created", core.ErrUsageSequence, t.label)
	}
	if err := in.validate(); err != nil {
		return fmt.Errorf("%s: %w", t.label, err)
	}
	t.instances = append(t.instances, in)
	return nil
}

// SetInstanceTransform replaces the transform of instance i, typically
// followed by a refit.
func (t *TopLevelBuilder) SetInstanceTransform(i int, transform math.Mat4) error {
	if i < 0 || i >= len(t.instances) {
		return fmt.Errorf("%w: %s: instance %d out of range [0,%d)", core.ErrInvalidArgument, t.label, i, len(t.instances))
	}
	t.instances[i].Transform = transform
	return nil
}

func (t *TopLevelBuilder) InstanceCount() int {
	return len(t.instances)
}

func (t *TopLevelBuilder) Instances() []Instance {
	out := make([]Instance, len(t.instances))
	copy(out, t.instances)
	return out
}

func (t *TopLevelBuilder) info() *AccelerationStructureInfo {
	return &AccelerationStructureInfo{
		Level:         TopLevel,
		Flags:         t.flags,
		InstanceCount: uint32(len(t.instances)),
	}
}

// CreateAccelerationStructure creates the empty device object sized for the
// instances added so far.
func (t *TopLevelBuilder) CreateAccelerationStructure(dev AccelerationStructureDevice, allowUpdate bool) (AccelerationStructure, error) {
	if t.structure != 0 {
		return 0, fmt.Errorf("%w: %s: structure already created", core.ErrUsageSequence, t.label)
	}
	t.flags = BuildPreferFastTrace
	if allowUpdate {
		t.flags |= BuildAllowUpdate
	}

	as, err := dev.CreateAccelerationStructure(t.info())
	if err != nil {
		core.LogError("%s: failed to create acceleration structure: %s", t.label, err)
		return 0, fmt.Errorf("%s: create acceleration structure: %w", t.label, err)
	}
	t.structure = as
	core.LogDebug("%s: created for %d instances (allowUpdate=%t)", t.label, len(t.instances), allowUpdate)
	return as, nil
}

func (t *TopLevelBuilder) Structure() AccelerationStructure {
	return t.structure
}

func (t *TopLevelBuilder) AllowsUpdate() bool {
	return t.flags&BuildAllowUpdate != 0
}

// ComputeBufferSizes queries result and scratch sizes and adds the instance
// buffer size, InstanceRecordSize bytes per instance.
func (t *TopLevelBuilder) ComputeBufferSizes(dev AccelerationStructureDevice) (BufferSizes, error) {
	if t.structure == 0 {
		return BufferSizes{}, fmt.Errorf("%w: %s: sizes requested before the structure was created", core.ErrUsageSequence, t.label)
	}
	result, scratch, err := computeSizes(dev, t.structure)
	if err != nil {
		return BufferSizes{}, fmt.Errorf("%s: %w", t.label, err)
	}
	t.resultSize = result.Size
	t.scratchSize = scratch.Size
	t.instancesSize = uint64(len(t.instances)) * InstanceRecordSize
	return BufferSizes{Result: result, Scratch: scratch, Instances: t.instancesSize}, nil
}

// writeInstances flattens every instance into the mapped instance memory.
func (t *TopLevelBuilder) writeInstances(dev BuildDevice, memory DeviceMemory) error {
	if len(t.instances) == 0 {
		return nil
	}
	handles := make(map[AccelerationStructure]uint64, len(t.instances))
	for _, in := range t.instances {
		if _, ok := handles[in.BottomLevel]; ok {
			continue
		}
		h, err := dev.AccelerationStructureHandle(in.BottomLevel)
		if err != nil {
			core.LogError("%s: failed to get bottom-level handle: %s", t.label, err)
			return fmt.Errorf("%s: bottom-level handle: %w", t.label, err)
		}
		handles[in.BottomLevel] = h
	}

	data, err := dev.MapMemory(memory, 0, t.instancesSize)
	if err != nil {
		core.LogError("%s: failed to map instance memory: %s", t.label, err)
		return fmt.Errorf("%s: map instance memory: %w", t.label, err)
	}
	defer dev.UnmapMemory(memory)
	if uint64(len(data)) < t.instancesSize {
		return fmt.Errorf("%w: %s: mapped %d bytes, need %d", core.ErrBufferSizes, t.label, len(data), t.instancesSize)
	}
	for i, in := range t.instances {
		in.Record(handles[in.BottomLevel]).Put(data[i*InstanceRecordSize:])
	}
	return nil
}

// Generate writes the instance records, binds the structure on the first
// call and records the build (or refit from previous when updateOnly) into
// cmd, followed by a barrier.
func (t *TopLevelBuilder) Generate(
	dev BuildDevice,
	cmd CommandBuffer,
	scratch Buffer,
	scratchOffset uint64,
	resultMemory DeviceMemory,
	resultOffset uint64,
	instances Buffer,
	instancesMemory DeviceMemory,
	updateOnly bool,
	previous AccelerationStructure) error {
	if t.resultSize == 0 || t.scratchSize == 0 {
		return fmt.Errorf("%w: %s: generate called before ComputeBufferSizes", core.ErrBufferSizes, t.label)
	}
	if scratch == 0 {
		return fmt.Errorf("%w: %s: no scratch buffer", core.ErrInvalidArgument, t.label)
	}
	if t.instancesSize > 0 && (instances == 0 || instancesMemory == 0) {
		return fmt.Errorf("%w: %s: no instance buffer for %d instances", core.ErrBufferSizes, t.label, len(t.instances))
	}
	if updateOnly {
		if !t.AllowsUpdate() {
			return fmt.Errorf("%w: %s: refit requested but the structure was created without allowUpdate", core.ErrUsageSequence, t.label)
		}
		if previous == 0 {
			return fmt.Errorf("%w: %s: refit requested without a previous structure", core.ErrInvalidArgument, t.label)
		}
		if !t.isBound {
			return fmt.Errorf("%w: %s", core.ErrNotBound, t.label)
		}
	}

	if err := t.writeInstances(dev, instancesMemory); err != nil {
		return err
	}

	if !t.isBound {
		if resultMemory == 0 {
			return fmt.Errorf("%w: %s: no result memory", core.ErrNotBound, t.label)
		}
		if err := dev.BindAccelerationStructureMemory(t.structure, resultMemory, resultOffset); err != nil {
			core.LogError("%s: failed to bind memory: %s", t.label, err)
			return fmt.Errorf("%s: bind memory: %w", t.label, err)
		}
		t.isBound = true
	}

	build := &BuildCommand{
		Info:          t.info(),
		InstanceData:  instances,
		Update:        updateOnly,
		Dst:           t.structure,
		Scratch:       scratch,
		ScratchOffset: scratchOffset,
	}
	if updateOnly {
		build.Src = previous
	}
	dev.CmdBuildAccelerationStructure(cmd, build)
	dev.CmdAccelerationStructureBarrier(cmd)

	core.LogDebug("%s: recorded %s over %d instances (update=%t)", t.label, TopLevel, len(t.instances), updateOnly)
	return nil
}
