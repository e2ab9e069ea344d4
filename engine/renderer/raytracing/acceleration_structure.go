package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

// AccelerationStructureBuffers owns a structure and every resource backing it.
// All of them are released together by Destroy.
type AccelerationStructureBuffers struct {
	Label     string
	Structure AccelerationStructure

	Scratch       Buffer
	ScratchMemory DeviceMemory
	ResultMemory  DeviceMemory
	// Instance records, top level only.
	Instances       Buffer
	InstancesMemory DeviceMemory

	ScratchSize  uint64
	ResultSize   uint64
	InstanceSize uint64
}

// BufferSizes is the outcome of a sizing query.
type BufferSizes struct {
	Result MemoryRequirements
	// Large enough for both a full build and a refit.
	Scratch MemoryRequirements
	// Zero for bottom-level structures.
	Instances uint64
}

// computeSizes queries the object and scratch requirements of as. The
// scratch size is the larger of the build and update needs so one buffer
// serves both paths.
func computeSizes(dev AccelerationStructureDevice, as AccelerationStructure) (result MemoryRequirements, scratch MemoryRequirements, err error) {
	result, err = dev.AccelerationStructureMemoryRequirements(as, MemoryRequirementsObject)
	if err != nil {
		return result, scratch, fmt.Errorf("query object memory: %w", err)
	}
	build, err := dev.AccelerationStructureMemoryRequirements(as, MemoryRequirementsBuildScratch)
	if err != nil {
		return result, scratch, fmt.Errorf("query build scratch memory: %w", err)
	}
	update, err := dev.AccelerationStructureMemoryRequirements(as, MemoryRequirementsUpdateScratch)
	if err != nil {
		return result, scratch, fmt.Errorf("query update scratch memory: %w", err)
	}
	scratch = build
	if update.Size > scratch.Size {
		scratch = update
	}
	return result, scratch, nil
}

// AllocateAccelerationStructureBuffers creates the scratch buffer, result
// memory and, when sizes.Instances is set, a host visible instance buffer.
// Partial allocations are released on failure.
func AllocateAccelerationStructureBuffers(dev ExecutionContext, label string, as AccelerationStructure, sizes BufferSizes) (*AccelerationStructureBuffers, error) {
	if sizes.Result.Size == 0 || sizes.Scratch.Size == 0 {
		return nil, fmt.Errorf("%w: %s result=%d scratch=%d", core.ErrBufferSizes, label, sizes.Result.Size, sizes.Scratch.Size)
	}
	bufs := &AccelerationStructureBuffers{
		Label:        label,
		Structure:    as,
		ScratchSize:  sizes.Scratch.Size,
		ResultSize:   sizes.Result.Size,
		InstanceSize: sizes.Instances,
	}

	var err error
	bufs.Scratch, bufs.ScratchMemory, err = dev.CreateBuffer(sizes.Scratch.Size, BufferUsageRayTracing, MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, fmt.Errorf("%s: create scratch buffer: %w", label, err)
	}
	bufs.ResultMemory, err = dev.AllocateMemory(sizes.Result, MemoryPropertyDeviceLocal)
	if err != nil {
		dev.DestroyBuffer(bufs.Scratch, bufs.ScratchMemory)
		return nil, fmt.Errorf("%s: allocate result memory: %w", label, err)
	}
	if sizes.Instances > 0 {
		bufs.Instances, bufs.InstancesMemory, err = dev.CreateBuffer(sizes.Instances, BufferUsageRayTracing, MemoryPropertyHostVisible|MemoryPropertyHostCoherent)
		if err != nil {
			dev.DestroyBuffer(bufs.Scratch, bufs.ScratchMemory)
			dev.FreeMemory(bufs.ResultMemory)
			return nil, fmt.Errorf("%s: create instance buffer: %w", label, err)
		}
	}
	core.LogDebug("%s: allocated scratch=%d result=%d instances=%d bytes", label, bufs.ScratchSize, bufs.ResultSize, bufs.InstanceSize)
	return bufs, nil
}

// Destroy releases the structure and all its memory. The caller guarantees no
// command buffer in flight still references it. Safe to call more than once.
func (b *AccelerationStructureBuffers) Destroy(dev Device) {
	if b == nil {
		return
	}
	if b.Structure != 0 {
		dev.DestroyAccelerationStructure(b.Structure)
		b.Structure = 0
	}
	if b.Scratch != 0 || b.ScratchMemory != 0 {
		dev.DestroyBuffer(b.Scratch, b.ScratchMemory)
		b.Scratch, b.ScratchMemory = 0, 0
	}
	if b.ResultMemory != 0 {
		dev.FreeMemory(b.ResultMemory)
		b.ResultMemory = 0
	}
	if b.Instances != 0 || b.InstancesMemory != 0 {
		dev.DestroyBuffer(b.Instances, b.InstancesMemory)
		b.Instances, b.InstancesMemory = 0, 0
	}
	core.LogDebug("%s: destroyed", b.Label)
}
