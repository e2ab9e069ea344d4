package vulkan

import (
	"fmt"
	"strings"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

/** @brief A triangle geometry with every buffer resolved to its Vulkan object. */
type TriangleGeometry struct {
	VertexData   vk.Buffer
	VertexOffset uint64
	VertexCount  uint32
	VertexStride uint64
	VertexFormat vk.Format

	IndexData   vk.Buffer
	IndexOffset uint64
	IndexCount  uint32
	IndexType   vk.IndexType

	TransformData   vk.Buffer
	TransformOffset uint64

	Opaque bool
}

/** @brief What the extension needs to create or build a structure. */
type AccelerationStructureInfo struct {
	Level         raytracing.AccelerationStructureLevel
	Flags         raytracing.BuildFlags
	InstanceCount uint32
	Geometries    []TriangleGeometry
}

/** @brief One build or refit, structures given as native extension handles. */
type AccelerationStructureBuild struct {
	Info           *AccelerationStructureInfo
	InstanceData   vk.Buffer
	InstanceOffset uint64
	Update         bool
	Dst            uint64
	Src            uint64
	Scratch        vk.Buffer
	ScratchOffset  uint64
}

/** @brief Ray tracing pipeline creation parameters. */
type RayTracingPipelineInfo struct {
	Stages            []vk.PipelineShaderStageCreateInfo
	Groups            []raytracing.ShaderGroup
	MaxRecursionDepth uint32
	Layout            vk.PipelineLayout
}

/** @brief A trace dispatch. Regions are byte ranges of Table. */
type TraceRays struct {
	Table    vk.Buffer
	RayGen   metadata.StridedRange
	Miss     metadata.StridedRange
	HitGroup metadata.StridedRange
	Width    uint32
	Height   uint32
	Depth    uint32
}

/**
 * @brief The ray tracing extension entry points. The core loader does not
 * expose them, so the host resolves them once (vkGetDeviceProcAddr) and hands
 * the table to NewContext. Acceleration structures travel as their native
 * 64-bit handles.
 */
type RayTracingDispatch struct {
	CreateAccelerationStructure                func(device vk.Device, info *AccelerationStructureInfo) (uint64, vk.Result)
	DestroyAccelerationStructure               func(device vk.Device, structure uint64)
	GetAccelerationStructureMemoryRequirements func(device vk.Device, structure uint64, kind raytracing.MemoryRequirementsKind) raytracing.MemoryRequirements
	BindAccelerationStructureMemory            func(device vk.Device, structure uint64, memory vk.DeviceMemory, offset uint64) vk.Result
	GetAccelerationStructureHandle             func(device vk.Device, structure uint64) (uint64, vk.Result)
	CmdBuildAccelerationStructure              func(cmd vk.CommandBuffer, build *AccelerationStructureBuild)
	CreateRayTracingPipeline                   func(device vk.Device, info *RayTracingPipelineInfo) (vk.Pipeline, vk.Result)
	GetShaderGroupHandles                      func(device vk.Device, pipeline vk.Pipeline, firstGroup, groupCount uint32, data []byte) vk.Result
	CmdTraceRays                               func(cmd vk.CommandBuffer, trace *TraceRays)
	// Returns the pNext chain of a descriptor write carrying structures.
	// Each call returns a fresh chain that must stay valid until the
	// vkUpdateDescriptorSets call it is used in returns.
	AccelerationStructureWriteChain func(structures []uint64) unsafe.Pointer
	Properties                      func(physical vk.PhysicalDevice) raytracing.RayTracingProperties
}

// Validate reports every entry point the table is missing.
func (d *RayTracingDispatch) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: no ray tracing dispatch table", core.ErrInvalidArgument)
	}
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("CreateAccelerationStructure", d.CreateAccelerationStructure != nil)
	check("DestroyAccelerationStructure", d.DestroyAccelerationStructure != nil)
	check("GetAccelerationStructureMemoryRequirements", d.GetAccelerationStructureMemoryRequirements != nil)
	check("BindAccelerationStructureMemory", d.BindAccelerationStructureMemory != nil)
	check("GetAccelerationStructureHandle", d.GetAccelerationStructureHandle != nil)
	check("CmdBuildAccelerationStructure", d.CmdBuildAccelerationStructure != nil)
	check("CreateRayTracingPipeline", d.CreateRayTracingPipeline != nil)
	check("GetShaderGroupHandles", d.GetShaderGroupHandles != nil)
	check("CmdTraceRays", d.CmdTraceRays != nil)
	check("AccelerationStructureWriteChain", d.AccelerationStructureWriteChain != nil)
	check("Properties", d.Properties != nil)
	if len(missing) > 0 {
		return fmt.Errorf("%w: ray tracing dispatch is missing %s", core.ErrInvalidArgument, strings.Join(missing, ", "))
	}
	return nil
}
