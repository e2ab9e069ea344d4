package raytracing

// Opaque device object handles. Zero is the null handle for every kind. The
// backend decides what the numbers mean; the builders only pass them along.
type (
	Buffer                uint64
	DeviceMemory          uint64
	AccelerationStructure uint64
	CommandBuffer         uint64
	DescriptorPool        uint64
	DescriptorSetLayout   uint64
	DescriptorSet         uint64
	PipelineLayout        uint64
	Pipeline              uint64
	ShaderModule          uint64
	ImageView             uint64
	Sampler               uint64
)

// BufferUsage mirrors the device buffer usage bits.
type BufferUsage uint32

const (
	BufferUsageTransferSrc   BufferUsage = 0x00000001
	BufferUsageTransferDst   BufferUsage = 0x00000002
	BufferUsageUniformBuffer BufferUsage = 0x00000010
	BufferUsageStorageBuffer BufferUsage = 0x00000020
	BufferUsageIndexBuffer   BufferUsage = 0x00000040
	BufferUsageVertexBuffer  BufferUsage = 0x00000080
	// Scratch, instance and shader binding table buffers.
	BufferUsageRayTracing BufferUsage = 0x00000400
)

// MemoryProperty mirrors the device memory property bits.
type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal  MemoryProperty = 0x00000001
	MemoryPropertyHostVisible  MemoryProperty = 0x00000002
	MemoryPropertyHostCoherent MemoryProperty = 0x00000004
)

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type AccelerationStructureLevel uint32

const (
	TopLevel    AccelerationStructureLevel = 0
	BottomLevel AccelerationStructureLevel = 1
)

func (l AccelerationStructureLevel) String() string {
	if l == TopLevel {
		return "top-level"
	}
	return "bottom-level"
}

// BuildFlags mirrors the device acceleration structure build flags.
type BuildFlags uint32

const (
	BuildAllowUpdate     BuildFlags = 0x00000001
	BuildAllowCompaction BuildFlags = 0x00000002
	BuildPreferFastTrace BuildFlags = 0x00000004
	BuildPreferFastBuild BuildFlags = 0x00000008
)

type MemoryRequirementsKind uint32

const (
	MemoryRequirementsObject        MemoryRequirementsKind = 0
	MemoryRequirementsBuildScratch  MemoryRequirementsKind = 1
	MemoryRequirementsUpdateScratch MemoryRequirementsKind = 2
)

// AccelerationStructureInfo describes the shape of a structure: either a list
// of triangle geometries (bottom level) or a number of instances (top level).
type AccelerationStructureInfo struct {
	Level         AccelerationStructureLevel
	Flags         BuildFlags
	InstanceCount uint32
	Geometries    []GeometryDescriptor
}

// BuildCommand is one recorded build or refit.
type BuildCommand struct {
	Info *AccelerationStructureInfo
	// Instance records, top level only.
	InstanceData   Buffer
	InstanceOffset uint64
	// Update refits Src into Dst instead of building from scratch.
	Update        bool
	Dst           AccelerationStructure
	Src           AccelerationStructure
	Scratch       Buffer
	ScratchOffset uint64
}

// RayTracingProperties are the device limits the builders depend on.
type RayTracingProperties struct {
	ShaderGroupHandleSize uint32
	MaxRecursionDepth     uint32
	MaxGeometryCount      uint64
	MaxInstanceCount      uint64
}

// ExecutionContext is the submission and memory side of a device: one-shot
// command buffers, blocking submits and host mapped memory.
type ExecutionContext interface {
	BeginOneShotCommandBuffer() (CommandBuffer, error)
	// SubmitAndWaitIdle ends recording, submits cmd and blocks until the
	// queue is idle. The command buffer is freed afterwards.
	SubmitAndWaitIdle(cmd CommandBuffer) error

	CreateBuffer(size uint64, usage BufferUsage, properties MemoryProperty) (Buffer, DeviceMemory, error)
	DestroyBuffer(buffer Buffer, memory DeviceMemory)
	AllocateMemory(requirements MemoryRequirements, properties MemoryProperty) (DeviceMemory, error)
	FreeMemory(memory DeviceMemory)

	// MapMemory returns a host view of size bytes starting at offset. The
	// slice is only valid until UnmapMemory.
	MapMemory(memory DeviceMemory, offset, size uint64) ([]byte, error)
	UnmapMemory(memory DeviceMemory)
}

// AccelerationStructureDevice covers creating, sizing, binding and building
// acceleration structures.
type AccelerationStructureDevice interface {
	CreateAccelerationStructure(info *AccelerationStructureInfo) (AccelerationStructure, error)
	DestroyAccelerationStructure(as AccelerationStructure)
	AccelerationStructureMemoryRequirements(as AccelerationStructure, kind MemoryRequirementsKind) (MemoryRequirements, error)
	BindAccelerationStructureMemory(as AccelerationStructure, memory DeviceMemory, offset uint64) error
	// AccelerationStructureHandle returns the opaque 64-bit value stored in
	// instance records to reference a bottom-level structure.
	AccelerationStructureHandle(as AccelerationStructure) (uint64, error)

	CmdBuildAccelerationStructure(cmd CommandBuffer, build *BuildCommand)
	// CmdAccelerationStructureBarrier orders a build before anything that
	// reads acceleration structures afterwards.
	CmdAccelerationStructureBarrier(cmd CommandBuffer)
}

type DescriptorDevice interface {
	CreateDescriptorPool(sizes []DescriptorPoolSize, maxSets uint32) (DescriptorPool, error)
	DestroyDescriptorPool(pool DescriptorPool)
	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error
}

type PipelineDevice interface {
	CreatePipelineLayout(setLayouts []DescriptorSetLayout) (PipelineLayout, error)
	DestroyPipelineLayout(layout PipelineLayout)
	CreateRayTracingPipeline(info *RayTracingPipelineInfo) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)
	// ShaderGroupHandles returns groupCount identifiers of handleSize bytes
	// each, in group creation order starting at firstGroup.
	ShaderGroupHandles(pipeline Pipeline, firstGroup, groupCount uint32, dataSize int) ([]byte, error)
}

// Device is everything a ray tracing pass needs from the backend. It is
// passed explicitly to every call; the builders never keep a device of their
// own.
type Device interface {
	ExecutionContext
	AccelerationStructureDevice
	DescriptorDevice
	PipelineDevice
	RayTracingProperties() RayTracingProperties
}
