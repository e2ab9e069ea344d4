package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

const (
	fakeHandleSize     = 32
	fakeHandleBase     = 0xA5000000
	fakeObjectBase     = 4096
	fakeBuildScratch   = 2048
	fakeUpdateScratch  = 1024
	fakePerPrimitive   = 64
	fakeRecursionLimit = 4
)

// fakeDevice records every call and keeps memory in host slices.
type fakeDevice struct {
	next  uint64
	props RayTracingProperties
	// Calls listed here fail with a device call error.
	fail map[string]bool

	memory     map[DeviceMemory][]byte
	buffers    map[Buffer]DeviceMemory
	mapped     map[DeviceMemory]bool
	structures map[AccelerationStructure]AccelerationStructureInfo
	bound      map[AccelerationStructure]DeviceMemory
	handleOf   map[AccelerationStructure]uint64
	pipelines  map[Pipeline]RayTracingPipelineInfo

	commandBuffers map[CommandBuffer]bool
	requirements   []MemoryRequirementsKind
	builds         []BuildCommand
	barriers       int
	submits        int

	pools          map[DescriptorPool][]DescriptorPoolSize
	setLayouts     map[DescriptorSetLayout][]DescriptorBinding
	sets           map[DescriptorSet]DescriptorSetLayout
	updates        [][]DescriptorWrite
	pipelineLayout map[PipelineLayout][]DescriptorSetLayout

	destroyed map[string]int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		props: RayTracingProperties{
			ShaderGroupHandleSize: fakeHandleSize,
			MaxRecursionDepth:     fakeRecursionLimit,
			MaxGeometryCount:      1 << 24,
			MaxInstanceCount:      1 << 24,
		},
		fail:           make(map[string]bool),
		memory:         make(map[DeviceMemory][]byte),
		buffers:        make(map[Buffer]DeviceMemory),
		mapped:         make(map[DeviceMemory]bool),
		structures:     make(map[AccelerationStructure]AccelerationStructureInfo),
		bound:          make(map[AccelerationStructure]DeviceMemory),
		handleOf:       make(map[AccelerationStructure]uint64),
		pipelines:      make(map[Pipeline]RayTracingPipelineInfo),
		commandBuffers: make(map[CommandBuffer]bool),
		pools:          make(map[DescriptorPool][]DescriptorPoolSize),
		setLayouts:     make(map[DescriptorSetLayout][]DescriptorBinding),
		sets:           make(map[DescriptorSet]DescriptorSetLayout),
		pipelineLayout: make(map[PipelineLayout][]DescriptorSetLayout),
		destroyed:      make(map[string]int),
	}
}

var _ Device = (*fakeDevice)(nil)

func (d *fakeDevice) id() uint64 {
	d.next++
	return d.next
}

func (d *fakeDevice) check(call string) error {
	if d.fail[call] {
		return core.NewDeviceCallErrorAt(3, call, -3, "injected failure")
	}
	return nil
}

func (d *fakeDevice) BeginOneShotCommandBuffer() (CommandBuffer, error) {
	if err := d.check("BeginOneShotCommandBuffer"); err != nil {
		return 0, err
	}
	cmd := CommandBuffer(d.id())
	d.commandBuffers[cmd] = true
	return cmd, nil
}

func (d *fakeDevice) SubmitAndWaitIdle(cmd CommandBuffer) error {
	if !d.commandBuffers[cmd] {
		return fmt.Errorf("unknown command buffer %d", cmd)
	}
	delete(d.commandBuffers, cmd)
	if err := d.check("SubmitAndWaitIdle"); err != nil {
		return err
	}
	d.submits++
	return nil
}

func (d *fakeDevice) CreateBuffer(size uint64, usage BufferUsage, properties MemoryProperty) (Buffer, DeviceMemory, error) {
	if err := d.check("CreateBuffer"); err != nil {
		return 0, 0, err
	}
	buf := Buffer(d.id())
	mem := DeviceMemory(d.id())
	d.memory[mem] = make([]byte, size)
	d.buffers[buf] = mem
	return buf, mem, nil
}

func (d *fakeDevice) DestroyBuffer(buffer Buffer, memory DeviceMemory) {
	delete(d.buffers, buffer)
	delete(d.memory, memory)
	d.destroyed["buffer"]++
}

func (d *fakeDevice) AllocateMemory(req MemoryRequirements, properties MemoryProperty) (DeviceMemory, error) {
	if err := d.check("AllocateMemory"); err != nil {
		return 0, err
	}
	mem := DeviceMemory(d.id())
	d.memory[mem] = make([]byte, req.Size)
	return mem, nil
}

func (d *fakeDevice) FreeMemory(memory DeviceMemory) {
	delete(d.memory, memory)
	d.destroyed["memory"]++
}

func (d *fakeDevice) MapMemory(memory DeviceMemory, offset, size uint64) ([]byte, error) {
	if err := d.check("MapMemory"); err != nil {
		return nil, err
	}
	data, ok := d.memory[memory]
	if !ok {
		return nil, fmt.Errorf("unknown memory %d", memory)
	}
	if d.mapped[memory] {
		return nil, fmt.Errorf("memory %d already mapped", memory)
	}
	d.mapped[memory] = true
	return data[offset : offset+size], nil
}

func (d *fakeDevice) UnmapMemory(memory DeviceMemory) {
	delete(d.mapped, memory)
}

func (d *fakeDevice) CreateAccelerationStructure(info *AccelerationStructureInfo) (AccelerationStructure, error) {
	if err := d.check("CreateAccelerationStructure"); err != nil {
		return 0, err
	}
	as := AccelerationStructure(d.id())
	d.structures[as] = *info
	d.handleOf[as] = fakeHandleBase + uint64(as)
	return as, nil
}

func (d *fakeDevice) DestroyAccelerationStructure(as AccelerationStructure) {
	delete(d.structures, as)
	d.destroyed["structure"]++
}

func (d *fakeDevice) primitives(info AccelerationStructureInfo) uint64 {
	if info.Level == TopLevel {
		return uint64(info.InstanceCount)
	}
	var n uint64
	for _, g := range info.Geometries {
		n += uint64(g.TriangleCount())
	}
	return n
}

func (d *fakeDevice) AccelerationStructureMemoryRequirements(as AccelerationStructure, kind MemoryRequirementsKind) (MemoryRequirements, error) {
	if err := d.check("AccelerationStructureMemoryRequirements"); err != nil {
		return MemoryRequirements{}, err
	}
	info, ok := d.structures[as]
	if !ok {
		return MemoryRequirements{}, fmt.Errorf("unknown structure %d", as)
	}
	d.requirements = append(d.requirements, kind)
	n := d.primitives(info)
	size := uint64(0)
	switch kind {
	case MemoryRequirementsObject:
		size = fakeObjectBase + n*fakePerPrimitive
	case MemoryRequirementsBuildScratch:
		size = fakeBuildScratch + n*fakePerPrimitive/2
	case MemoryRequirementsUpdateScratch:
		size = fakeUpdateScratch + n*fakePerPrimitive/4
	}
	return MemoryRequirements{Size: size, Alignment: 256, MemoryTypeBits: 1}, nil
}

func (d *fakeDevice) BindAccelerationStructureMemory(as AccelerationStructure, memory DeviceMemory, offset uint64) error {
	if err := d.check("BindAccelerationStructureMemory"); err != nil {
		return err
	}
	if _, ok := d.bound[as]; ok {
		return fmt.Errorf("structure %d bound twice", as)
	}
	d.bound[as] = memory
	return nil
}

func (d *fakeDevice) AccelerationStructureHandle(as AccelerationStructure) (uint64, error) {
	if err := d.check("AccelerationStructureHandle"); err != nil {
		return 0, err
	}
	h, ok := d.handleOf[as]
	if !ok {
		return 0, fmt.Errorf("unknown structure %d", as)
	}
	return h, nil
}

func (d *fakeDevice) CmdBuildAccelerationStructure(cmd CommandBuffer, build *BuildCommand) {
	d.builds = append(d.builds, *build)
}

func (d *fakeDevice) CmdAccelerationStructureBarrier(cmd CommandBuffer) {
	d.barriers++
}

func (d *fakeDevice) CreateDescriptorPool(sizes []DescriptorPoolSize, maxSets uint32) (DescriptorPool, error) {
	if err := d.check("CreateDescriptorPool"); err != nil {
		return 0, err
	}
	pool := DescriptorPool(d.id())
	d.pools[pool] = sizes
	return pool, nil
}

func (d *fakeDevice) DestroyDescriptorPool(pool DescriptorPool) {
	delete(d.pools, pool)
	d.destroyed["pool"]++
}

func (d *fakeDevice) CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error) {
	if err := d.check("CreateDescriptorSetLayout"); err != nil {
		return 0, err
	}
	layout := DescriptorSetLayout(d.id())
	d.setLayouts[layout] = bindings
	return layout, nil
}

func (d *fakeDevice) DestroyDescriptorSetLayout(layout DescriptorSetLayout) {
	delete(d.setLayouts, layout)
	d.destroyed["setLayout"]++
}

func (d *fakeDevice) AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error) {
	if err := d.check("AllocateDescriptorSet"); err != nil {
		return 0, err
	}
	set := DescriptorSet(d.id())
	d.sets[set] = layout
	return set, nil
}

func (d *fakeDevice) UpdateDescriptorSets(writes []DescriptorWrite) error {
	if err := d.check("UpdateDescriptorSets"); err != nil {
		return err
	}
	d.updates = append(d.updates, writes)
	return nil
}

func (d *fakeDevice) CreatePipelineLayout(setLayouts []DescriptorSetLayout) (PipelineLayout, error) {
	if err := d.check("CreatePipelineLayout"); err != nil {
		return 0, err
	}
	layout := PipelineLayout(d.id())
	d.pipelineLayout[layout] = setLayouts
	return layout, nil
}

func (d *fakeDevice) DestroyPipelineLayout(layout PipelineLayout) {
	delete(d.pipelineLayout, layout)
	d.destroyed["pipelineLayout"]++
}

func (d *fakeDevice) CreateRayTracingPipeline(info *RayTracingPipelineInfo) (Pipeline, error) {
	if err := d.check("CreateRayTracingPipeline"); err != nil {
		return 0, err
	}
	pipeline := Pipeline(d.id())
	d.pipelines[pipeline] = *info
	return pipeline, nil
}

func (d *fakeDevice) DestroyPipeline(pipeline Pipeline) {
	delete(d.pipelines, pipeline)
	d.destroyed["pipeline"]++
}

// fakeGroupHandle is the identifier of group g: handle size bytes of g+1.
func fakeGroupHandle(g uint32) []byte {
	h := make([]byte, fakeHandleSize)
	for i := range h {
		h[i] = byte(g + 1)
	}
	return h
}

func (d *fakeDevice) ShaderGroupHandles(pipeline Pipeline, firstGroup, groupCount uint32, dataSize int) ([]byte, error) {
	if err := d.check("ShaderGroupHandles"); err != nil {
		return nil, err
	}
	info, ok := d.pipelines[pipeline]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %d", pipeline)
	}
	if firstGroup+groupCount > uint32(len(info.Groups)) {
		return nil, fmt.Errorf("groups %d..%d out of range", firstGroup, firstGroup+groupCount)
	}
	if dataSize < int(groupCount)*fakeHandleSize {
		return nil, fmt.Errorf("data size %d too small", dataSize)
	}
	out := make([]byte, 0, dataSize)
	for g := firstGroup; g < firstGroup+groupCount; g++ {
		out = append(out, fakeGroupHandle(g)...)
	}
	return out, nil
}

func (d *fakeDevice) RayTracingProperties() RayTracingProperties {
	return d.props
}
