package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Descriptor bindings of the ray tracing set, shared with the shaders.
const (
	BindingTopLevel    uint32 = 0
	BindingOutputImage uint32 = 1
	BindingCamera      uint32 = 2
	BindingVertices    uint32 = 3
	BindingIndices     uint32 = 4
)

// HitGroupShaders is one hit group. Only ClosestHit is required.
type HitGroupShaders struct {
	ClosestHit   ShaderModule
	AnyHit       ShaderModule
	Intersection ShaderModule
	// Copied after the group handle in the table, e.g. a material index.
	InlineData []byte
}

type PassShaders struct {
	RayGen ShaderModule
	Miss   ShaderModule
	// One hit group per material, in hit group index order.
	HitGroups []HitGroupShaders

	// Optional shadow rays. The shadow miss becomes miss index 1 and the
	// shadow hit group is appended after the material groups.
	ShadowMiss     ShaderModule
	ShadowHitGroup *HitGroupShaders
}

type PassResources struct {
	TopLevel    AccelerationStructure
	OutputImage ImageView
	Camera      DescriptorBufferInfo
	// Optional per-scene storage buffers read by the hit shaders.
	Vertices *DescriptorBufferInfo
	Indices  *DescriptorBufferInfo
}

// TraceRegions is what a trace-rays dispatch needs to find its shaders.
type TraceRegions struct {
	Table    Buffer
	RayGen   metadata.StridedRange
	Miss     metadata.StridedRange
	HitGroup metadata.StridedRange
}

// Pass ties descriptor set, pipeline and shader binding table together.
type Pass struct {
	label string

	bindings  *DescriptorBindingSet
	pool      DescriptorPool
	setLayout DescriptorSetLayout
	set       DescriptorSet

	pipeline       Pipeline
	pipelineLayout PipelineLayout

	table       *ShaderBindingTableBuilder
	tableBuffer Buffer
	tableMemory DeviceMemory
	regions     TraceRegions
}

// NewPass creates every object of the pass. Anything created before a
// failure is destroyed again.
func NewPass(dev Device, cfg core.RayTracingConfig, shaders PassShaders, res PassResources) (*Pass, error) {
	if shaders.RayGen == 0 || shaders.Miss == 0 || len(shaders.HitGroups) == 0 {
		return nil, fmt.Errorf("%w: a pass needs a ray generation, a miss and at least one hit group shader", core.ErrInvalidArgument)
	}
	p := &Pass{
		label:    core.NewIdentifier("pass"),
		bindings: NewDescriptorBindingSet(),
		table:    NewShaderBindingTableBuilder(WithZeroFill(cfg.ZeroShaderBindingTable)),
	}
	if err := p.createDescriptors(dev, cfg, res); err != nil {
		p.Destroy(dev)
		return nil, err
	}
	if err := p.createPipeline(dev, cfg, shaders); err != nil {
		p.Destroy(dev)
		return nil, err
	}
	if err := p.createTable(dev); err != nil {
		p.Destroy(dev)
		return nil, err
	}
	core.LogInfo("%s: ready with %d hit groups", p.label, len(shaders.HitGroups))
	return p, nil
}

func (p *Pass) createDescriptors(dev Device, cfg core.RayTracingConfig, res PassResources) error {
	b := p.bindings
	if err := b.AddBinding(BindingTopLevel, 1, DescriptorTypeAccelerationStructure, ShaderStageRayGen|ShaderStageClosestHit); err != nil {
		return err
	}
	if err := b.AddBinding(BindingOutputImage, 1, DescriptorTypeStorageImage, ShaderStageRayGen); err != nil {
		return err
	}
	if err := b.AddBinding(BindingCamera, 1, DescriptorTypeUniformBuffer, ShaderStageRayGen); err != nil {
		return err
	}
	if res.Vertices != nil {
		if err := b.AddBinding(BindingVertices, 1, DescriptorTypeStorageBuffer, ShaderStageClosestHit); err != nil {
			return err
		}
	}
	if res.Indices != nil {
		if err := b.AddBinding(BindingIndices, 1, DescriptorTypeStorageBuffer, ShaderStageClosestHit); err != nil {
			return err
		}
	}

	var err error
	if p.pool, err = b.GeneratePool(dev, cfg.DescriptorMaxSets); err != nil {
		return err
	}
	if p.setLayout, err = b.GenerateLayout(dev); err != nil {
		return err
	}
	if p.set, err = b.GenerateSet(dev, p.pool, p.setLayout); err != nil {
		return err
	}

	if err := b.BindAccelerationStructures(p.set, BindingTopLevel, []AccelerationStructure{res.TopLevel}); err != nil {
		return err
	}
	if err := b.BindImages(p.set, BindingOutputImage, []DescriptorImageInfo{{View: res.OutputImage, Layout: ImageLayoutGeneral}}); err != nil {
		return err
	}
	if err := b.BindBuffers(p.set, BindingCamera, []DescriptorBufferInfo{res.Camera}); err != nil {
		return err
	}
	if res.Vertices != nil {
		if err := b.BindBuffers(p.set, BindingVertices, []DescriptorBufferInfo{*res.Vertices}); err != nil {
			return err
		}
	}
	if res.Indices != nil {
		if err := b.BindBuffers(p.set, BindingIndices, []DescriptorBufferInfo{*res.Indices}); err != nil {
			return err
		}
	}
	return b.UpdateSetContents(dev, p.set)
}

func addHitGroup(builder *RayTracingPipelineBuilder, shaders HitGroupShaders) (uint32, error) {
	group, err := builder.StartHitGroup()
	if err != nil {
		return 0, err
	}
	if _, err := builder.AddHitShaderStage(shaders.ClosestHit, ShaderStageClosestHit); err != nil {
		return 0, err
	}
	if shaders.AnyHit != 0 {
		if _, err := builder.AddHitShaderStage(shaders.AnyHit, ShaderStageAnyHit); err != nil {
			return 0, err
		}
	}
	if shaders.Intersection != 0 {
		if _, err := builder.AddHitShaderStage(shaders.Intersection, ShaderStageIntersection); err != nil {
			return 0, err
		}
	}
	return group, builder.EndHitGroup()
}

func (p *Pass) createPipeline(dev Device, cfg core.RayTracingConfig, shaders PassShaders) error {
	builder := NewRayTracingPipelineBuilder()

	rayGen, err := builder.AddRayGenShaderStage(shaders.RayGen)
	if err != nil {
		return err
	}
	p.table.AddRayGenerationProgram(rayGen, nil)

	miss, err := builder.AddMissShaderStage(shaders.Miss)
	if err != nil {
		return err
	}
	p.table.AddMissProgram(miss, nil)

	if shaders.ShadowMiss != 0 {
		shadowMiss, err := builder.AddMissShaderStage(shaders.ShadowMiss)
		if err != nil {
			return err
		}
		p.table.AddMissProgram(shadowMiss, nil)
	}

	groups := shaders.HitGroups
	if shaders.ShadowHitGroup != nil {
		groups = append(groups[:len(groups):len(groups)], *shaders.ShadowHitGroup)
	}
	for _, hg := range groups {
		group, err := addHitGroup(builder, hg)
		if err != nil {
			return err
		}
		p.table.AddHitGroup(group, hg.InlineData)
	}

	depth := cfg.MaxRecursionDepth
	if limit := dev.RayTracingProperties().MaxRecursionDepth; limit > 0 {
		depth = math.Clamp(depth, 1, limit)
	}
	if err := builder.SetMaxRecursionDepth(depth); err != nil {
		return err
	}

	p.pipeline, p.pipelineLayout, err = builder.Generate(dev, p.setLayout)
	return err
}

func (p *Pass) createTable(dev Device) error {
	size, err := p.table.ComputeSBTSize(dev.RayTracingProperties().ShaderGroupHandleSize)
	if err != nil {
		return err
	}
	p.tableBuffer, p.tableMemory, err = dev.CreateBuffer(size, BufferUsageRayTracing, MemoryPropertyHostVisible|MemoryPropertyHostCoherent)
	if err != nil {
		return fmt.Errorf("%s: create shader binding table buffer: %w", p.label, err)
	}
	if err := p.table.Generate(dev, p.pipeline, p.tableMemory); err != nil {
		return err
	}
	rayGen, miss, hitGroup := p.table.Regions()
	p.regions = TraceRegions{
		Table:    p.tableBuffer,
		RayGen:   rayGen,
		Miss:     miss,
		HitGroup: hitGroup,
	}
	return nil
}

// SetOutputImage rebinds the output image, e.g. after a resize.
func (p *Pass) SetOutputImage(dev Device, view ImageView) error {
	if err := p.bindings.BindImages(p.set, BindingOutputImage, []DescriptorImageInfo{{View: view, Layout: ImageLayoutGeneral}}); err != nil {
		return err
	}
	return p.bindings.UpdateSetContents(dev, p.set)
}

// SetTopLevel rebinds the scene, e.g. after a full rebuild.
func (p *Pass) SetTopLevel(dev Device, as AccelerationStructure) error {
	if err := p.bindings.BindAccelerationStructures(p.set, BindingTopLevel, []AccelerationStructure{as}); err != nil {
		return err
	}
	return p.bindings.UpdateSetContents(dev, p.set)
}

func (p *Pass) Regions() TraceRegions {
	return p.regions
}

func (p *Pass) DescriptorSet() DescriptorSet {
	return p.set
}

func (p *Pass) DescriptorSetLayout() DescriptorSetLayout {
	return p.setLayout
}

func (p *Pass) Pipeline() Pipeline {
	return p.pipeline
}

func (p *Pass) PipelineLayout() PipelineLayout {
	return p.pipelineLayout
}

// Destroy releases every object the pass created. The device must be idle.
func (p *Pass) Destroy(dev Device) {
	if p.tableBuffer != 0 || p.tableMemory != 0 {
		dev.DestroyBuffer(p.tableBuffer, p.tableMemory)
		p.tableBuffer, p.tableMemory = 0, 0
	}
	if p.pipeline != 0 {
		dev.DestroyPipeline(p.pipeline)
		p.pipeline = 0
	}
	if p.pipelineLayout != 0 {
		dev.DestroyPipelineLayout(p.pipelineLayout)
		p.pipelineLayout = 0
	}
	if p.setLayout != 0 {
		dev.DestroyDescriptorSetLayout(p.setLayout)
		p.setLayout = 0
	}
	// Sets go with their pool.
	if p.pool != 0 {
		dev.DestroyDescriptorPool(p.pool)
		p.pool = 0
	}
	p.set = 0
	p.regions = TraceRegions{}
}
