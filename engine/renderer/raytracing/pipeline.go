package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

// ShaderUnused marks an empty shader slot in a group.
const ShaderUnused = ^uint32(0)

// ShaderGroupType mirrors the device shader group types.
type ShaderGroupType uint32

const (
	// Ray generation, miss or callable.
	ShaderGroupGeneral ShaderGroupType = 0
	// Closest-hit and optional any-hit against built-in triangles.
	ShaderGroupTrianglesHit ShaderGroupType = 1
	// Like triangles plus an intersection shader for custom primitives.
	ShaderGroupProceduralHit ShaderGroupType = 2
)

func (t ShaderGroupType) String() string {
	switch t {
	case ShaderGroupGeneral:
		return "general"
	case ShaderGroupTrianglesHit:
		return "triangles-hit"
	case ShaderGroupProceduralHit:
		return "procedural-hit"
	}
	return fmt.Sprintf("group-type(%d)", uint32(t))
}

// ShaderGroup refers to stages by their index in the pipeline's stage list.
type ShaderGroup struct {
	Type               ShaderGroupType
	GeneralShader      uint32
	ClosestHitShader   uint32
	AnyHitShader       uint32
	IntersectionShader uint32
}

func newGeneralGroup(stage uint32) ShaderGroup {
	return ShaderGroup{
		Type:               ShaderGroupGeneral,
		GeneralShader:      stage,
		ClosestHitShader:   ShaderUnused,
		AnyHitShader:       ShaderUnused,
		IntersectionShader: ShaderUnused,
	}
}

type ShaderStageInfo struct {
	Stage      ShaderStage
	Module     ShaderModule
	EntryPoint string
}

type RayTracingPipelineInfo struct {
	Layout            PipelineLayout
	Stages            []ShaderStageInfo
	Groups            []ShaderGroup
	MaxRecursionDepth uint32
}

const shaderEntryPoint = "main"

// RayTracingPipelineBuilder collects shader stages and groups them. Group
// indices are handed out in call order and are the indices the shader
// binding table refers to. Hit shaders are only accepted between
// StartHitGroup and EndHitGroup. Not safe for concurrent use.
type RayTracingPipelineBuilder struct {
	stages []ShaderStageInfo
	groups []ShaderGroup

	isHitGroupOpen    bool
	currentGroup      ShaderGroup
	maxRecursionDepth uint32
}

func NewRayTracingPipelineBuilder() *RayTracingPipelineBuilder {
	return &RayTracingPipelineBuilder{
		maxRecursionDepth: 1,
	}
}

func (p *RayTracingPipelineBuilder) addStage(stage ShaderStage, module ShaderModule) (uint32, error) {
	if module == 0 {
		return 0, fmt.Errorf("%w: %s stage without a shader module", core.ErrInvalidArgument, stage)
	}
	p.stages = append(p.stages, ShaderStageInfo{
		Stage:      stage,
		Module:     module,
		EntryPoint: shaderEntryPoint,
	})
	return uint32(len(p.stages) - 1), nil
}

func (p *RayTracingPipelineBuilder) addGeneralGroup(stage ShaderStage, module ShaderModule) (uint32, error) {
	if p.isHitGroupOpen {
		return 0, fmt.Errorf("%w: %s stage added while a hit group is open", core.ErrUsageSequence, stage)
	}
	index, err := p.addStage(stage, module)
	if err != nil {
		return 0, err
	}
	p.groups = append(p.groups, newGeneralGroup(index))
	return uint32(len(p.groups) - 1), nil
}

// AddRayGenShaderStage adds a ray generation group and returns its index.
func (p *RayTracingPipelineBuilder) AddRayGenShaderStage(module ShaderModule) (uint32, error) {
	return p.addGeneralGroup(ShaderStageRayGen, module)
}

// AddMissShaderStage adds a miss group and returns its index.
func (p *RayTracingPipelineBuilder) AddMissShaderStage(module ShaderModule) (uint32, error) {
	return p.addGeneralGroup(ShaderStageMiss, module)
}

// AddCallableShaderStage adds a callable group and returns its index.
func (p *RayTracingPipelineBuilder) AddCallableShaderStage(module ShaderModule) (uint32, error) {
	return p.addGeneralGroup(ShaderStageCallable, module)
}

// StartHitGroup opens a hit group and returns the index it will have.
func (p *RayTracingPipelineBuilder) StartHitGroup() (uint32, error) {
	if p.isHitGroupOpen {
		return 0, fmt.Errorf("%w: hit group started while another is open", core.ErrUsageSequence)
	}
	p.isHitGroupOpen = true
	p.currentGroup = ShaderGroup{
		Type:               ShaderGroupTrianglesHit,
		GeneralShader:      ShaderUnused,
		ClosestHitShader:   ShaderUnused,
		AnyHitShader:       ShaderUnused,
		IntersectionShader: ShaderUnused,
	}
	return uint32(len(p.groups)), nil
}

// AddHitShaderStage adds a closest-hit, any-hit or intersection stage to the
// open hit group and returns the stage index. Each kind fits once per group.
func (p *RayTracingPipelineBuilder) AddHitShaderStage(module ShaderModule, stage ShaderStage) (uint32, error) {
	if !p.isHitGroupOpen {
		return 0, fmt.Errorf("%w: %s stage added outside a hit group", core.ErrUsageSequence, stage)
	}
	var slot *uint32
	switch stage {
	case ShaderStageClosestHit:
		slot = &p.currentGroup.ClosestHitShader
	case ShaderStageAnyHit:
		slot = &p.currentGroup.AnyHitShader
	case ShaderStageIntersection:
		slot = &p.currentGroup.IntersectionShader
	default:
		return 0, fmt.Errorf("%w: %s is not a hit stage", core.ErrInvalidArgument, stage)
	}
	if *slot != ShaderUnused {
		return 0, fmt.Errorf("%w: hit group already has a %s stage", core.ErrUsageSequence, stage)
	}
	index, err := p.addStage(stage, module)
	if err != nil {
		return 0, err
	}
	*slot = index
	return index, nil
}

// EndHitGroup closes the open hit group. A group with an intersection stage
// becomes a procedural group.
func (p *RayTracingPipelineBuilder) EndHitGroup() error {
	if !p.isHitGroupOpen {
		return fmt.Errorf("%w: hit group ended without being started", core.ErrUsageSequence)
	}
	if p.currentGroup.IntersectionShader != ShaderUnused {
		p.currentGroup.Type = ShaderGroupProceduralHit
	}
	p.groups = append(p.groups, p.currentGroup)
	p.isHitGroupOpen = false
	return nil
}

// SetMaxRecursionDepth sets how deep traceRay calls may nest. 1 means only
// the ray generation shader traces.
func (p *RayTracingPipelineBuilder) SetMaxRecursionDepth(depth uint32) error {
	if depth == 0 {
		return fmt.Errorf("%w: recursion depth must be at least 1", core.ErrInvalidArgument)
	}
	p.maxRecursionDepth = depth
	return nil
}

func (p *RayTracingPipelineBuilder) MaxRecursionDepth() uint32 {
	return p.maxRecursionDepth
}

func (p *RayTracingPipelineBuilder) GroupCount() uint32 {
	return uint32(len(p.groups))
}

func (p *RayTracingPipelineBuilder) Groups() []ShaderGroup {
	out := make([]ShaderGroup, len(p.groups))
	copy(out, p.groups)
	return out
}

func (p *RayTracingPipelineBuilder) Stages() []ShaderStageInfo {
	out := make([]ShaderStageInfo, len(p.stages))
	copy(out, p.stages)
	return out
}

// Generate creates a pipeline layout over setLayout and the pipeline itself.
// The layout is destroyed again if the pipeline cannot be created.
func (p *RayTracingPipelineBuilder) Generate(dev PipelineDevice, setLayout DescriptorSetLayout) (Pipeline, PipelineLayout, error) {
	if p.isHitGroupOpen {
		return 0, 0, fmt.Errorf("%w: pipeline generated while a hit group is open", core.ErrUsageSequence)
	}
	if len(p.groups) == 0 {
		return 0, 0, fmt.Errorf("%w: pipeline has no shader groups", core.ErrUsageSequence)
	}
	if setLayout == 0 {
		return 0, 0, fmt.Errorf("%w: pipeline needs a descriptor set layout", core.ErrInvalidArgument)
	}

	layout, err := dev.CreatePipelineLayout([]DescriptorSetLayout{setLayout})
	if err != nil {
		core.LogError("failed to create ray tracing pipeline layout: %s", err)
		return 0, 0, fmt.Errorf("create pipeline layout: %w", err)
	}

	pipeline, err := dev.CreateRayTracingPipeline(&RayTracingPipelineInfo{
		Layout:            layout,
		Stages:            p.Stages(),
		Groups:            p.Groups(),
		MaxRecursionDepth: p.maxRecursionDepth,
	})
	if err != nil {
		dev.DestroyPipelineLayout(layout)
		core.LogError("failed to create ray tracing pipeline: %s", err)
		return 0, 0, fmt.Errorf("create ray tracing pipeline: %w", err)
	}
	core.LogInfo("ray tracing pipeline created with %d stages in %d groups (max recursion %d)", len(p.stages), len(p.groups), p.maxRecursionDepth)
	return pipeline, layout, nil
}
