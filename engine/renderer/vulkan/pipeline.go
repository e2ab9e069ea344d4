package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

func (c *Context) CreatePipelineLayout(setLayouts []raytracing.DescriptorSetLayout) (raytracing.PipelineLayout, error) {
	layouts := make([]vk.DescriptorSetLayout, len(setLayouts))
	for i, l := range setLayouts {
		layout, ok := c.setLayouts.get(uint64(l))
		if !ok {
			return 0, unknownHandle("descriptor set layout", uint64(l))
		}
		layouts[i] = layout
	}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}

	var pPipelineLayout vk.PipelineLayout
	if err := c.locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreatePipelineLayout", vk.CreatePipelineLayout(c.LogicalDevice, &pipelineLayoutCreateInfo, c.Allocator, &pPipelineLayout))
	}); err != nil {
		return 0, err
	}
	return raytracing.PipelineLayout(c.pipelineLayouts.add(pPipelineLayout)), nil
}

func (c *Context) DestroyPipelineLayout(layout raytracing.PipelineLayout) {
	if l, ok := c.pipelineLayouts.remove(uint64(layout)); ok {
		_ = c.locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipelineLayout(c.LogicalDevice, l, c.Allocator)
			return nil
		})
	}
}

func (c *Context) CreateRayTracingPipeline(info *raytracing.RayTracingPipelineInfo) (raytracing.Pipeline, error) {
	layout, ok := c.pipelineLayouts.get(uint64(info.Layout))
	if !ok {
		return 0, unknownHandle("pipeline layout", uint64(info.Layout))
	}
	stages := make([]vk.PipelineShaderStageCreateInfo, len(info.Stages))
	for i, s := range info.Stages {
		module, ok := c.shaderModules.get(uint64(s.Module))
		if !ok {
			return 0, unknownHandle("shader module", uint64(s.Module))
		}
		stages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(s.Stage),
			Module: module,
			PName:  VulkanSafeString(s.EntryPoint),
		}
	}
	if info.MaxRecursionDepth > c.properties.MaxRecursionDepth {
		err := fmt.Errorf("%w: recursion depth %d exceeds the device limit %d", core.ErrInvalidArgument, info.MaxRecursionDepth, c.properties.MaxRecursionDepth)
		core.LogError(err.Error())
		return 0, err
	}

	var pipeline vk.Pipeline
	if err := c.locks.SafeCall(PipelineManagement, func() error {
		var result vk.Result
		pipeline, result = c.dispatch.CreateRayTracingPipeline(c.LogicalDevice, &RayTracingPipelineInfo{
			Stages:            stages,
			Groups:            info.Groups,
			MaxRecursionDepth: info.MaxRecursionDepth,
			Layout:            layout,
		})
		return resultError("vkCreateRayTracingPipelinesNV", result)
	}); err != nil {
		return 0, err
	}
	core.LogDebug("Ray tracing pipeline created (%d stages, %d groups).", len(stages), len(info.Groups))
	return raytracing.Pipeline(c.pipelines.add(pipeline)), nil
}

func (c *Context) DestroyPipeline(pipeline raytracing.Pipeline) {
	if p, ok := c.pipelines.remove(uint64(pipeline)); ok {
		_ = c.locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipeline(c.LogicalDevice, p, c.Allocator)
			return nil
		})
	}
}

func (c *Context) ShaderGroupHandles(pipeline raytracing.Pipeline, firstGroup, groupCount uint32, dataSize int) ([]byte, error) {
	p, ok := c.pipelines.get(uint64(pipeline))
	if !ok {
		return nil, unknownHandle("pipeline", uint64(pipeline))
	}
	if want := int(groupCount) * int(c.properties.ShaderGroupHandleSize); dataSize < want {
		err := fmt.Errorf("%w: %d bytes cannot hold %d group handles of %d bytes", core.ErrBufferSizes, dataSize, groupCount, c.properties.ShaderGroupHandleSize)
		core.LogError(err.Error())
		return nil, err
	}
	data := make([]byte, dataSize)
	if err := resultError("vkGetRayTracingShaderGroupHandlesNV", c.dispatch.GetShaderGroupHandles(c.LogicalDevice, p, firstGroup, groupCount, data)); err != nil {
		return nil, err
	}
	return data, nil
}

/**
 * @brief Binds the pass pipeline and descriptor set and dispatches a
 * width x height x depth grid of ray generation invocations.
 */
func (c *Context) TraceRays(cmd raytracing.CommandBuffer, pass *raytracing.Pass, width, height, depth uint32) error {
	cb, ok := c.recording(cmd)
	if !ok {
		return fmt.Errorf("%w: command buffer %d is not recording", core.ErrUsageSequence, cmd)
	}
	handle := cb.Handle
	pipeline, ok := c.pipelines.get(uint64(pass.Pipeline()))
	if !ok {
		return unknownHandle("pipeline", uint64(pass.Pipeline()))
	}
	layout, ok := c.pipelineLayouts.get(uint64(pass.PipelineLayout()))
	if !ok {
		return unknownHandle("pipeline layout", uint64(pass.PipelineLayout()))
	}
	set, ok := c.descriptorSets.get(uint64(pass.DescriptorSet()))
	if !ok {
		return unknownHandle("descriptor set", uint64(pass.DescriptorSet()))
	}
	regions := pass.Regions()
	table, ok := c.buffers.get(uint64(regions.Table))
	if !ok {
		return unknownHandle("shader binding table", uint64(regions.Table))
	}

	vk.CmdBindPipeline(handle, PipelineBindPointRayTracingNV, pipeline)
	vk.CmdBindDescriptorSets(handle, PipelineBindPointRayTracingNV, layout, 0, 1, []vk.DescriptorSet{set.handle}, 0, nil)
	c.dispatch.CmdTraceRays(handle, &TraceRays{
		Table:    table,
		RayGen:   regions.RayGen,
		Miss:     regions.Miss,
		HitGroup: regions.HitGroup,
		Width:    width,
		Height:   height,
		Depth:    depth,
	})
	return nil
}
