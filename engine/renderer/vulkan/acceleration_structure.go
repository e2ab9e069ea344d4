package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

// resolveInfo swaps the buffer handles of info for their Vulkan objects.
func (c *Context) resolveInfo(info *raytracing.AccelerationStructureInfo) (*AccelerationStructureInfo, error) {
	out := &AccelerationStructureInfo{
		Level:         info.Level,
		Flags:         info.Flags,
		InstanceCount: info.InstanceCount,
		Geometries:    make([]TriangleGeometry, 0, len(info.Geometries)),
	}
	optional := func(kind string, b raytracing.Buffer) (vk.Buffer, error) {
		if b == 0 {
			return nil, nil
		}
		vb, ok := c.buffers.get(uint64(b))
		if !ok {
			return nil, unknownHandle(kind, uint64(b))
		}
		return vb, nil
	}
	for _, g := range info.Geometries {
		vertices, ok := c.buffers.get(uint64(g.VertexBuffer))
		if !ok {
			return nil, unknownHandle("vertex buffer", uint64(g.VertexBuffer))
		}
		indices, err := optional("index buffer", g.IndexBuffer)
		if err != nil {
			return nil, err
		}
		transform, err := optional("transform buffer", g.TransformBuffer)
		if err != nil {
			return nil, err
		}
		geometry := TriangleGeometry{
			VertexData:      vertices,
			VertexOffset:    g.VertexOffset,
			VertexCount:     g.VertexCount,
			VertexStride:    g.VertexStride,
			VertexFormat:    VULKAN_VERTEX_FORMAT,
			IndexData:       indices,
			IndexOffset:     g.IndexOffset,
			IndexType:       IndexTypeNoneNV,
			TransformData:   transform,
			TransformOffset: g.TransformOffset,
			Opaque:          g.Opaque,
		}
		if g.Indexed() {
			geometry.IndexCount = g.IndexCount
			geometry.IndexType = VULKAN_INDEX_TYPE
		}
		out.Geometries = append(out.Geometries, geometry)
	}
	return out, nil
}

func (c *Context) CreateAccelerationStructure(info *raytracing.AccelerationStructureInfo) (raytracing.AccelerationStructure, error) {
	resolved, err := c.resolveInfo(info)
	if err != nil {
		return 0, err
	}
	var native uint64
	if err := c.locks.SafeCall(AccelerationStructureManagement, func() error {
		var result vk.Result
		native, result = c.dispatch.CreateAccelerationStructure(c.LogicalDevice, resolved)
		return resultError("vkCreateAccelerationStructureNV", result)
	}); err != nil {
		return 0, err
	}
	core.LogDebug("Created %s acceleration structure (%d geometries, %d instances).", info.Level, len(info.Geometries), info.InstanceCount)
	return raytracing.AccelerationStructure(c.structures.add(native)), nil
}

func (c *Context) DestroyAccelerationStructure(as raytracing.AccelerationStructure) {
	native, ok := c.structures.remove(uint64(as))
	if !ok {
		return
	}
	_ = c.locks.SafeCall(AccelerationStructureManagement, func() error {
		c.dispatch.DestroyAccelerationStructure(c.LogicalDevice, native)
		return nil
	})
}

func (c *Context) AccelerationStructureMemoryRequirements(as raytracing.AccelerationStructure, kind raytracing.MemoryRequirementsKind) (raytracing.MemoryRequirements, error) {
	native, ok := c.structures.get(uint64(as))
	if !ok {
		return raytracing.MemoryRequirements{}, unknownHandle("acceleration structure", uint64(as))
	}
	return c.dispatch.GetAccelerationStructureMemoryRequirements(c.LogicalDevice, native, kind), nil
}

func (c *Context) BindAccelerationStructureMemory(as raytracing.AccelerationStructure, memory raytracing.DeviceMemory, offset uint64) error {
	native, ok := c.structures.get(uint64(as))
	if !ok {
		return unknownHandle("acceleration structure", uint64(as))
	}
	m, ok := c.memories.get(uint64(memory))
	if !ok {
		return unknownHandle("memory", uint64(memory))
	}
	return resultError("vkBindAccelerationStructureMemoryNV", c.dispatch.BindAccelerationStructureMemory(c.LogicalDevice, native, m, offset))
}

func (c *Context) AccelerationStructureHandle(as raytracing.AccelerationStructure) (uint64, error) {
	native, ok := c.structures.get(uint64(as))
	if !ok {
		return 0, unknownHandle("acceleration structure", uint64(as))
	}
	handle, result := c.dispatch.GetAccelerationStructureHandle(c.LogicalDevice, native)
	if err := resultError("vkGetAccelerationStructureHandleNV", result); err != nil {
		return 0, err
	}
	return handle, nil
}

func (c *Context) CmdBuildAccelerationStructure(cmd raytracing.CommandBuffer, build *raytracing.BuildCommand) {
	cb, ok := c.recording(cmd)
	if !ok {
		return
	}
	resolved, err := c.resolveInfo(build.Info)
	if err != nil {
		cb.Fail(err)
		return
	}
	dst, ok := c.structures.get(uint64(build.Dst))
	if !ok {
		cb.Fail(unknownHandle("acceleration structure", uint64(build.Dst)))
		return
	}
	var src uint64
	if build.Update {
		if src, ok = c.structures.get(uint64(build.Src)); !ok {
			cb.Fail(unknownHandle("acceleration structure", uint64(build.Src)))
			return
		}
	}
	scratch, ok := c.buffers.get(uint64(build.Scratch))
	if !ok {
		cb.Fail(unknownHandle("scratch buffer", uint64(build.Scratch)))
		return
	}
	var instances vk.Buffer
	if build.InstanceData != 0 {
		if instances, ok = c.buffers.get(uint64(build.InstanceData)); !ok {
			cb.Fail(unknownHandle("instance buffer", uint64(build.InstanceData)))
			return
		}
	}
	c.dispatch.CmdBuildAccelerationStructure(cb.Handle, &AccelerationStructureBuild{
		Info:           resolved,
		InstanceData:   instances,
		InstanceOffset: build.InstanceOffset,
		Update:         build.Update,
		Dst:            dst,
		Src:            src,
		Scratch:        scratch,
		ScratchOffset:  build.ScratchOffset,
	})
}

func (c *Context) CmdAccelerationStructureBarrier(cmd raytracing.CommandBuffer) {
	cb, ok := c.recording(cmd)
	if !ok {
		return
	}
	access := vk.AccessFlags(AccessAccelerationStructureReadNV | AccessAccelerationStructureWriteNV)
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: access,
		DstAccessMask: access,
	}
	stages := vk.PipelineStageFlags(PipelineStageAccelerationStructureBuildNV)
	vk.CmdPipelineBarrier(cb.Handle, stages, stages, vk.DependencyFlags(0), 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}
