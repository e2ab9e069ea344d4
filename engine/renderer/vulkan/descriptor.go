package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

// Sets are freed with the pool they came from.
type descriptorSet struct {
	handle vk.DescriptorSet
	pool   raytracing.DescriptorPool
}

func (c *Context) CreateDescriptorPool(sizes []raytracing.DescriptorPoolSize, maxSets uint32) (raytracing.DescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if err := c.locks.SafeCall(DescriptorManagement, func() error {
		return resultError("vkCreateDescriptorPool", vk.CreateDescriptorPool(c.LogicalDevice, &poolInfo, c.Allocator, &pool))
	}); err != nil {
		return 0, err
	}
	return raytracing.DescriptorPool(c.descriptorPools.add(pool)), nil
}

/** @brief Destroys the pool and forgets every set allocated from it. */
func (c *Context) DestroyDescriptorPool(pool raytracing.DescriptorPool) {
	p, ok := c.descriptorPools.remove(uint64(pool))
	if !ok {
		return
	}
	_ = c.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(c.LogicalDevice, p, c.Allocator)
		return nil
	})
	var stale []uint64
	c.descriptorSets.each(func(id uint64, set descriptorSet) {
		if set.pool == pool {
			stale = append(stale, id)
		}
	})
	for _, id := range stale {
		c.descriptorSets.remove(id)
	}
}

func (c *Context) CreateDescriptorSetLayout(bindings []raytracing.DescriptorBinding) (raytracing.DescriptorSetLayout, error) {
	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
		if b.ImmutableSampler != 0 {
			sampler, ok := c.samplers.get(uint64(b.ImmutableSampler))
			if !ok {
				return 0, unknownHandle("sampler", uint64(b.ImmutableSampler))
			}
			samplers := make([]vk.Sampler, b.Count)
			for j := range samplers {
				samplers[j] = sampler
			}
			layoutBindings[i].PImmutableSamplers = samplers
		}
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}
	var layout vk.DescriptorSetLayout
	if err := resultError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(c.LogicalDevice, &layoutInfo, c.Allocator, &layout)); err != nil {
		return 0, err
	}
	return raytracing.DescriptorSetLayout(c.setLayouts.add(layout)), nil
}

func (c *Context) DestroyDescriptorSetLayout(layout raytracing.DescriptorSetLayout) {
	if l, ok := c.setLayouts.remove(uint64(layout)); ok {
		vk.DestroyDescriptorSetLayout(c.LogicalDevice, l, c.Allocator)
	}
}

func (c *Context) AllocateDescriptorSet(pool raytracing.DescriptorPool, layout raytracing.DescriptorSetLayout) (raytracing.DescriptorSet, error) {
	p, ok := c.descriptorPools.get(uint64(pool))
	if !ok {
		return 0, unknownHandle("descriptor pool", uint64(pool))
	}
	l, ok := c.setLayouts.get(uint64(layout))
	if !ok {
		return 0, unknownHandle("descriptor set layout", uint64(layout))
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{l},
	}
	var set vk.DescriptorSet
	if err := c.locks.SafeCall(DescriptorManagement, func() error {
		return resultError("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(c.LogicalDevice, &allocInfo, &set))
	}); err != nil {
		return 0, err
	}
	return raytracing.DescriptorSet(c.descriptorSets.add(descriptorSet{handle: set, pool: pool})), nil
}

func (c *Context) descriptorWrite(w raytracing.DescriptorWrite) (vk.WriteDescriptorSet, error) {
	set, ok := c.descriptorSets.get(uint64(w.Set))
	if !ok {
		return vk.WriteDescriptorSet{}, unknownHandle("descriptor set", uint64(w.Set))
	}
	write := vk.WriteDescriptorSet{
		SType:          vk.StructureTypeWriteDescriptorSet,
		DstSet:         set.handle,
		DstBinding:     w.Binding,
		DescriptorType: vk.DescriptorType(w.Type),
	}
	switch {
	case len(w.Buffers) > 0:
		infos := make([]vk.DescriptorBufferInfo, len(w.Buffers))
		for i, b := range w.Buffers {
			buffer, ok := c.buffers.get(uint64(b.Buffer))
			if !ok {
				return write, unknownHandle("buffer", uint64(b.Buffer))
			}
			infos[i] = vk.DescriptorBufferInfo{
				Buffer: buffer,
				Offset: vk.DeviceSize(b.Offset),
				Range:  vk.DeviceSize(b.Range),
			}
		}
		write.DescriptorCount = uint32(len(infos))
		write.PBufferInfo = infos
	case len(w.Images) > 0:
		infos := make([]vk.DescriptorImageInfo, len(w.Images))
		for i, img := range w.Images {
			info := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayout(img.Layout)}
			if img.View != 0 {
				if info.ImageView, ok = c.imageViews.get(uint64(img.View)); !ok {
					return write, unknownHandle("image view", uint64(img.View))
				}
			}
			if img.Sampler != 0 {
				if info.Sampler, ok = c.samplers.get(uint64(img.Sampler)); !ok {
					return write, unknownHandle("sampler", uint64(img.Sampler))
				}
			}
			infos[i] = info
		}
		write.DescriptorCount = uint32(len(infos))
		write.PImageInfo = infos
	case len(w.AccelerationStructures) > 0:
		natives := make([]uint64, len(w.AccelerationStructures))
		for i, as := range w.AccelerationStructures {
			if natives[i], ok = c.structures.get(uint64(as)); !ok {
				return write, unknownHandle("acceleration structure", uint64(as))
			}
		}
		write.DescriptorCount = uint32(len(natives))
		write.PNext = c.dispatch.AccelerationStructureWriteChain(natives)
	}
	return write, nil
}

/** @brief Flushes all writes in a single vkUpdateDescriptorSets call. */
func (c *Context) UpdateDescriptorSets(writes []raytracing.DescriptorWrite) error {
	if len(writes) == 0 {
		return nil
	}
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write, err := c.descriptorWrite(w)
		if err != nil {
			return err
		}
		vkWrites = append(vkWrites, write)
	}
	return c.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(c.LogicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
		core.LogDebug("Updated %d descriptor binding(s).", len(vkWrites))
		return nil
	})
}
