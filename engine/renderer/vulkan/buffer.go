package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

func (c *Context) allocate(size vk.DeviceSize, typeBits uint32, properties raytracing.MemoryProperty) (vk.DeviceMemory, error) {
	memoryType, err := c.FindMemoryIndex(typeBits, vk.MemoryPropertyFlagBits(properties))
	if err != nil {
		return nil, err
	}
	var memory vk.DeviceMemory
	err = c.locks.SafeCall(MemoryManagement, func() error {
		return resultError("vkAllocateMemory", vk.AllocateMemory(c.LogicalDevice, &vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  size,
			MemoryTypeIndex: memoryType,
		}, c.Allocator, &memory))
	})
	return memory, err
}

/** @brief Creates a buffer with its own dedicated memory, bound at offset 0. */
func (c *Context) CreateBuffer(size uint64, usage raytracing.BufferUsage, properties raytracing.MemoryProperty) (raytracing.Buffer, raytracing.DeviceMemory, error) {
	var buffer vk.Buffer
	if err := c.locks.SafeCall(BufferManagement, func() error {
		return resultError("vkCreateBuffer", vk.CreateBuffer(c.LogicalDevice, &vk.BufferCreateInfo{
			SType:       vk.StructureTypeBufferCreateInfo,
			Size:        vk.DeviceSize(size),
			Usage:       vk.BufferUsageFlags(usage),
			SharingMode: vk.SharingModeExclusive,
		}, c.Allocator, &buffer))
	}); err != nil {
		return 0, 0, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(c.LogicalDevice, buffer, &requirements)
	requirements.Deref()

	memory, err := c.allocate(requirements.Size, requirements.MemoryTypeBits, properties)
	if err != nil {
		vk.DestroyBuffer(c.LogicalDevice, buffer, c.Allocator)
		return 0, 0, err
	}
	if err := resultError("vkBindBufferMemory", vk.BindBufferMemory(c.LogicalDevice, buffer, memory, 0)); err != nil {
		vk.DestroyBuffer(c.LogicalDevice, buffer, c.Allocator)
		vk.FreeMemory(c.LogicalDevice, memory, c.Allocator)
		return 0, 0, err
	}
	return raytracing.Buffer(c.buffers.add(buffer)), raytracing.DeviceMemory(c.memories.add(memory)), nil
}

func (c *Context) DestroyBuffer(buffer raytracing.Buffer, memory raytracing.DeviceMemory) {
	if b, ok := c.buffers.remove(uint64(buffer)); ok {
		_ = c.locks.SafeCall(BufferManagement, func() error {
			vk.DestroyBuffer(c.LogicalDevice, b, c.Allocator)
			return nil
		})
	}
	c.FreeMemory(memory)
}

func (c *Context) AllocateMemory(requirements raytracing.MemoryRequirements, properties raytracing.MemoryProperty) (raytracing.DeviceMemory, error) {
	memory, err := c.allocate(vk.DeviceSize(requirements.Size), requirements.MemoryTypeBits, properties)
	if err != nil {
		return 0, err
	}
	return raytracing.DeviceMemory(c.memories.add(memory)), nil
}

func (c *Context) FreeMemory(memory raytracing.DeviceMemory) {
	if m, ok := c.memories.remove(uint64(memory)); ok {
		_ = c.locks.SafeCall(MemoryManagement, func() error {
			vk.FreeMemory(c.LogicalDevice, m, c.Allocator)
			return nil
		})
	}
}

func (c *Context) MapMemory(memory raytracing.DeviceMemory, offset, size uint64) ([]byte, error) {
	m, ok := c.memories.get(uint64(memory))
	if !ok {
		return nil, unknownHandle("memory", uint64(memory))
	}
	var data unsafe.Pointer
	if err := resultError("vkMapMemory", vk.MapMemory(c.LogicalDevice, m, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &data)); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(data), size), nil
}

func (c *Context) UnmapMemory(memory raytracing.DeviceMemory) {
	if m, ok := c.memories.get(uint64(memory)); ok {
		vk.UnmapMemory(c.LogicalDevice, m)
	}
}
