package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

/**
 * @brief Context implements raytracing.Device on top of an already created
 * Vulkan device. Every object it creates or is told about gets a uint64
 * handle; the raytracing package never sees a Vulkan type.
 */
type Context struct {
	PhysicalDevice   vk.PhysicalDevice
	LogicalDevice    vk.Device
	Queue            vk.Queue
	QueueFamilyIndex uint32
	CommandPool      vk.CommandPool
	Allocator        *vk.AllocationCallbacks

	memory     vk.PhysicalDeviceMemoryProperties
	properties raytracing.RayTracingProperties
	dispatch   *RayTracingDispatch
	locks      *VulkanLockPool

	buffers         *handleTable[vk.Buffer]
	memories        *handleTable[vk.DeviceMemory]
	structures      *handleTable[uint64]
	commandBuffers  *handleTable[*VulkanCommandBuffer]
	descriptorPools *handleTable[vk.DescriptorPool]
	setLayouts      *handleTable[vk.DescriptorSetLayout]
	descriptorSets  *handleTable[descriptorSet]
	pipelineLayouts *handleTable[vk.PipelineLayout]
	pipelines       *handleTable[vk.Pipeline]
	shaderModules   *handleTable[vk.ShaderModule]
	imageViews      *handleTable[vk.ImageView]
	samplers        *handleTable[vk.Sampler]
}

var _ raytracing.Device = (*Context)(nil)

type ContextOption func(*Context)

func WithAllocator(allocator *vk.AllocationCallbacks) ContextOption {
	return func(c *Context) {
		c.Allocator = allocator
	}
}

func newContext(dispatch *RayTracingDispatch) *Context {
	return &Context{
		dispatch:        dispatch,
		locks:           NewVulkanLockPool(),
		buffers:         newHandleTable[vk.Buffer](),
		memories:        newHandleTable[vk.DeviceMemory](),
		structures:      newHandleTable[uint64](),
		commandBuffers:  newHandleTable[*VulkanCommandBuffer](),
		descriptorPools: newHandleTable[vk.DescriptorPool](),
		setLayouts:      newHandleTable[vk.DescriptorSetLayout](),
		descriptorSets:  newHandleTable[descriptorSet](),
		pipelineLayouts: newHandleTable[vk.PipelineLayout](),
		pipelines:       newHandleTable[vk.Pipeline](),
		shaderModules:   newHandleTable[vk.ShaderModule](),
		imageViews:      newHandleTable[vk.ImageView](),
		samplers:        newHandleTable[vk.Sampler](),
	}
}

/**
 * @brief Wraps a logical device created with the ray tracing extension
 * enabled. Work is submitted to queue 0 of queueFamilyIndex, which must
 * support compute.
 */
func NewContext(physical vk.PhysicalDevice, device vk.Device, queueFamilyIndex uint32, dispatch *RayTracingDispatch, opts ...ContextOption) (*Context, error) {
	if err := dispatch.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	c := newContext(dispatch)
	c.PhysicalDevice = physical
	c.LogicalDevice = device
	c.QueueFamilyIndex = queueFamilyIndex
	for _, opt := range opts {
		opt(c)
	}

	vk.GetDeviceQueue(device, queueFamilyIndex, 0, &c.Queue)
	c.locks.SetQueueFamily(queueFamilyIndex)

	vk.GetPhysicalDeviceMemoryProperties(physical, &c.memory)
	c.memory.Deref()

	c.properties = dispatch.Properties(physical)
	if c.properties.ShaderGroupHandleSize == 0 {
		err := fmt.Errorf("%w: device reports a zero shader group handle size", core.ErrInvalidArgument)
		core.LogError(err.Error())
		return nil, err
	}

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := resultError("vkCreateCommandPool", vk.CreateCommandPool(device, &poolCreateInfo, c.Allocator, &c.CommandPool)); err != nil {
		return nil, err
	}

	core.LogInfo("Ray tracing context created (handle size %d, max recursion %d).", c.properties.ShaderGroupHandleSize, c.properties.MaxRecursionDepth)
	return c, nil
}

/** @brief Waits for the device and destroys the command pool. Objects still alive are reported. */
func (c *Context) Destroy() {
	vk.DeviceWaitIdle(c.LogicalDevice)
	leaks := map[string]int{
		"buffer":                 c.buffers.len(),
		"memory":                 c.memories.len(),
		"acceleration structure": c.structures.len(),
		"descriptor pool":        c.descriptorPools.len(),
		"pipeline":               c.pipelines.len(),
	}
	for kind, n := range leaks {
		if n > 0 {
			core.LogWarn("%d %s handle(s) still registered at context destruction", n, kind)
		}
	}
	if c.CommandPool != nil {
		vk.DestroyCommandPool(c.LogicalDevice, c.CommandPool, c.Allocator)
		c.CommandPool = nil
	}
	core.LogInfo("Ray tracing context destroyed.")
}

func (c *Context) RayTracingProperties() raytracing.RayTracingProperties {
	return c.properties
}

// Register* hand out handles for objects created elsewhere, e.g. the vertex
// buffers of the geometry source. The context never destroys them.

func (c *Context) RegisterBuffer(buffer vk.Buffer) raytracing.Buffer {
	return raytracing.Buffer(c.buffers.add(buffer))
}

func (c *Context) UnregisterBuffer(buffer raytracing.Buffer) {
	c.buffers.remove(uint64(buffer))
}

func (c *Context) RegisterShaderModule(module vk.ShaderModule) raytracing.ShaderModule {
	return raytracing.ShaderModule(c.shaderModules.add(module))
}

func (c *Context) RegisterImageView(view vk.ImageView) raytracing.ImageView {
	return raytracing.ImageView(c.imageViews.add(view))
}

func (c *Context) RegisterSampler(sampler vk.Sampler) raytracing.Sampler {
	return raytracing.Sampler(c.samplers.add(sampler))
}

// The Vk* accessors resolve handles for code that records its own commands.

func (c *Context) VkBuffer(buffer raytracing.Buffer) (vk.Buffer, bool) {
	return c.buffers.get(uint64(buffer))
}

func (c *Context) VkCommandBuffer(cmd raytracing.CommandBuffer) (vk.CommandBuffer, bool) {
	cb, ok := c.commandBuffers.get(uint64(cmd))
	if !ok {
		return nil, false
	}
	return cb.Handle, true
}

func (c *Context) VkPipeline(pipeline raytracing.Pipeline) (vk.Pipeline, bool) {
	return c.pipelines.get(uint64(pipeline))
}

func (c *Context) VkDescriptorSet(set raytracing.DescriptorSet) (vk.DescriptorSet, bool) {
	s, ok := c.descriptorSets.get(uint64(set))
	return s.handle, ok
}

func unknownHandle(kind string, id uint64) error {
	err := fmt.Errorf("%w: unknown %s handle %d", core.ErrInvalidArgument, kind, id)
	core.LogError(err.Error())
	return err
}

/**
 * @brief Returns the index of a memory type allowed by typeFilter that has
 * every bit of propertyFlags.
 */
func (c *Context) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlagBits) (uint32, error) {
	for i := uint32(0); i < c.memory.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		c.memory.MemoryTypes[i].Deref()
		flags := vk.MemoryPropertyFlagBits(c.memory.MemoryTypes[i].PropertyFlags)
		if (typeFilter&(1<<i)) != 0 && flags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	err := fmt.Errorf("%w: no memory type matches filter %#x with properties %#x", core.ErrInvalidArgument, typeFilter, uint32(propertyFlags))
	core.LogWarn("Unable to find suitable memory type!")
	return 0, err
}
