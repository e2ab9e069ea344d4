package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	default:
		return "not allocated"
	}
}

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	// First recording error. A failed buffer is never submitted.
	err error
}

// Fail records err unless an earlier one is already set.
func (v *VulkanCommandBuffer) Fail(err error) {
	if v.err == nil {
		v.err = err
	}
}

func (v *VulkanCommandBuffer) Err() error {
	return v.err
}

func NewVulkanCommandBuffer(context *Context, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	if err := context.locks.SafeCall(CommandBufferManagement, func() error {
		return resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(context.LogicalDevice, &allocateInfo, handles))
	}); err != nil {
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(context *Context, pool vk.CommandPool) {
	_ = context.locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(context.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isSimultaneousUse bool) error {
	vBeginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}

	if isSingleUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isSimultaneousUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if err := resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(v.Handle, vBeginInfo)); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING

	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if err := resultError("vkEndCommandBuffer", vk.EndCommandBuffer(v.Handle)); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

/**
 * Allocates a primary command buffer from the context pool and begins
 * recording to it.
 */
func AllocateAndBeginSingleUse(context *Context) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, context.CommandPool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true, false); err != nil {
		cb.Free(context, context.CommandPool)
		return nil, err
	}
	return cb, nil
}

/**
 * Ends recording, submits to and waits for queue operation and frees the provided command buffer.
 */
func (v *VulkanCommandBuffer) EndSingleUse(context *Context) error {
	defer v.Free(context, context.CommandPool)

	if err := v.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}

	return context.locks.SafeQueueCall(context.QueueFamilyIndex, func() error {
		if err := resultError("vkQueueSubmit", vk.QueueSubmit(context.Queue, 1, []vk.SubmitInfo{submitInfo}, nil)); err != nil {
			return err
		}
		v.UpdateSubmitted()
		// Wait for it to finish
		return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(context.Queue))
	})
}

func (c *Context) BeginOneShotCommandBuffer() (raytracing.CommandBuffer, error) {
	cb, err := AllocateAndBeginSingleUse(c)
	if err != nil {
		return 0, err
	}
	return raytracing.CommandBuffer(c.commandBuffers.add(cb)), nil
}

func (c *Context) SubmitAndWaitIdle(cmd raytracing.CommandBuffer) error {
	cb, ok := c.commandBuffers.remove(uint64(cmd))
	if !ok {
		return unknownHandle("command buffer", uint64(cmd))
	}
	if err := cb.Err(); err != nil {
		core.LogError("command buffer %d dropped a command, not submitting: %s", cmd, err)
		cb.Free(c, c.CommandPool)
		return fmt.Errorf("command buffer %d: %w", cmd, err)
	}
	if cb.State != COMMAND_BUFFER_STATE_RECORDING {
		core.LogWarn("submitting command buffer %d in state %s", cmd, cb.State)
	}
	return cb.EndSingleUse(c)
}

// recording resolves cmd for a vkCmd* call. Recording calls have no error
// return: a dropped command marks the buffer failed and SubmitAndWaitIdle
// reports it.
func (c *Context) recording(cmd raytracing.CommandBuffer) (*VulkanCommandBuffer, bool) {
	cb, ok := c.commandBuffers.get(uint64(cmd))
	if !ok {
		_ = unknownHandle("command buffer", uint64(cmd))
		return nil, false
	}
	if cb.State != COMMAND_BUFFER_STATE_RECORDING {
		err := fmt.Errorf("%w: command buffer %d is not recording (state %s)", core.ErrUsageSequence, cmd, cb.State)
		core.LogError(err.Error())
		cb.Fail(err)
		return nil, false
	}
	return cb, true
}
