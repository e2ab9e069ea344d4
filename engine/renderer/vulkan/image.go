package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

/**
 * @brief A 2D color image the ray generation shader writes to. The view is
 * registered with the context so it can be bound as the pass output.
 */
type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32
	Format vk.Format

	viewHandle raytracing.ImageView
}

func (i *VulkanImage) ViewHandle() raytracing.ImageView {
	return i.viewHandle
}

/**
 * @brief Creates a device local storage image and transitions it to the
 * general layout, ready for imageStore from ray tracing shaders.
 */
func (c *Context) CreateStorageImage(width, height uint32, format vk.Format) (*VulkanImage, error) {
	image := &VulkanImage{Width: width, Height: height, Format: format}

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageStorageBit | vk.ImageUsageTransferSrcBit),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}
	if err := resultError("vkCreateImage", vk.CreateImage(c.LogicalDevice, &imageInfo, c.Allocator, &image.Handle)); err != nil {
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(c.LogicalDevice, image.Handle, &requirements)
	requirements.Deref()

	memory, err := c.allocate(requirements.Size, requirements.MemoryTypeBits, raytracing.MemoryPropertyDeviceLocal)
	if err != nil {
		image.Destroy(c)
		return nil, err
	}
	image.Memory = memory
	if err := resultError("vkBindImageMemory", vk.BindImageMemory(c.LogicalDevice, image.Handle, image.Memory, 0)); err != nil {
		image.Destroy(c)
		return nil, err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	if err := resultError("vkCreateImageView", vk.CreateImageView(c.LogicalDevice, &viewInfo, c.Allocator, &image.View)); err != nil {
		image.Destroy(c)
		return nil, err
	}

	if err := c.transitionToGeneral(image); err != nil {
		image.Destroy(c)
		return nil, err
	}
	image.viewHandle = c.RegisterImageView(image.View)

	core.LogDebug("Storage image %dx%d created.", width, height)
	return image, nil
}

func (c *Context) transitionToGeneral(image *VulkanImage) error {
	cb, err := AllocateAndBeginSingleUse(c)
	if err != nil {
		return err
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutGeneral,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image.Handle,
		DstAccessMask:       vk.AccessFlags(vk.AccessShaderWriteBit),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(PipelineStageRayTracingShaderNV),
		vk.DependencyFlags(0), 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	return cb.EndSingleUse(c)
}

func (i *VulkanImage) Destroy(c *Context) {
	if i.viewHandle != 0 {
		c.imageViews.remove(uint64(i.viewHandle))
		i.viewHandle = 0
	}
	if i.View != nil {
		vk.DestroyImageView(c.LogicalDevice, i.View, c.Allocator)
		i.View = nil
	}
	if i.Memory != nil {
		vk.FreeMemory(c.LogicalDevice, i.Memory, c.Allocator)
		i.Memory = nil
	}
	if i.Handle != nil {
		vk.DestroyImage(c.LogicalDevice, i.Handle, c.Allocator)
		i.Handle = nil
	}
}
