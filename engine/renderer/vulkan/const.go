package vulkan

import vk "github.com/goki/vulkan"

/**
 * @brief VK_NV_ray_tracing enum values. The core headers the bindings are
 * generated from do not name them.
 */
const (
	BufferUsageRayTracingNV                   vk.BufferUsageFlagBits   = 0x00000400
	PipelineStageRayTracingShaderNV           vk.PipelineStageFlagBits = 0x00200000
	PipelineStageAccelerationStructureBuildNV vk.PipelineStageFlagBits = 0x02000000
	AccessAccelerationStructureReadNV         vk.AccessFlagBits        = 0x00200000
	AccessAccelerationStructureWriteNV        vk.AccessFlagBits        = 0x00400000
	DescriptorTypeAccelerationStructureNV     vk.DescriptorType        = 1000165000
	PipelineBindPointRayTracingNV             vk.PipelineBindPoint     = 1000165000
	IndexTypeNoneNV                           vk.IndexType             = 1000165000
)

/** @brief Vertex positions are read as three 32-bit floats. */
const VULKAN_VERTEX_FORMAT = vk.FormatR32g32b32Sfloat

/** @brief Index buffers hold 32-bit indices. */
const VULKAN_INDEX_TYPE = vk.IndexTypeUint32
