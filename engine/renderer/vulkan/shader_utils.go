package vulkan

import (
	"encoding/binary"
	"fmt"
	"os"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

const spirvMagic uint32 = 0x07230203

// SPIRVWords checks the SPIR-V header and returns the module as 32-bit words.
func SPIRVWords(code []byte) ([]uint32, error) {
	if len(code) < 20 || len(code)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a SPIR-V module", core.ErrInvalidArgument, len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return nil, fmt.Errorf("%w: bad SPIR-V magic %#08x", core.ErrInvalidArgument, magic)
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}

/**
 * @brief Creates a shader module from SPIR-V code, as produced by
 * `mage build:shaders`, and returns its handle.
 */
func (c *Context) CreateShaderModule(code []byte) (raytracing.ShaderModule, error) {
	words, err := SPIRVWords(code)
	if err != nil {
		core.LogError(err.Error())
		return 0, err
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if err := resultError("vkCreateShaderModule", vk.CreateShaderModule(c.LogicalDevice, &createInfo, c.Allocator, &module)); err != nil {
		return 0, err
	}
	return raytracing.ShaderModule(c.shaderModules.add(module)), nil
}

/** @brief Reads a compiled shader from disk, e.g. "shaders/raytrace.rgen.spv". */
func (c *Context) LoadShaderModule(path string) (raytracing.ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("unable to read shader module %s: %w", path, err)
		core.LogError(err.Error())
		return 0, err
	}
	module, err := c.CreateShaderModule(code)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	core.LogDebug("Shader module %s loaded.", path)
	return module, nil
}

func (c *Context) DestroyShaderModule(module raytracing.ShaderModule) {
	if m, ok := c.shaderModules.remove(uint64(module)); ok {
		vk.DestroyShaderModule(c.LogicalDevice, m, c.Allocator)
	}
}
