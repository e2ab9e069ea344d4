//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Ray tracing stages compiled by build:shaders.
var shaderStages = []string{"*.rgen", "*.rmiss", "*.rchit", "*.rahit", "*.rint"}

// Compiles every ray tracing stage under shaders/ to SPIR-V next to its source.
func (Build) Shaders() error {
	return buildShaders()
}

func buildShaders() error {
	for _, pattern := range shaderStages {
		sources, err := filepath.Glob(filepath.Join("shaders", pattern))
		if err != nil {
			return err
		}
		for _, src := range sources {
			out := src + ".spv"
			if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", src, "-o", out), withStream()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compiles the module without running anything.
func (Build) Module() error {
	_, err := executeCmd("go", withArgs("build", "./..."), withStream())
	return err
}
