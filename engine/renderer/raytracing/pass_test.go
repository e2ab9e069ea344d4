package raytracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

func testPassShaders() PassShaders {
	return PassShaders{
		RayGen: 20,
		Miss:   21,
		HitGroups: []HitGroupShaders{
			{ClosestHit: 22, InlineData: []byte{0, 0, 0, 0}},
			{ClosestHit: 23, AnyHit: 24, InlineData: []byte{1, 0, 0, 0}},
		},
		ShadowMiss:     25,
		ShadowHitGroup: &HitGroupShaders{ClosestHit: 26},
	}
}

func testPassResources() PassResources {
	return PassResources{
		TopLevel:    AccelerationStructure(900),
		OutputImage: ImageView(901),
		Camera:      DescriptorBufferInfo{Buffer: 902, Range: 128},
		Vertices:    &DescriptorBufferInfo{Buffer: 903, Range: WholeSize},
		Indices:     &DescriptorBufferInfo{Buffer: 904, Range: WholeSize},
	}
}

func TestPassSetup(t *testing.T) {
	dev := newFakeDevice()
	cfg := core.DefaultConfig().RayTracing
	cfg.MaxRecursionDepth = 10

	p, err := NewPass(dev, cfg, testPassShaders(), testPassResources())
	require.NoError(t, err)

	require.Len(t, dev.updates, 1)
	writes := dev.updates[0]
	require.Len(t, writes, 5)
	bound := make(map[uint32]DescriptorWrite)
	for _, w := range writes {
		bound[w.Binding] = w
	}
	assert.Equal(t, []AccelerationStructure{900}, bound[BindingTopLevel].AccelerationStructures)
	assert.Equal(t, ImageView(901), bound[BindingOutputImage].Images[0].View)
	assert.Equal(t, ImageLayoutGeneral, bound[BindingOutputImage].Images[0].Layout)
	assert.Equal(t, Buffer(902), bound[BindingCamera].Buffers[0].Buffer)
	assert.Equal(t, DescriptorTypeStorageBuffer, bound[BindingVertices].Type)
	assert.Equal(t, Buffer(904), bound[BindingIndices].Buffers[0].Buffer)

	info := dev.pipelines[p.Pipeline()]
	// raygen, miss, shadow miss, two materials, shadow hit group.
	require.Len(t, info.Groups, 6)
	assert.Equal(t, uint32(fakeRecursionLimit), info.MaxRecursionDepth, "clamped to the device limit")
	assert.Equal(t, []DescriptorSetLayout{p.DescriptorSetLayout()}, dev.pipelineLayout[p.PipelineLayout()])

	regions := p.Regions()
	assert.NotZero(t, regions.Table)
	assert.Equal(t, uint64(1), regions.RayGen.Count())
	assert.Equal(t, uint64(2), regions.Miss.Count())
	assert.Equal(t, uint64(3), regions.HitGroup.Count())
	assert.Equal(t, uint64(48), regions.HitGroup.Stride)
	assert.Equal(t, regions.Miss.Offset+regions.Miss.Size, regions.HitGroup.Offset)

	table := dev.memory[dev.buffers[regions.Table]]
	hit1 := regions.HitGroup.Offset + regions.HitGroup.Stride
	assert.Equal(t, fakeGroupHandle(4), table[hit1:hit1+fakeHandleSize])
	assert.Equal(t, []byte{1, 0, 0, 0}, table[hit1+fakeHandleSize:hit1+fakeHandleSize+4])
	hit2 := hit1 + regions.HitGroup.Stride
	assert.Equal(t, fakeGroupHandle(5), table[hit2:hit2+fakeHandleSize])
}

func TestPassRebind(t *testing.T) {
	dev := newFakeDevice()
	p, err := NewPass(dev, core.DefaultConfig().RayTracing, testPassShaders(), testPassResources())
	require.NoError(t, err)

	require.NoError(t, p.SetOutputImage(dev, ImageView(950)))
	require.NoError(t, p.SetTopLevel(dev, AccelerationStructure(951)))
	require.Len(t, dev.updates, 3)
	assert.Equal(t, ImageView(950), dev.updates[1][0].Images[0].View)
	assert.Equal(t, []AccelerationStructure{951}, dev.updates[2][0].AccelerationStructures)
	assert.Equal(t, p.DescriptorSet(), dev.updates[2][0].Set)
}

func TestPassMinimalBindings(t *testing.T) {
	dev := newFakeDevice()
	res := testPassResources()
	res.Vertices, res.Indices = nil, nil
	shaders := testPassShaders()
	shaders.ShadowMiss, shaders.ShadowHitGroup = 0, nil

	p, err := NewPass(dev, core.DefaultConfig().RayTracing, shaders, res)
	require.NoError(t, err)
	assert.Len(t, dev.setLayouts[p.DescriptorSetLayout()], 3)
	assert.Len(t, dev.pipelines[p.Pipeline()].Groups, 4)
	assert.Equal(t, uint64(1), p.Regions().Miss.Count())
}

func TestPassDestroy(t *testing.T) {
	dev := newFakeDevice()
	p, err := NewPass(dev, core.DefaultConfig().RayTracing, testPassShaders(), testPassResources())
	require.NoError(t, err)

	p.Destroy(dev)
	assert.Empty(t, dev.pools)
	assert.Empty(t, dev.setLayouts)
	assert.Empty(t, dev.pipelines)
	assert.Empty(t, dev.pipelineLayout)
	assert.Empty(t, dev.memory)
	assert.Zero(t, p.Regions())
	p.Destroy(dev)
}

func TestPassFailureReleasesEverything(t *testing.T) {
	dev := newFakeDevice()
	dev.fail["ShaderGroupHandles"] = true
	_, err := NewPass(dev, core.DefaultConfig().RayTracing, testPassShaders(), testPassResources())
	assert.ErrorIs(t, err, core.ErrDeviceCall)
	assert.Empty(t, dev.pools)
	assert.Empty(t, dev.setLayouts)
	assert.Empty(t, dev.pipelines)
	assert.Empty(t, dev.memory)

	_, err = NewPass(dev, core.DefaultConfig().RayTracing, PassShaders{RayGen: 1}, testPassResources())
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}
