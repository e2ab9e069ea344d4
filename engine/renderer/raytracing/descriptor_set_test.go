package raytracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

func newTestBindings(t *testing.T) *DescriptorBindingSet {
	t.Helper()
	d := NewDescriptorBindingSet()
	require.NoError(t, d.AddBinding(0, 1, DescriptorTypeAccelerationStructure, ShaderStageRayGen|ShaderStageClosestHit))
	require.NoError(t, d.AddBinding(1, 1, DescriptorTypeStorageImage, ShaderStageRayGen))
	require.NoError(t, d.AddBinding(2, 1, DescriptorTypeUniformBuffer, ShaderStageRayGen))
	require.NoError(t, d.AddBinding(3, 2, DescriptorTypeStorageBuffer, ShaderStageClosestHit))
	return d
}

func TestDescriptorBindingCollision(t *testing.T) {
	d := newTestBindings(t)
	err := d.AddBinding(2, 1, DescriptorTypeStorageBuffer, ShaderStageMiss)
	assert.ErrorIs(t, err, core.ErrBindingCollision)
	// The original registration is untouched.
	assert.Equal(t, DescriptorTypeUniformBuffer, d.Bindings()[2].Type)
}

func TestDescriptorBindingValidation(t *testing.T) {
	d := NewDescriptorBindingSet()
	assert.ErrorIs(t, d.AddBinding(0, 0, DescriptorTypeStorageBuffer, ShaderStageRayGen), core.ErrInvalidArgument)
	assert.ErrorIs(t, d.AddBinding(0, 1, DescriptorType(42), ShaderStageRayGen), core.ErrInvalidArgument)
	assert.ErrorIs(t, d.Add(DescriptorBinding{
		Binding:          0,
		Type:             DescriptorTypeStorageImage,
		Count:            1,
		ImmutableSampler: Sampler(5),
	}), core.ErrInvalidArgument)
	assert.NoError(t, d.Add(DescriptorBinding{
		Binding:          0,
		Type:             DescriptorTypeCombinedImageSampler,
		Count:            1,
		Stages:           ShaderStageClosestHit,
		ImmutableSampler: Sampler(5),
	}))
}

func TestDescriptorPoolAndLayout(t *testing.T) {
	dev := newFakeDevice()
	d := NewDescriptorBindingSet()
	// Registered out of order on purpose.
	require.NoError(t, d.AddBinding(4, 1, DescriptorTypeStorageBuffer, ShaderStageClosestHit))
	require.NoError(t, d.AddBinding(0, 1, DescriptorTypeAccelerationStructure, ShaderStageRayGen))
	require.NoError(t, d.AddBinding(3, 2, DescriptorTypeStorageBuffer, ShaderStageClosestHit))

	pool, err := d.GeneratePool(dev, 2)
	require.NoError(t, err)
	assert.Equal(t, []DescriptorPoolSize{
		{Type: DescriptorTypeAccelerationStructure, Count: 2},
		{Type: DescriptorTypeStorageBuffer, Count: 6},
	}, dev.pools[pool])

	layout, err := d.GenerateLayout(dev)
	require.NoError(t, err)
	bindings := dev.setLayouts[layout]
	require.Len(t, bindings, 3)
	assert.Equal(t, []uint32{0, 3, 4}, []uint32{bindings[0].Binding, bindings[1].Binding, bindings[2].Binding})

	assert.ErrorIs(t, d.AddBinding(5, 1, DescriptorTypeUniformBuffer, ShaderStageRayGen), core.ErrUsageSequence)

	set, err := d.GenerateSet(dev, pool, layout)
	require.NoError(t, err)
	assert.Equal(t, layout, dev.sets[set])

	_, err = d.GeneratePool(dev, 0)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = d.GenerateSet(dev, 0, layout)
	assert.ErrorIs(t, err, core.ErrUsageSequence)
}

func TestDescriptorUnknownBinding(t *testing.T) {
	d := newTestBindings(t)
	set := DescriptorSet(1)
	assert.ErrorIs(t, d.BindBuffers(set, 9, []DescriptorBufferInfo{{Buffer: 1, Range: WholeSize}}), core.ErrUnknownBinding)
	assert.ErrorIs(t, d.BindImages(set, 9, []DescriptorImageInfo{{View: 1}}), core.ErrUnknownBinding)
	assert.ErrorIs(t, d.BindAccelerationStructures(set, 9, []AccelerationStructure{1}), core.ErrUnknownBinding)
	assert.Zero(t, d.PendingWrites(set))
}

func TestDescriptorBindTypeAndCount(t *testing.T) {
	d := newTestBindings(t)
	set := DescriptorSet(1)
	// Binding 1 is an image.
	assert.ErrorIs(t, d.BindBuffers(set, 1, []DescriptorBufferInfo{{Buffer: 1}}), core.ErrInvalidArgument)
	// Binding 3 takes two buffers at most.
	assert.ErrorIs(t, d.BindBuffers(set, 3, make([]DescriptorBufferInfo, 3)), core.ErrInvalidArgument)
	assert.ErrorIs(t, d.BindBuffers(set, 3, nil), core.ErrInvalidArgument)
	assert.NoError(t, d.BindBuffers(set, 3, make([]DescriptorBufferInfo, 2)))
}

func TestDescriptorLastWriteWins(t *testing.T) {
	dev := newFakeDevice()
	d := newTestBindings(t)
	set := DescriptorSet(11)
	other := DescriptorSet(12)

	require.NoError(t, d.BindAccelerationStructures(set, 0, []AccelerationStructure{100}))
	require.NoError(t, d.BindImages(set, 1, []DescriptorImageInfo{{View: 200, Layout: ImageLayoutGeneral}}))
	require.NoError(t, d.BindBuffers(set, 2, []DescriptorBufferInfo{{Buffer: 300, Range: 64}}))
	require.NoError(t, d.BindBuffers(set, 2, []DescriptorBufferInfo{{Buffer: 301, Range: 128}}))
	require.NoError(t, d.BindAccelerationStructures(set, 0, []AccelerationStructure{101}))
	require.NoError(t, d.BindBuffers(other, 2, []DescriptorBufferInfo{{Buffer: 400, Range: 64}}))
	assert.Equal(t, 3, d.PendingWrites(set))

	require.NoError(t, d.UpdateSetContents(dev, set))
	require.Len(t, dev.updates, 1, "one batched device call")
	writes := dev.updates[0]
	require.Len(t, writes, 3)

	byBinding := make(map[uint32]DescriptorWrite)
	for _, w := range writes {
		assert.Equal(t, set, w.Set)
		byBinding[w.Binding] = w
	}
	assert.Equal(t, []DescriptorBufferInfo{{Buffer: 301, Range: 128}}, byBinding[2].Buffers)
	assert.Equal(t, DescriptorTypeUniformBuffer, byBinding[2].Type)
	assert.Equal(t, []AccelerationStructure{101}, byBinding[0].AccelerationStructures)
	assert.Equal(t, []DescriptorImageInfo{{View: 200, Layout: ImageLayoutGeneral}}, byBinding[1].Images)

	// Flushed writes are gone, writes to other sets stay queued.
	assert.Zero(t, d.PendingWrites(set))
	assert.Equal(t, 1, d.PendingWrites(other))
	require.NoError(t, d.UpdateSetContents(dev, set))
	assert.Len(t, dev.updates, 1, "nothing to flush")
}

func TestDescriptorUpdateFailureKeepsWrites(t *testing.T) {
	dev := newFakeDevice()
	dev.fail["UpdateDescriptorSets"] = true
	d := newTestBindings(t)
	set := DescriptorSet(11)
	require.NoError(t, d.BindBuffers(set, 2, []DescriptorBufferInfo{{Buffer: 300, Range: 64}}))

	assert.ErrorIs(t, d.UpdateSetContents(dev, set), core.ErrDeviceCall)
	assert.Equal(t, 1, d.PendingWrites(set))
}

func TestDescriptorBindCopiesInput(t *testing.T) {
	dev := newFakeDevice()
	d := newTestBindings(t)
	set := DescriptorSet(11)
	infos := []DescriptorBufferInfo{{Buffer: 300, Range: 64}}
	require.NoError(t, d.BindBuffers(set, 2, infos))
	infos[0].Buffer = 999

	require.NoError(t, d.UpdateSetContents(dev, set))
	assert.Equal(t, Buffer(300), dev.updates[0][0].Buffers[0].Buffer)
}
