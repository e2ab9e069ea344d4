package raytracing

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

// DescriptorType mirrors the device descriptor types used by ray tracing.
type DescriptorType uint32

const (
	DescriptorTypeSampler               DescriptorType = 0
	DescriptorTypeCombinedImageSampler  DescriptorType = 1
	DescriptorTypeSampledImage          DescriptorType = 2
	DescriptorTypeStorageImage          DescriptorType = 3
	DescriptorTypeUniformBuffer         DescriptorType = 6
	DescriptorTypeStorageBuffer         DescriptorType = 7
	DescriptorTypeAccelerationStructure DescriptorType = 1000165000
)

type descriptorCategory int

const (
	categoryUnknown descriptorCategory = iota
	categoryBuffer
	categoryImage
	categoryAccelerationStructure
)

func (t DescriptorType) category() descriptorCategory {
	switch t {
	case DescriptorTypeUniformBuffer, DescriptorTypeStorageBuffer:
		return categoryBuffer
	case DescriptorTypeSampler, DescriptorTypeCombinedImageSampler, DescriptorTypeSampledImage, DescriptorTypeStorageImage:
		return categoryImage
	case DescriptorTypeAccelerationStructure:
		return categoryAccelerationStructure
	}
	return categoryUnknown
}

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeSampler:
		return "sampler"
	case DescriptorTypeCombinedImageSampler:
		return "combined-image-sampler"
	case DescriptorTypeSampledImage:
		return "sampled-image"
	case DescriptorTypeStorageImage:
		return "storage-image"
	case DescriptorTypeUniformBuffer:
		return "uniform-buffer"
	case DescriptorTypeStorageBuffer:
		return "storage-buffer"
	case DescriptorTypeAccelerationStructure:
		return "acceleration-structure"
	}
	return fmt.Sprintf("descriptor-type(%d)", uint32(t))
}

// ShaderStage mirrors the device ray tracing shader stage bits.
type ShaderStage uint32

const (
	ShaderStageRayGen       ShaderStage = 0x00000100
	ShaderStageAnyHit       ShaderStage = 0x00000200
	ShaderStageClosestHit   ShaderStage = 0x00000400
	ShaderStageMiss         ShaderStage = 0x00000800
	ShaderStageIntersection ShaderStage = 0x00001000
	ShaderStageCallable     ShaderStage = 0x00002000

	ShaderStageAllRayTracing = ShaderStageRayGen | ShaderStageAnyHit | ShaderStageClosestHit |
		ShaderStageMiss | ShaderStageIntersection | ShaderStageCallable
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageRayGen:
		return "raygen"
	case ShaderStageAnyHit:
		return "anyhit"
	case ShaderStageClosestHit:
		return "closesthit"
	case ShaderStageMiss:
		return "miss"
	case ShaderStageIntersection:
		return "intersection"
	case ShaderStageCallable:
		return "callable"
	}
	return fmt.Sprintf("stages(%#x)", uint32(s))
}

// ImageLayout mirrors the device image layouts descriptors can reference.
type ImageLayout uint32

const (
	ImageLayoutGeneral               ImageLayout = 1
	ImageLayoutShaderReadOnlyOptimal ImageLayout = 5
)

// WholeSize binds from the offset to the end of the buffer.
const WholeSize = ^uint64(0)

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
	// Optional, only meaningful for sampler types.
	ImmutableSampler Sampler
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

type DescriptorImageInfo struct {
	Sampler Sampler
	View    ImageView
	Layout  ImageLayout
}

// DescriptorWrite is one pending update of a binding. Exactly one of the
// payload slices is filled, matching the binding's type.
type DescriptorWrite struct {
	Set     DescriptorSet
	Binding uint32
	Type    DescriptorType

	Buffers                []DescriptorBufferInfo
	Images                 []DescriptorImageInfo
	AccelerationStructures []AccelerationStructure
}

func (w DescriptorWrite) count() int {
	return len(w.Buffers) + len(w.Images) + len(w.AccelerationStructures)
}

// DescriptorBindingSet keeps the binding table of a single descriptor set
// layout, and the writes waiting to be flushed to sets of that layout.
// Not safe for concurrent use.
type DescriptorBindingSet struct {
	label    string
	bindings map[uint32]DescriptorBinding
	layout   DescriptorSetLayout

	// Writes waiting for UpdateSetContents, grouped by category.
	bufferWrites                []DescriptorWrite
	imageWrites                 []DescriptorWrite
	accelerationStructureWrites []DescriptorWrite
}

func NewDescriptorBindingSet() *DescriptorBindingSet {
	return &DescriptorBindingSet{
		label:    core.NewIdentifier("descriptors"),
		bindings: make(map[uint32]DescriptorBinding),
	}
}

func (d *DescriptorBindingSet) Label() string {
	return d.label
}

// AddBinding registers a binding slot. Indices must be unique. Use Add to
// give the binding an immutable sampler.
func (d *DescriptorBindingSet) AddBinding(binding, count uint32, descriptorType DescriptorType, stages ShaderStage) error {
	return d.Add(DescriptorBinding{
		Binding: binding,
		Type:    descriptorType,
		Count:   count,
		Stages:  stages,
	})
}

// Add registers b. See AddBinding.
func (d *DescriptorBindingSet) Add(b DescriptorBinding) error {
	if d.layout != 0 {
		return fmt.Errorf("%w: %s: binding %d added after the layout was generated", core.ErrUsageSequence, d.label, b.Binding)
	}
	if _, ok := d.bindings[b.Binding]; ok {
		return fmt.Errorf("%w: %s: binding %d already registered", core.ErrBindingCollision, d.label, b.Binding)
	}
	if b.Count == 0 {
		return fmt.Errorf("%w: %s: binding %d has a zero descriptor count", core.ErrInvalidArgument, d.label, b.Binding)
	}
	if b.Type.category() == categoryUnknown {
		return fmt.Errorf("%w: %s: binding %d has unsupported type %s", core.ErrInvalidArgument, d.label, b.Binding, b.Type)
	}
	if b.ImmutableSampler != 0 && b.Type != DescriptorTypeSampler && b.Type != DescriptorTypeCombinedImageSampler {
		return fmt.Errorf("%w: %s: binding %d of type %s cannot hold an immutable sampler", core.ErrInvalidArgument, d.label, b.Binding, b.Type)
	}
	d.bindings[b.Binding] = b
	return nil
}

// Bindings returns the registered bindings ordered by index.
func (d *DescriptorBindingSet) Bindings() []DescriptorBinding {
	out := make([]DescriptorBinding, 0, len(d.bindings))
	for _, b := range d.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Binding < out[j].Binding })
	return out
}

// PoolSizes totals the descriptors per type needed for maxSets sets.
func (d *DescriptorBindingSet) PoolSizes(maxSets uint32) []DescriptorPoolSize {
	var sizes []DescriptorPoolSize
	index := make(map[DescriptorType]int)
	for _, b := range d.Bindings() {
		i, ok := index[b.Type]
		if !ok {
			i = len(sizes)
			index[b.Type] = i
			sizes = append(sizes, DescriptorPoolSize{Type: b.Type})
		}
		sizes[i].Count += b.Count * maxSets
	}
	return sizes
}

// GeneratePool creates a pool able to hold maxSets sets of this layout.
func (d *DescriptorBindingSet) GeneratePool(dev DescriptorDevice, maxSets uint32) (DescriptorPool, error) {
	if maxSets == 0 {
		return 0, fmt.Errorf("%w: %s: maxSets must be positive", core.ErrInvalidArgument, d.label)
	}
	if len(d.bindings) == 0 {
		return 0, fmt.Errorf("%w: %s: no bindings registered", core.ErrUsageSequence, d.label)
	}
	pool, err := dev.CreateDescriptorPool(d.PoolSizes(maxSets), maxSets)
	if err != nil {
		core.LogError("%s: failed to create descriptor pool: %s", d.label, err)
		return 0, fmt.Errorf("%s: create descriptor pool: %w", d.label, err)
	}
	core.LogInfo("%s: descriptor pool created for %d sets", d.label, maxSets)
	return pool, nil
}

// GenerateLayout creates the set layout. Bindings are frozen afterwards.
func (d *DescriptorBindingSet) GenerateLayout(dev DescriptorDevice) (DescriptorSetLayout, error) {
	if len(d.bindings) == 0 {
		return 0, fmt.Errorf("%w: %s: no bindings registered", core.ErrUsageSequence, d.label)
	}
	layout, err := dev.CreateDescriptorSetLayout(d.Bindings())
	if err != nil {
		core.LogError("%s: failed to create descriptor set layout: %s", d.label, err)
		return 0, fmt.Errorf("%s: create descriptor set layout: %w", d.label, err)
	}
	d.layout = layout
	return layout, nil
}

func (d *DescriptorBindingSet) GenerateSet(dev DescriptorDevice, pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error) {
	if pool == 0 || layout == 0 {
		return 0, fmt.Errorf("%w: %s: set requested without a pool and layout", core.ErrUsageSequence, d.label)
	}
	set, err := dev.AllocateDescriptorSet(pool, layout)
	if err != nil {
		core.LogError("%s: failed to allocate descriptor set: %s", d.label, err)
		return 0, fmt.Errorf("%s: allocate descriptor set: %w", d.label, err)
	}
	return set, nil
}

func (d *DescriptorBindingSet) lookup(binding uint32, want descriptorCategory, count int) (DescriptorBinding, error) {
	b, ok := d.bindings[binding]
	if !ok {
		return b, fmt.Errorf("%w: %s: binding %d", core.ErrUnknownBinding, d.label, binding)
	}
	if b.Type.category() != want {
		return b, fmt.Errorf("%w: %s: binding %d is a %s binding", core.ErrInvalidArgument, d.label, binding, b.Type)
	}
	if count == 0 || uint32(count) > b.Count {
		return b, fmt.Errorf("%w: %s: binding %d takes 1..%d descriptors, got %d", core.ErrInvalidArgument, d.label, binding, b.Count, count)
	}
	return b, nil
}

// queueWrite replaces an earlier pending write for the same set and binding
// or appends a new one. Lookup is a linear scan; sets hold a handful of
// bindings so a map would not pay for itself.
func queueWrite(writes []DescriptorWrite, w DescriptorWrite) []DescriptorWrite {
	for i := range writes {
		if writes[i].Set == w.Set && writes[i].Binding == w.Binding {
			writes[i] = w
			return writes
		}
	}
	return append(writes, w)
}

// BindBuffers queues buffer descriptors for binding in set.
func (d *DescriptorBindingSet) BindBuffers(set DescriptorSet, binding uint32, buffers []DescriptorBufferInfo) error {
	b, err := d.lookup(binding, categoryBuffer, len(buffers))
	if err != nil {
		return err
	}
	d.bufferWrites = queueWrite(d.bufferWrites, DescriptorWrite{
		Set:     set,
		Binding: binding,
		Type:    b.Type,
		Buffers: append([]DescriptorBufferInfo(nil), buffers...),
	})
	return nil
}

// BindImages queues image descriptors for binding in set.
func (d *DescriptorBindingSet) BindImages(set DescriptorSet, binding uint32, images []DescriptorImageInfo) error {
	b, err := d.lookup(binding, categoryImage, len(images))
	if err != nil {
		return err
	}
	d.imageWrites = queueWrite(d.imageWrites, DescriptorWrite{
		Set:     set,
		Binding: binding,
		Type:    b.Type,
		Images:  append([]DescriptorImageInfo(nil), images...),
	})
	return nil
}

// BindAccelerationStructures queues top-level structures for binding in set.
func (d *DescriptorBindingSet) BindAccelerationStructures(set DescriptorSet, binding uint32, structures []AccelerationStructure) error {
	b, err := d.lookup(binding, categoryAccelerationStructure, len(structures))
	if err != nil {
		return err
	}
	d.accelerationStructureWrites = queueWrite(d.accelerationStructureWrites, DescriptorWrite{
		Set:                    set,
		Binding:                binding,
		Type:                   b.Type,
		AccelerationStructures: append([]AccelerationStructure(nil), structures...),
	})
	return nil
}

// PendingWrites reports how many writes wait to be flushed to set.
func (d *DescriptorBindingSet) PendingWrites(set DescriptorSet) int {
	n := 0
	for _, group := range [][]DescriptorWrite{d.bufferWrites, d.imageWrites, d.accelerationStructureWrites} {
		for _, w := range group {
			if w.Set == set {
				n++
			}
		}
	}
	return n
}

// dropWrites removes the writes targeting set, keeping the others in order.
func dropWrites(writes []DescriptorWrite, set DescriptorSet) []DescriptorWrite {
	remaining := writes[:0]
	for _, w := range writes {
		if w.Set != set {
			remaining = append(remaining, w)
		}
	}
	return remaining
}

// UpdateSetContents flushes every pending write for set in one device call.
// Writes stay pending if the call fails.
func (d *DescriptorBindingSet) UpdateSetContents(dev DescriptorDevice, set DescriptorSet) error {
	if set == 0 {
		return fmt.Errorf("%w: %s: no descriptor set", core.ErrInvalidArgument, d.label)
	}
	writes := make([]DescriptorWrite, 0, d.PendingWrites(set))
	for _, group := range [][]DescriptorWrite{d.bufferWrites, d.imageWrites, d.accelerationStructureWrites} {
		for _, w := range group {
			if w.Set == set {
				writes = append(writes, w)
			}
		}
	}
	if len(writes) == 0 {
		core.LogDebug("%s: nothing to update", d.label)
		return nil
	}
	if err := dev.UpdateDescriptorSets(writes); err != nil {
		core.LogError("%s: failed to update descriptor set: %s", d.label, err)
		return fmt.Errorf("%s: update descriptor set: %w", d.label, err)
	}

	d.bufferWrites = dropWrites(d.bufferWrites, set)
	d.imageWrites = dropWrites(d.imageWrites, set)
	d.accelerationStructureWrites = dropWrites(d.accelerationStructureWrites, set)

	descriptors := 0
	for _, w := range writes {
		descriptors += w.count()
	}
	core.LogDebug("%s: flushed %d writes (%d descriptors)", d.label, len(writes), descriptors)
	return nil
}
