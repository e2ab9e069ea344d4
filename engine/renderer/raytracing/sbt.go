package raytracing

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Shader group identifiers are copied to entries aligned to this boundary.
const shaderGroupBaseAlignment = 16

// SBTEntry is one record of the shader binding table: the identifier of a
// pipeline group followed by data the shaders read as shaderRecordNV.
type SBTEntry struct {
	GroupIndex uint32
	InlineData []byte
}

// ShaderBindingTableBuilder lays out the ray generation, miss and hit group
// sections of a shader binding table, in that order. Entries within a section
// share the same size, the section's largest inline payload plus the group
// handle, aligned to 16 bytes. Not safe for concurrent use.
type ShaderBindingTableBuilder struct {
	label    string
	zeroFill bool

	rayGen   []SBTEntry
	miss     []SBTEntry
	hitGroup []SBTEntry

	handleSize        uint32
	rayGenEntrySize   uint64
	missEntrySize     uint64
	hitGroupEntrySize uint64
	size              uint64
}

type SBTOption func(*ShaderBindingTableBuilder)

// WithZeroFill clears the mapped table before writing it, so padding after
// short inline payloads reads as zero.
func WithZeroFill(zeroFill bool) SBTOption {
	return func(s *ShaderBindingTableBuilder) {
		s.zeroFill = zeroFill
	}
}

func NewShaderBindingTableBuilder(opts ...SBTOption) *ShaderBindingTableBuilder {
	s := &ShaderBindingTableBuilder{
		label: core.NewIdentifier("sbt"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ShaderBindingTableBuilder) Label() string {
	return s.label
}

func newEntry(groupIndex uint32, inlineData []byte) SBTEntry {
	return SBTEntry{
		GroupIndex: groupIndex,
		InlineData: append([]byte(nil), inlineData...),
	}
}

// AddRayGenerationProgram appends a ray generation entry. inlineData is copied.
func (s *ShaderBindingTableBuilder) AddRayGenerationProgram(groupIndex uint32, inlineData []byte) {
	s.rayGen = append(s.rayGen, newEntry(groupIndex, inlineData))
	s.size = 0
}

// AddMissProgram appends a miss entry. inlineData is copied.
func (s *ShaderBindingTableBuilder) AddMissProgram(groupIndex uint32, inlineData []byte) {
	s.miss = append(s.miss, newEntry(groupIndex, inlineData))
	s.size = 0
}

// AddHitGroup appends a hit group entry. inlineData is copied.
func (s *ShaderBindingTableBuilder) AddHitGroup(groupIndex uint32, inlineData []byte) {
	s.hitGroup = append(s.hitGroup, newEntry(groupIndex, inlineData))
	s.size = 0
}

// Reset drops every entry and the computed layout.
func (s *ShaderBindingTableBuilder) Reset() {
	s.rayGen, s.miss, s.hitGroup = nil, nil, nil
	s.handleSize = 0
	s.rayGenEntrySize, s.missEntrySize, s.hitGroupEntrySize = 0, 0, 0
	s.size = 0
}

func (s *ShaderBindingTableBuilder) entrySize(entries []SBTEntry) uint64 {
	maxInline := 0
	for _, e := range entries {
		if len(e.InlineData) > maxInline {
			maxInline = len(e.InlineData)
		}
	}
	return metadata.GetAligned(uint64(s.handleSize)+uint64(maxInline), shaderGroupBaseAlignment)
}

// ComputeSBTSize computes the per-section entry sizes for the device's group
// handle size and returns the total table size in bytes.
func (s *ShaderBindingTableBuilder) ComputeSBTSize(handleSize uint32) (uint64, error) {
	if handleSize == 0 {
		return 0, fmt.Errorf("%w: %s: shader group handle size is zero", core.ErrInvalidArgument, s.label)
	}
	if len(s.rayGen) == 0 {
		return 0, fmt.Errorf("%w: %s: table has no ray generation entry", core.ErrUsageSequence, s.label)
	}
	s.handleSize = handleSize
	s.rayGenEntrySize = s.entrySize(s.rayGen)
	s.missEntrySize = s.entrySize(s.miss)
	s.hitGroupEntrySize = s.entrySize(s.hitGroup)
	s.size = s.RayGenSectionSize() + s.MissSectionSize() + s.HitGroupSectionSize()
	return s.size, nil
}

func (s *ShaderBindingTableBuilder) Size() uint64 {
	return s.size
}

func (s *ShaderBindingTableBuilder) RayGenEntrySize() uint64 {
	return s.rayGenEntrySize
}

func (s *ShaderBindingTableBuilder) MissEntrySize() uint64 {
	return s.missEntrySize
}

func (s *ShaderBindingTableBuilder) HitGroupEntrySize() uint64 {
	return s.hitGroupEntrySize
}

func (s *ShaderBindingTableBuilder) RayGenSectionSize() uint64 {
	return s.rayGenEntrySize * uint64(len(s.rayGen))
}

func (s *ShaderBindingTableBuilder) MissSectionSize() uint64 {
	return s.missEntrySize * uint64(len(s.miss))
}

func (s *ShaderBindingTableBuilder) HitGroupSectionSize() uint64 {
	return s.hitGroupEntrySize * uint64(len(s.hitGroup))
}

func (s *ShaderBindingTableBuilder) RayGenOffset() uint64 {
	return 0
}

func (s *ShaderBindingTableBuilder) MissOffset() uint64 {
	return s.RayGenSectionSize()
}

func (s *ShaderBindingTableBuilder) HitGroupOffset() uint64 {
	return s.RayGenSectionSize() + s.MissSectionSize()
}

// Regions returns the three sections as strided ranges inside the table.
func (s *ShaderBindingTableBuilder) Regions() (rayGen, miss, hitGroup metadata.StridedRange) {
	rayGen = metadata.StridedRange{Offset: s.RayGenOffset(), Stride: s.rayGenEntrySize, Size: s.RayGenSectionSize()}
	miss = metadata.StridedRange{Offset: s.MissOffset(), Stride: s.missEntrySize, Size: s.MissSectionSize()}
	hitGroup = metadata.StridedRange{Offset: s.HitGroupOffset(), Stride: s.hitGroupEntrySize, Size: s.HitGroupSectionSize()}
	return rayGen, miss, hitGroup
}

// groupCount is one past the highest group index referenced by any entry.
func (s *ShaderBindingTableBuilder) groupCount() uint32 {
	var n uint32
	for _, section := range [][]SBTEntry{s.rayGen, s.miss, s.hitGroup} {
		for _, e := range section {
			if e.GroupIndex+1 > n {
				n = e.GroupIndex + 1
			}
		}
	}
	return n
}

// copySection writes entries back to back from the start of dst, each entry
// being the group handle followed by its inline data.
func (s *ShaderBindingTableBuilder) copySection(dst []byte, entries []SBTEntry, entrySize uint64, handles []byte) {
	hs := uint64(s.handleSize)
	for i, e := range entries {
		at := uint64(i) * entrySize
		src := uint64(e.GroupIndex) * hs
		copy(dst[at:at+hs], handles[src:src+hs])
		copy(dst[at+hs:], e.InlineData)
	}
}

// Fill writes the table into data using handles, the concatenated group
// identifiers of the pipeline. data must be at least Size bytes.
func (s *ShaderBindingTableBuilder) Fill(data, handles []byte) error {
	if s.size == 0 {
		return fmt.Errorf("%w: %s: table filled before ComputeSBTSize", core.ErrBufferSizes, s.label)
	}
	if uint64(len(data)) < s.size {
		return fmt.Errorf("%w: %s: destination holds %d bytes, table needs %d", core.ErrBufferSizes, s.label, len(data), s.size)
	}
	if need := uint64(s.groupCount()) * uint64(s.handleSize); uint64(len(handles)) < need {
		return fmt.Errorf("%w: %s: %d bytes of group handles, need %d", core.ErrInvalidArgument, s.label, len(handles), need)
	}
	if s.zeroFill {
		clear(data[:s.size])
	}
	s.copySection(data[s.RayGenOffset():], s.rayGen, s.rayGenEntrySize, handles)
	s.copySection(data[s.MissOffset():], s.miss, s.missEntrySize, handles)
	s.copySection(data[s.HitGroupOffset():], s.hitGroup, s.hitGroupEntrySize, handles)
	return nil
}

// TableDevice is what writing a table into device memory needs.
type TableDevice interface {
	ExecutionContext
	PipelineDevice
}

// Generate fetches the group identifiers of pipeline and writes the table
// into memory, which must be host visible and at least Size bytes.
func (s *ShaderBindingTableBuilder) Generate(dev TableDevice, pipeline Pipeline, memory DeviceMemory) error {
	if s.size == 0 {
		return fmt.Errorf("%w: %s: generate called before ComputeSBTSize", core.ErrBufferSizes, s.label)
	}
	groupCount := s.groupCount()
	dataSize := int(groupCount) * int(s.handleSize)
	handles, err := dev.ShaderGroupHandles(pipeline, 0, groupCount, dataSize)
	if err != nil {
		core.LogError("%s: failed to get shader group handles: %s", s.label, err)
		return fmt.Errorf("%s: shader group handles: %w", s.label, err)
	}

	data, err := dev.MapMemory(memory, 0, s.size)
	if err != nil {
		core.LogError("%s: failed to map table memory: %s", s.label, err)
		return fmt.Errorf("%s: map table memory: %w", s.label, err)
	}
	defer dev.UnmapMemory(memory)

	if err := s.Fill(data, handles); err != nil {
		return err
	}
	core.LogInfo("%s: %d bytes written (raygen=%d miss=%d hit=%d entries)", s.label, s.size, len(s.rayGen), len(s.miss), len(s.hitGroup))
	return nil
}
