package raytracing

import (
	"encoding/binary"
	"fmt"
	gomath "math"
	"unsafe"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
)

// InstanceFlags mirrors the device geometry instance flags.
type InstanceFlags uint8

const (
	InstanceTriangleCullDisable           InstanceFlags = 0x01
	InstanceTriangleFrontCounterClockwise InstanceFlags = 0x02
	InstanceForceOpaque                   InstanceFlags = 0x04
	InstanceForceNoOpaque                 InstanceFlags = 0x08
)

const (
	// InstanceRecordSize is the byte size of one flattened instance.
	InstanceRecordSize = 64
	// Instance IDs and hit group indices share a 32-bit word with an 8-bit field.
	MaxInstanceCustomIndex = 1<<24 - 1
	DefaultInstanceMask    = 0xFF
)

// Instance places a bottom-level structure in the scene.
type Instance struct {
	BottomLevel AccelerationStructure
	// Only the upper 3x4 part is used.
	Transform math.Mat4
	// Visible to shaders as gl_InstanceCustomIndex.
	InstanceID uint32
	// Offset of the instance's first hit group in the hit group section.
	HitGroupIndex uint32
	Mask          uint8
	Flags         InstanceFlags
}

func (in Instance) validate() error {
	if in.BottomLevel == 0 {
		return fmt.Errorf("%w: instance without a bottom-level structure", core.ErrInvalidArgument)
	}
	if in.InstanceID > MaxInstanceCustomIndex {
		return fmt.Errorf("%w: instance id %d does not fit in 24 bits", core.ErrInvalidArgument, in.InstanceID)
	}
	if in.HitGroupIndex > MaxInstanceCustomIndex {
		return fmt.Errorf("%w: hit group index %d does not fit in 24 bits", core.ErrInvalidArgument, in.HitGroupIndex)
	}
	if in.Flags&^(InstanceTriangleCullDisable|InstanceTriangleFrontCounterClockwise|InstanceForceOpaque|InstanceForceNoOpaque) != 0 {
		return fmt.Errorf("%w: unknown instance flags %#x", core.ErrInvalidArgument, uint8(in.Flags))
	}
	if in.Flags&InstanceForceOpaque != 0 && in.Flags&InstanceForceNoOpaque != 0 {
		return fmt.Errorf("%w: instance cannot be forced both opaque and non-opaque", core.ErrInvalidArgument)
	}
	return nil
}

// InstanceRecord is the device layout of one instance.
type InstanceRecord struct {
	// Row-major 3x4 object to world matrix.
	Transform math.Mat3x4
	// instanceID in the low 24 bits, mask in the high 8.
	InstanceIDAndMask uint32
	// Hit group offset in the low 24 bits, flags in the high 8.
	InstanceOffsetAndFlags uint32
	// Value returned by AccelerationStructureHandle for the bottom level.
	AccelerationStructureHandle uint64
}

// Fails to compile if the record layout drifts from the device layout.
var _ [InstanceRecordSize]byte = [unsafe.Sizeof(InstanceRecord{})]byte{}

// Record flattens the instance, handle being the device reference of its
// bottom-level structure.
func (in Instance) Record(handle uint64) InstanceRecord {
	return InstanceRecord{
		Transform:                   in.Transform.Rows3x4(),
		InstanceIDAndMask:           in.InstanceID&MaxInstanceCustomIndex | uint32(in.Mask)<<24,
		InstanceOffsetAndFlags:      in.HitGroupIndex&MaxInstanceCustomIndex | uint32(in.Flags)<<24,
		AccelerationStructureHandle: handle,
	}
}

func (r InstanceRecord) InstanceID() uint32 {
	return r.InstanceIDAndMask & MaxInstanceCustomIndex
}

func (r InstanceRecord) Mask() uint8 {
	return uint8(r.InstanceIDAndMask >> 24)
}

func (r InstanceRecord) HitGroupIndex() uint32 {
	return r.InstanceOffsetAndFlags & MaxInstanceCustomIndex
}

func (r InstanceRecord) Flags() InstanceFlags {
	return InstanceFlags(r.InstanceOffsetAndFlags >> 24)
}

// Put writes r little-endian into the first InstanceRecordSize bytes of dst.
func (r InstanceRecord) Put(dst []byte) {
	_ = dst[InstanceRecordSize-1]
	for i, f := range r.Transform {
		binary.LittleEndian.PutUint32(dst[i*4:], gomath.Float32bits(f))
	}
	binary.LittleEndian.PutUint32(dst[48:], r.InstanceIDAndMask)
	binary.LittleEndian.PutUint32(dst[52:], r.InstanceOffsetAndFlags)
	binary.LittleEndian.PutUint64(dst[56:], r.AccelerationStructureHandle)
}

// ParseInstanceRecord reads back a record written by Put.
func ParseInstanceRecord(src []byte) (InstanceRecord, error) {
	if len(src) < InstanceRecordSize {
		return InstanceRecord{}, fmt.Errorf("%w: instance record needs %d bytes, got %d", core.ErrInvalidArgument, InstanceRecordSize, len(src))
	}
	var r InstanceRecord
	for i := range r.Transform {
		r.Transform[i] = gomath.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	r.InstanceIDAndMask = binary.LittleEndian.Uint32(src[48:])
	r.InstanceOffsetAndFlags = binary.LittleEndian.Uint32(src[52:])
	r.AccelerationStructureHandle = binary.LittleEndian.Uint64(src[56:])
	return r, nil
}
