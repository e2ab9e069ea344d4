package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetAligned(t *testing.T) {
	for _, tc := range []struct {
		operand, granularity, want uint64
	}{
		{0, 16, 0},
		{1, 16, 16},
		{32, 16, 32},
		{33, 16, 48},
		{5, 1, 5},
	} {
		assert.Equal(t, tc.want, GetAligned(tc.operand, tc.granularity), "GetAligned(%d, %d)", tc.operand, tc.granularity)
	}
}

func TestStridedRangeCount(t *testing.T) {
	assert.EqualValues(t, 3, StridedRange{Offset: 64, Stride: 32, Size: 96}.Count())
	assert.Zero(t, StridedRange{}.Count())
}
