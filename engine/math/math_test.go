package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRows3x4MovesTranslationToLastColumn(t *testing.T) {
	mt := NewMat4Translation(NewVec3(1, 2, 3))
	rows := mt.Rows3x4()

	assert.Equal(t, Mat3x4{
		1, 0, 0, 1,
		0, 1, 0, 2,
		0, 0, 1, 3,
	}, rows)
}

func TestTransposeIsInvolution(t *testing.T) {
	mt := NewMat4EulerXYZ(0.3, -1.2, 2.0).Mul(NewMat4Translation(NewVec3(4, 5, 6)))
	assert.Equal(t, mt, NewMat4Transposed(NewMat4Transposed(mt)))
}

func TestVec3TransformAppliesScaleAndTranslation(t *testing.T) {
	mt := NewMat4Scale(NewVec3(2, 2, 2)).Mul(NewMat4Translation(NewVec3(1, 0, 0)))
	got := NewVec3(1, 1, 1).Transform(mt)
	assert.True(t, got.Compare(NewVec3(3, 2, 2), 1e-6), "got %+v", got)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0, 1, 31))
	assert.Equal(t, 31, Clamp(64, 1, 31))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
}
