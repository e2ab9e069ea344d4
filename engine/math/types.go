package math

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

/**
 * @brief a 4x4 matrix, typically used to represent object transformations.
 * Elements are stored column by column: the translation lives in Data[12..14].
 */
type Mat4 struct {
	/** @brief The matrix elements */
	Data [16]float32
}

/**
 * @brief The upper three rows of a transform in row-major order, as consumed
 * by the device instance records. The projective row is implied to be 0,0,0,1.
 */
type Mat3x4 [12]float32
