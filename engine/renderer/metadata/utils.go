package metadata

// GetAligned rounds operand up to a multiple of granularity, which must be a
// power of two.
func GetAligned(operand, granularity uint64) uint64 {
	val := (operand + (granularity - 1)) &^ (granularity - 1)
	return val
}
