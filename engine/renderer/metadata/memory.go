package metadata

/**
 * @brief A range of equally sized records inside a buffer, addressed as
 * Offset + index * Stride. This is what a trace-rays dispatch receives for
 * every shader binding table section.
 */
type StridedRange struct {
	Offset uint64
	Stride uint64
	Size   uint64
}

// Count returns how many whole records fit in the range.
func (r StridedRange) Count() uint64 {
	if r.Stride == 0 {
		return 0
	}
	return r.Size / r.Stride
}
