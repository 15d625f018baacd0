package shared

// ByteRange addresses one contiguous run of bytes inside a transcript
// direction. End is exclusive.
type ByteRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Length returns the number of bytes covered by the range.
func (r ByteRange) Length() int { return r.End - r.Start }

// Contains reports whether other lies entirely within r.
func (r ByteRange) Contains(other ByteRange) bool {
	return other.Start >= r.Start && other.End <= r.End
}

// Overlaps reports whether the two ranges share at least one byte.
func (r ByteRange) Overlaps(other ByteRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// MergeRanges sorts and coalesces overlapping or adjacent ranges.
func MergeRanges(ranges []ByteRange) []ByteRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]ByteRange, len(ranges))
	copy(sorted, ranges)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Start < sorted[j-1].Start; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	merged := []ByteRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Zeroize overwrites a secret buffer. Callers drop the slice afterwards.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
