package extract

import (
	"bytes"
	"fmt"

	"webnotary/shared"
)

// SubstringRanges returns the byte ranges of every occurrence of needle in
// data. An absent needle is an error: containment assertions must fail
// loudly, not silently reveal nothing.
func SubstringRanges(data []byte, needle string) ([]shared.ByteRange, error) {
	if needle == "" {
		return nil, fmt.Errorf("empty substring")
	}
	var ranges []shared.ByteRange
	n := []byte(needle)
	for offset := 0; offset < len(data); {
		idx := bytes.Index(data[offset:], n)
		if idx < 0 {
			break
		}
		start := offset + idx
		ranges = append(ranges, shared.ByteRange{Start: start, End: start + len(n)})
		offset = start + len(n)
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("substring %q not found", needle)
	}
	return ranges, nil
}
