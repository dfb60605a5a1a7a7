package srcmap

import "sort"

// LineBreaks holds the byte offset of every '\n' in a source text, always
// kept consistent with the current text per the File invariant in the data
// model: LineBreaks(f) = { i | f.source[i] = '\n' }, strictly increasing.
type LineBreaks []int

// ComputeLineBreaks scans src and returns the offset of every newline.
func ComputeLineBreaks(src []byte) LineBreaks {
	var breaks LineBreaks
	for i, b := range src {
		if b == '\n' {
			breaks = append(breaks, i)
		}
	}
	return breaks
}

// LineColumn converts a byte offset into a 1-based line and a 0-based column using
// a lower-bound binary search over the line-break table. An offset that is
// itself a newline counts as the start of the next line, per spec: "if the
// offset equals a stored line-break position, the offset is that newline and
// counts as the next line."
func (lb LineBreaks) LineColumn(offset int) (line, column int) {
	// idx counts line breaks at-or-before offset: an offset that lands
	// exactly on a break is treated as the start of the next line, per the
	// spec's lower-bound rule, so the comparison is strict '>' rather than
	// '>='.
	idx := sort.Search(len(lb), func(i int) bool { return lb[i] > offset })
	line = idx + 1
	if idx == 0 {
		column = offset
	} else {
		column = offset - lb[idx-1] - 1
	}
	return line, column
}

// LineByteRange returns the half-open byte range [start, end) spanned by the
// given 1-based line number.
func (lb LineBreaks) LineByteRange(line int) (start, end int) {
	if line <= 1 {
		start = 0
	} else {
		start = lb[line-2] + 1
	}
	if line-1 < len(lb) {
		end = lb[line-1]
	} else {
		end = -1 // signals "to end of source"; caller clamps against len(src)
	}
	return start, end
}
