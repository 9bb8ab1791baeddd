package hammer

import (
	"fmt"
	"sort"
)

// Span is a half-open byte range into a source buffer, used to
// anchor diagnostics to a location without retaining the text
// itself.
type Span struct {
	Start int
	End   int
	Line  int
}

func (s Span) String() string {
	if s.Line == 0 {
		return fmt.Sprintf("%d..%d", s.Start, s.End)
	}
	return fmt.Sprintf("line %d", s.Line)
}

// SpanOf builds a Span covering token t.
func SpanOf(t Token) Span {
	return Span{Start: t.Start, End: t.Start + t.Length, Line: t.Line}
}

// LineIndex maps byte offsets in a source buffer back to 1-indexed
// line numbers. A Chunk's line table already stores line numbers,
// so runtime errors do not go through it.
type LineIndex struct {
	lineStart []int
}

func NewLineIndex(source string) *LineIndex {
	lineStart := make([]int, 1, 64)
	lineStart[0] = 0
	for i := 0; i < len(source); i++ {
		if source[i] == '\n' {
			lineStart = append(lineStart, i+1)
		}
	}
	return &LineIndex{lineStart: lineStart}
}

func (li *LineIndex) LineAt(offset int) int {
	idx := sort.Search(len(li.lineStart), func(i int) bool {
		return li.lineStart[i] > offset
	}) - 1
	if idx < 0 {
		idx = 0
	}
	return idx + 1
}
