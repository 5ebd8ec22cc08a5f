// Package completion adapts analysis server suggestions to editor
// completion hosts.
package completion

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	dserrors "dartas/internal/errors"
)

// ByteOffset converts a 1-based line and a 0-based byte column into a
// 0-based byte offset into content. The column may equal the line's length,
// placing the cursor at the end of the line.
func ByteOffset(content []byte, line, byteColumn int) (int, error) {
	if line < 1 {
		return 0, invalidPosition(line, byteColumn, "line must be at least 1")
	}
	if byteColumn < 0 {
		return 0, invalidPosition(line, byteColumn, "column must not be negative")
	}

	start := 0
	for l := 1; l < line; l++ {
		i := bytes.IndexByte(content[start:], '\n')
		if i < 0 {
			return 0, invalidPosition(line, byteColumn, "line past end of buffer")
		}
		start += i + 1
	}

	end := len(content)
	if i := bytes.IndexByte(content[start:], '\n'); i >= 0 {
		end = start + i
	}
	if byteColumn > end-start {
		return 0, invalidPosition(line, byteColumn, "column past end of line")
	}
	return start + byteColumn, nil
}

// ByteColumn converts a character column within lineText into a byte
// column. Columns past the end clamp to len(lineText).
func ByteColumn(lineText string, charColumn int) int {
	if charColumn <= 0 {
		return 0
	}
	offset := 0
	for i := 0; i < charColumn; i++ {
		if offset >= len(lineText) {
			return len(lineText)
		}
		_, size := utf8.DecodeRuneInString(lineText[offset:])
		offset += size
	}
	return offset
}

func invalidPosition(line, column int, reason string) error {
	return dserrors.New(dserrors.InvalidPosition,
		fmt.Sprintf("invalid position %d:%d", line, column),
		errors.New(reason),
	).WithDetails(map[string]int{"line": line, "column": column})
}
