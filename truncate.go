package spacebot

import (
	"fmt"
	"unicode/utf8"
)

// MaxToolOutputBytes is the byte cap for tool output strings (stdout,
// stderr, file content). ~50KB keeps a single tool result under ~12,500
// tokens at ~4 chars/token.
const MaxToolOutputBytes = 50_000

// MaxDirEntries caps directory listing results.
const MaxDirEntries = 500

// TruncateOutput truncates a string to a byte limit, appending a notice if
// anything was cut. The cut lands on the last rune boundary at or before
// maxBytes so multi-byte characters are never split; the result stays valid
// UTF-8 when the input was.
func TruncateOutput(value string, maxBytes int) string {
	if len(value) <= maxBytes {
		return value
	}

	end := maxBytes
	for end > 0 && !utf8.RuneStart(value[end]) {
		end--
	}

	total := len(value)
	omitted := total - end
	return fmt.Sprintf(
		"%s\n\n[output truncated: showed %d of %d bytes (%d bytes omitted). Use head/tail/offset to read specific sections]",
		value[:end], end, total, omitted)
}
