package canonical

import "strings"

// Block is a non-empty line of page text with its byte offsets.
type Block struct {
	Start int
	End   int
	Text  string
}

// SplitBlocks splits page text into non-empty lines with offsets into text.
// A page without any non-empty line yields a single empty block at 0 so every
// page record owns at least one block.
func SplitBlocks(text string) []Block {
	var blocks []Block
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		start := offset
		offset += len(line)
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		blocks = append(blocks, Block{Start: start, End: start + len(trimmed), Text: trimmed})
	}
	if len(blocks) == 0 {
		return []Block{{}}
	}
	return blocks
}
