package relay

import (
	"strings"
	"unicode/utf8"
)

// NormalizeReply flattens a completion reply into a single line of plain
// text: line breaks become spaces and backticks are removed.
func NormalizeReply(s string) string {
	return replyReplacer.Replace(s)
}

var replyReplacer = strings.NewReplacer(
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
	"`", "",
)

// SplitChunks splits text on whitespace into lines of at most maxSize
// characters, keeping words whole where possible. A word longer than maxSize
// is cut into maxSize-character slices that stand alone. Every chunk is
// non-empty. maxSize below 1 is treated as 1.
func SplitChunks(text string, maxSize int) []string {
	if maxSize < 1 {
		maxSize = 1
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		wordLen := utf8.RuneCountInString(word)

		if wordLen > maxSize {
			flush()
			chunks = append(chunks, sliceRunes(word, maxSize)...)
			continue
		}

		if curLen > 0 && curLen+1+wordLen > maxSize {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += wordLen
	}
	flush()

	return chunks
}

// sliceRunes cuts s into consecutive pieces of at most n runes.
func sliceRunes(s string, n int) []string {
	var out []string
	for len(s) > 0 {
		end, count := 0, 0
		for end < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
			count++
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	return out
}
