// Package canon normalizes note text so that every comparison in the sync
// engine works on the same representation.
package canon

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const edgeRunes = 24

var lineEndings = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\u2028", "\n",
	"\u2029", "\n",
)

var zeroWidth = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\u2060", "",
	"\ufeff", "",
)

// Canonicalize is idempotent. Whitespace-only input collapses to "" or, when
// the input ended with a newline, to a single "\n".
func Canonicalize(input string) string {
	if input == "" {
		return ""
	}

	text := lineEndings.Replace(zeroWidth.Replace(input))
	trailingNewline := strings.HasSuffix(text, "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}

	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}

	out := strings.Join(lines[start:end], "\n")
	if trailingNewline {
		out += "\n"
	}
	return out
}

func Fingerprint(content string, format string) string {
	c := Canonicalize(content)
	runes := []rune(c)

	head := runes
	if len(head) > edgeRunes {
		head = head[:edgeRunes]
	}
	tail := runes
	if len(tail) > edgeRunes {
		tail = tail[len(tail)-edgeRunes:]
	}

	return fmt.Sprintf("%s:%d:%s:%s", format, len(runes), string(head), string(tail))
}

// ByteLength is the UTF-8 size used for storage limits.
func ByteLength(content string) int {
	return len(content)
}

type DiffMeta struct {
	Equal           bool
	WhitespaceOnly  bool
	NewlineChanged  bool
	StrictAppend    bool
	StrictlyShorter bool
	LengthDelta     int
}

// Diff classifies an edit without computing a full diff. Lengths are in runes.
func Diff(previous, next string) DiffMeta {
	prevLen := utf8.RuneCountInString(previous)
	nextLen := utf8.RuneCountInString(next)

	meta := DiffMeta{
		Equal:           previous == next,
		NewlineChanged:  newlineSignature(previous) != newlineSignature(next),
		StrictAppend:    nextLen > prevLen && strings.HasPrefix(next, previous),
		StrictlyShorter: nextLen < prevLen,
		LengthDelta:     nextLen - prevLen,
	}
	if !meta.Equal {
		meta.WhitespaceOnly = stripWhitespace(previous) == stripWhitespace(next)
	}
	return meta
}

func newlineSignature(s string) string {
	return fmt.Sprintf("%d:%t", strings.Count(s, "\n"), strings.HasSuffix(s, "\n"))
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
