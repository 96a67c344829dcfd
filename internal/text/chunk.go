package text

import (
	"strings"
	"unicode/utf8"
)

// SplitSentences groups sentences (terminated by '.', '!' or '?') into
// chunks of at most maxRunes runes so long requests can be synthesized as
// a series of utterances. A sentence longer than maxRunes is kept whole.
// maxRunes <= 0 disables splitting.
func SplitSentences(s string, maxRunes int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if maxRunes <= 0 {
		return []string{s}
	}

	var (
		chunks  []string
		current strings.Builder
		runes   int
	)

	for _, sentence := range sentences(s) {
		n := utf8.RuneCountInString(sentence)

		if runes > 0 && runes+1+n > maxRunes {
			chunks = append(chunks, current.String())
			current.Reset()

			runes = 0
		}

		if runes > 0 {
			current.WriteByte(' ')
			runes++
		}

		current.WriteString(sentence)
		runes += n
	}

	if runes > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

func sentences(s string) []string {
	var out []string

	start := 0
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		if part := strings.TrimSpace(s[start : i+1]); part != "" {
			out = append(out, part)
		}

		start = i + 1
	}

	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}

	return out
}
