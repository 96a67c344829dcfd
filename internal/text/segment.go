package text

import "regexp"

// separatorPattern matches the single runes that split words.
var separatorPattern = regexp.MustCompile(`[().,:?!/–\s]`)

// separators are passed through to the phoneme string unchanged.
var separators = map[string]struct{}{
	"(": {}, ")": {}, ".": {}, ",": {}, ":": {}, "?": {}, "!": {},
	"/": {}, "–": {}, "-": {}, " ": {},
}

// Part is one piece of segmented text.
type Part struct {
	Text string
	// Sep marks punctuation or whitespace that bypasses phonemization.
	Sep bool
}

// Segment splits s into words and single-rune separators, in order.
// Empty pieces are dropped. Tabs and newlines split words but are not in
// the pass-through set, so they are reported with Sep false.
func Segment(s string) []Part {
	var parts []Part

	last := 0
	for _, loc := range separatorPattern.FindAllStringIndex(s, -1) {
		if loc[0] > last {
			parts = append(parts, Part{Text: s[last:loc[0]]})
		}

		sep := s[loc[0]:loc[1]]
		_, isSep := separators[sep]
		parts = append(parts, Part{Text: sep, Sep: isSep})
		last = loc[1]
	}

	if last < len(s) {
		parts = append(parts, Part{Text: s[last:]})
	}

	return parts
}
