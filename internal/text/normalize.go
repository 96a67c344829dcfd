// Package text holds the plain-text glue in front of the phonemizer:
// input normalization, word/punctuation segmentation and sentence grouping.
package text

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

// typography maps characters the phonemizer vocabulary lacks onto the
// ASCII forms it was trained on.
var typography = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\u2018", "'", "\u2019", "'", "\u201a", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`,
	"\u2026", "...",
)

// Normalize composes the text to NFC, maps curly quotes and the ellipsis
// to ASCII, unifies line endings, collapses runs of spaces and tabs within
// each line and trims the result. Empty input is rejected.
func Normalize(s string) (string, error) {
	s = typography.Replace(norm.NFC.String(s))

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.FieldsFunc(line, isInlineSpace), " ")
	}

	s = strings.TrimSpace(strings.Join(lines, "\n"))
	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}

func isInlineSpace(r rune) bool { return r != '\n' && unicode.IsSpace(r) }
