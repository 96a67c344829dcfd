// Package codec decodes speech-code marker text into 24 kHz PCM frames and
// delivers the frames in submission order.
package codec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var codePattern = regexp.MustCompile(`<\|speech_(\d+)\|>`)

// ExtractCodes returns the integer codes of every <|speech_N|> marker in s,
// in order. Markers whose number does not fit an int32 are skipped.
func ExtractCodes(s string) []int32 {
	matches := codePattern.FindAllStringSubmatch(s, -1)
	codes := make([]int32, 0, len(matches))

	for _, m := range matches {
		n, err := strconv.ParseInt(m[1], 10, 32)
		if err != nil {
			continue
		}

		codes = append(codes, int32(n))
	}

	return codes
}

// MarkerText renders codes as concatenated <|speech_N|> markers.
func MarkerText(codes []int) string {
	var sb strings.Builder

	sb.Grow(len(codes) * 16)

	for _, c := range codes {
		sb.WriteString("<|speech_")
		sb.WriteString(strconv.Itoa(c))
		sb.WriteString("|>")
	}

	return sb.String()
}

// ParseReferenceCodes decodes a JSON array of integer codes.
func ParseReferenceCodes(data []byte) ([]int, error) {
	var codes []int
	if err := json.Unmarshal(data, &codes); err != nil {
		return nil, fmt.Errorf("parse reference codes: %w", err)
	}

	if len(codes) == 0 {
		return nil, fmt.Errorf("parse reference codes: empty list")
	}

	for i, c := range codes {
		if c < 0 {
			return nil, fmt.Errorf("parse reference codes: code %d at %d is negative", c, i)
		}
	}

	return codes, nil
}
