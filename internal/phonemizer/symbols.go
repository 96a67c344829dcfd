// Package phonemizer turns text into phoneme strings.
//
// Words are looked up in a pronunciation dictionary first and otherwise run
// through a character-level ONNX model whose per-position logits are reduced
// by argmax and deduplication. Punctuation and spaces pass through.
package phonemizer

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultLanguage is used when a request names no language.
const DefaultLanguage = "en_us"

const symbolSchemaURL = "neutts://phonemizer/symbols.schema.json"

const symbolSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["text_symbols", "phoneme_symbols"],
  "properties": {
    "text_symbols": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"type": "integer", "minimum": 0}
    },
    "phoneme_symbols": {
      "type": "object",
      "minProperties": 1,
      "propertyNames": {"pattern": "^[0-9]+$"},
      "additionalProperties": {"type": "string"}
    },
    "char_repeats": {"type": "integer", "minimum": 1},
    "languages": {"type": "array", "items": {"type": "string"}}
  }
}`

// Symbols is the phonemizer tokenizer configuration.
type Symbols struct {
	TextSymbols    map[string]int64  `json:"text_symbols"`
	PhonemeSymbols map[string]string `json:"phoneme_symbols"`
	CharRepeats    int               `json:"char_repeats"`
	Languages      []string          `json:"languages"`

	phonemes map[int64]string
}

// LoadSymbols reads and validates a symbol configuration file.
func LoadSymbols(path string) (*Symbols, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phonemizer config: %w", err)
	}

	return ParseSymbols(data)
}

// ParseSymbols validates raw JSON against the symbol schema and decodes it.
func ParseSymbols(data []byte) (*Symbols, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(symbolSchemaURL, strings.NewReader(symbolSchema)); err != nil {
		return nil, fmt.Errorf("add symbol schema: %w", err)
	}

	schema, err := compiler.Compile(symbolSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile symbol schema: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse phonemizer config: %w", err)
	}

	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid phonemizer config: %w", err)
	}

	var s Symbols
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode phonemizer config: %w", err)
	}

	if s.CharRepeats == 0 {
		s.CharRepeats = 1
	}

	s.phonemes = make(map[int64]string, len(s.PhonemeSymbols))
	for k, v := range s.PhonemeSymbols {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("phoneme symbol key %q: %w", k, err)
		}

		s.phonemes[id] = v
	}

	return &s, nil
}

// Supports reports whether lang is listed. An empty language list accepts
// every language.
func (s *Symbols) Supports(lang string) bool {
	if len(s.Languages) == 0 {
		return true
	}

	for _, l := range s.Languages {
		if l == lang {
			return true
		}
	}

	return false
}

// Encode maps a word to model input ids: the <lang> start symbol, each
// known lowercased rune repeated CharRepeats times, then <end>. Unknown
// runes are skipped.
func (s *Symbols) Encode(word, lang string) []int64 {
	ids := make([]int64, 0, len(word)*s.CharRepeats+2)

	if id, ok := s.TextSymbols["<"+lang+">"]; ok {
		ids = append(ids, id)
	}

	for _, r := range word {
		id, ok := s.TextSymbols[string(unicode.ToLower(r))]
		if !ok {
			continue
		}

		for range s.CharRepeats {
			ids = append(ids, id)
		}
	}

	if id, ok := s.TextSymbols["<end>"]; ok {
		ids = append(ids, id)
	}

	return ids
}

// Decode joins the phoneme symbols of ids, skipping bracketed specials and
// the "_" blank.
func (s *Symbols) Decode(ids []int64) string {
	var sb strings.Builder

	for _, id := range ids {
		ph, ok := s.phonemes[id]
		if !ok || ph == "_" || strings.HasPrefix(ph, "<") {
			continue
		}

		sb.WriteString(ph)
	}

	return sb.String()
}
