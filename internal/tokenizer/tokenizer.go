// Package tokenizer converts between language-model token ids and text.
//
// Ordinary text is segmented with a pure-Go SentencePiece unigram model.
// Bracketed special tokens such as <|SPEECH_GENERATION_START|> and the
// <|speech_N|> codes are matched verbatim against the piece table so each
// maps to exactly one id.
package tokenizer

// Tokenizer encodes text into token ids.
type Tokenizer interface {
	Encode(text string) ([]int64, error)
}

// Decoder maps token ids back to their surface text.
type Decoder interface {
	Piece(id int64) (string, bool)
	Decode(ids []int64) string
}
