package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"google.golang.org/protobuf/proto"
)

// ErrEmptyPath is returned when NewSentencePieceTokenizer is called with an empty path.
var ErrEmptyPath = errors.New("tokenizer model path must not be empty")

// wordSep is the SentencePiece word-start marker.
const wordSep = "▁"

// specialPattern matches bracketed special tokens.
var specialPattern = regexp.MustCompile(`<\|[^|<>]+\|>`)

// SentencePieceTokenizer implements Tokenizer and Decoder over one
// SentencePiece model file.
type SentencePieceTokenizer struct {
	proc    gosp.Sentencepiece
	pieces  []string
	control []bool
	ids     map[string]int64
}

var (
	_ Tokenizer = (*SentencePieceTokenizer)(nil)
	_ Decoder   = (*SentencePieceTokenizer)(nil)
)

// NewSentencePieceTokenizer loads a SentencePiece model from the given path.
func NewSentencePieceTokenizer(modelPath string) (*SentencePieceTokenizer, error) {
	if modelPath == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read sentencepiece model %q: %w", modelPath, err)
	}

	var model gosp.ModelProto
	if err := proto.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("unmarshal sentencepiece model %q: %w", modelPath, err)
	}

	proc, err := gosp.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, fmt.Errorf("load sentencepiece model %q: %w", modelPath, err)
	}

	t := &SentencePieceTokenizer{
		proc:    proc,
		pieces:  make([]string, len(model.GetPieces())),
		control: make([]bool, len(model.GetPieces())),
		ids:     make(map[string]int64, len(model.GetPieces())),
	}

	for i, p := range model.GetPieces() {
		t.pieces[i] = p.GetPiece()
		t.ids[p.GetPiece()] = int64(i)

		switch p.GetType() {
		case gosp.ModelProto_SentencePiece_CONTROL, gosp.ModelProto_SentencePiece_UNKNOWN:
			t.control[i] = true
		}
	}

	return t, nil
}

// NewSentencePieceTokenizerFromBytes loads a SentencePiece model from raw bytes.
// The upstream library only exposes a file-path API, so the bytes go through
// a temporary file.
func NewSentencePieceTokenizerFromBytes(data []byte) (*SentencePieceTokenizer, error) {
	if len(data) == 0 {
		return nil, errors.New("tokenizer model data must not be empty")
	}

	f, err := os.CreateTemp("", "sp-*.model")
	if err != nil {
		return nil, fmt.Errorf("create temp sentencepiece file: %w", err)
	}

	defer func() { _ = os.Remove(f.Name()) }()

	_, err = f.Write(data)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write tokenizer model bytes: %w", err)
	}

	path := f.Name()

	err = f.Close()
	if err != nil {
		return nil, fmt.Errorf("close tokenizer temp file: %w", err)
	}

	return NewSentencePieceTokenizer(path)
}

// Encode tokenizes text. Special tokens present in the piece table become
// single ids; everything between them is segmented by the unigram model.
func (t *SentencePieceTokenizer) Encode(text string) ([]int64, error) {
	if text == "" {
		return []int64{}, nil
	}

	var out []int64

	last := 0
	for _, loc := range specialPattern.FindAllStringIndex(text, -1) {
		id, ok := t.ids[text[loc[0]:loc[1]]]
		if !ok {
			continue
		}

		out = t.appendText(out, text[last:loc[0]])
		out = append(out, id)
		last = loc[1]
	}

	out = t.appendText(out, text[last:])

	return out, nil
}

func (t *SentencePieceTokenizer) appendText(out []int64, text string) []int64 {
	if text == "" {
		return out
	}

	for _, id := range t.proc.TokenizeToIDs(text) {
		out = append(out, int64(id))
	}

	return out
}

// ID returns the id of an exact piece.
func (t *SentencePieceTokenizer) ID(piece string) (int64, bool) {
	id, ok := t.ids[piece]
	return id, ok
}

// Piece returns the surface text of id with word markers turned into spaces.
func (t *SentencePieceTokenizer) Piece(id int64) (string, bool) {
	if id < 0 || id >= int64(len(t.pieces)) {
		return "", false
	}

	return strings.ReplaceAll(t.pieces[id], wordSep, " "), true
}

// Decode joins the pieces of ids, dropping control and unknown pieces.
func (t *SentencePieceTokenizer) Decode(ids []int64) string {
	var sb strings.Builder

	for _, id := range ids {
		if id < 0 || id >= int64(len(t.pieces)) || t.control[id] {
			continue
		}

		sb.WriteString(t.pieces[id])
	}

	return strings.TrimPrefix(strings.ReplaceAll(sb.String(), wordSep, " "), " ")
}

// Size returns the number of pieces in the vocabulary.
func (t *SentencePieceTokenizer) Size() int { return len(t.pieces) }
