package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"google.golang.org/protobuf/proto"
)

type testPiece struct {
	text  string
	score float32
	kind  gosp.ModelProto_SentencePiece_Type
}

var testPieces = []testPiece{
	{"<unk>", 0, gosp.ModelProto_SentencePiece_UNKNOWN},
	{"<s>", 0, gosp.ModelProto_SentencePiece_CONTROL},
	{"</s>", 0, gosp.ModelProto_SentencePiece_CONTROL},
	{"<|TEXT_PROMPT_START|>", 0, gosp.ModelProto_SentencePiece_USER_DEFINED},
	{"<|TEXT_PROMPT_END|>", 0, gosp.ModelProto_SentencePiece_USER_DEFINED},
	{"<|SPEECH_GENERATION_START|>", 0, gosp.ModelProto_SentencePiece_USER_DEFINED},
	{"<|SPEECH_GENERATION_END|>", 0, gosp.ModelProto_SentencePiece_USER_DEFINED},
	{"<|speech_0|>", 0, gosp.ModelProto_SentencePiece_USER_DEFINED},
	{"<|speech_1|>", 0, gosp.ModelProto_SentencePiece_USER_DEFINED},
	{"<|speech_2|>", 0, gosp.ModelProto_SentencePiece_USER_DEFINED},
	{"▁hello", -1, gosp.ModelProto_SentencePiece_NORMAL},
	{"▁world", -1, gosp.ModelProto_SentencePiece_NORMAL},
	{"▁", -5, gosp.ModelProto_SentencePiece_NORMAL},
	{"h", -10, gosp.ModelProto_SentencePiece_NORMAL},
	{"e", -10, gosp.ModelProto_SentencePiece_NORMAL},
	{"l", -10, gosp.ModelProto_SentencePiece_NORMAL},
	{"o", -10, gosp.ModelProto_SentencePiece_NORMAL},
	{"w", -10, gosp.ModelProto_SentencePiece_NORMAL},
	{"r", -10, gosp.ModelProto_SentencePiece_NORMAL},
	{"d", -10, gosp.ModelProto_SentencePiece_NORMAL},
}

func testModelBytes(t *testing.T) []byte {
	t.Helper()

	model := &gosp.ModelProto{}
	for _, p := range testPieces {
		model.Pieces = append(model.Pieces, &gosp.ModelProto_SentencePiece{
			Piece: proto.String(p.text),
			Score: proto.Float32(p.score),
			Type:  p.kind.Enum(),
		})
	}

	data, err := proto.Marshal(model)
	if err != nil {
		t.Fatalf("marshal model: %v", err)
	}

	return data
}

func newTestTokenizer(t *testing.T) *SentencePieceTokenizer {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tokenizer.model")
	if err := os.WriteFile(path, testModelBytes(t), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	tok, err := NewSentencePieceTokenizer(path)
	if err != nil {
		t.Fatalf("NewSentencePieceTokenizer(%q): %v", path, err)
	}

	return tok
}

func idOf(t *testing.T, tok *SentencePieceTokenizer, piece string) int64 {
	t.Helper()

	id, ok := tok.ID(piece)
	if !ok {
		t.Fatalf("piece %q missing from vocabulary", piece)
	}

	return id
}

func TestNewSentencePieceTokenizer_MissingFile(t *testing.T) {
	_, err := NewSentencePieceTokenizer("/nonexistent/tokenizer.model")
	if err == nil {
		t.Fatal("expected error for missing model file")
	}
}

func TestNewSentencePieceTokenizer_EmptyPath(t *testing.T) {
	_, err := NewSentencePieceTokenizer("")
	if !errors.Is(err, ErrEmptyPath) {
		t.Errorf("expected ErrEmptyPath, got: %v", err)
	}
}

func TestNewSentencePieceTokenizerFromBytes(t *testing.T) {
	tok, err := NewSentencePieceTokenizerFromBytes(testModelBytes(t))
	if err != nil {
		t.Fatalf("NewSentencePieceTokenizerFromBytes: %v", err)
	}

	if tok.Size() != len(testPieces) {
		t.Errorf("Size() = %d; want %d", tok.Size(), len(testPieces))
	}

	if _, err := NewSentencePieceTokenizerFromBytes(nil); err == nil {
		t.Error("expected error for empty model bytes")
	}
}

func TestEncode_Empty(t *testing.T) {
	tok := newTestTokenizer(t)

	ids, err := tok.Encode("")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if len(ids) != 0 {
		t.Errorf("Encode(\"\") = %v; want empty", ids)
	}
}

func TestEncode_SpecialTokensAreSingleIDs(t *testing.T) {
	tok := newTestTokenizer(t)

	ids, err := tok.Encode("<|speech_1|><|speech_2|><|SPEECH_GENERATION_END|>")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []int64{
		idOf(t, tok, "<|speech_1|>"),
		idOf(t, tok, "<|speech_2|>"),
		idOf(t, tok, "<|SPEECH_GENERATION_END|>"),
	}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("Encode = %v; want %v", ids, want)
	}
}

func TestEncode_MixedTextAndSpecials(t *testing.T) {
	tok := newTestTokenizer(t)

	ids, err := tok.Encode("<|TEXT_PROMPT_START|>hello world<|TEXT_PROMPT_END|>")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if len(ids) < 3 {
		t.Fatalf("Encode returned %d ids; want at least 3", len(ids))
	}

	if ids[0] != idOf(t, tok, "<|TEXT_PROMPT_START|>") {
		t.Errorf("first id = %d; want TEXT_PROMPT_START", ids[0])
	}

	if ids[len(ids)-1] != idOf(t, tok, "<|TEXT_PROMPT_END|>") {
		t.Errorf("last id = %d; want TEXT_PROMPT_END", ids[len(ids)-1])
	}

	if got := tok.Decode(ids[1 : len(ids)-1]); got != "hello world" {
		t.Errorf("Decode(text ids) = %q; want %q", got, "hello world")
	}
}

func TestEncode_UnknownBracketTokenIsText(t *testing.T) {
	tok := newTestTokenizer(t)

	ids, err := tok.Encode("<|speech_99|>")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, id := range ids {
		if p, _ := tok.Piece(id); p == "<|speech_99|>" {
			t.Fatalf("unknown special token mapped to a single piece: %v", ids)
		}
	}
}

func TestPieceAndDecode(t *testing.T) {
	tok := newTestTokenizer(t)

	if p, ok := tok.Piece(idOf(t, tok, "<|speech_2|>")); !ok || p != "<|speech_2|>" {
		t.Errorf("Piece(speech_2) = %q, %v", p, ok)
	}

	if p, ok := tok.Piece(idOf(t, tok, "▁hello")); !ok || p != " hello" {
		t.Errorf("Piece(▁hello) = %q, %v; want \" hello\"", p, ok)
	}

	if _, ok := tok.Piece(-1); ok {
		t.Error("Piece(-1) reported ok")
	}

	if _, ok := tok.Piece(int64(tok.Size())); ok {
		t.Error("Piece(size) reported ok")
	}

	ids := []int64{
		idOf(t, tok, "<s>"),
		idOf(t, tok, "<|speech_0|>"),
		idOf(t, tok, "<|speech_1|>"),
		idOf(t, tok, "</s>"),
		999,
	}
	if got := tok.Decode(ids); got != "<|speech_0|><|speech_1|>" {
		t.Errorf("Decode = %q; want control pieces dropped", got)
	}
}
