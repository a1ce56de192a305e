package embedding

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

const maxWordPieceChars = 100

// WordPieceTokenizer implements BERT uncased tokenization against a
// HuggingFace tokenizer.json vocabulary.
type WordPieceTokenizer struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	unk   int64
}

// LoadWordPieceTokenizer reads model.vocab from a tokenizer.json file.
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var parsed struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(parsed.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return NewWordPieceTokenizer(parsed.Model.Vocab), nil
}

// NewWordPieceTokenizer builds a tokenizer from a token->id map.
func NewWordPieceTokenizer(vocab map[string]int64) *WordPieceTokenizer {
	lookup := func(tok string, fallback int64) int64 {
		if id, ok := vocab[tok]; ok {
			return id
		}
		return fallback
	}
	return &WordPieceTokenizer{
		vocab: vocab,
		cls:   lookup("[CLS]", 101),
		sep:   lookup("[SEP]", 102),
		unk:   lookup("[UNK]", 100),
	}
}

// Encode returns [CLS] tokens... [SEP], truncated to maxLen ids.
func (t *WordPieceTokenizer) Encode(text string, maxLen int) []int64 {
	ids := []int64{t.cls}
	for _, word := range basicTokenize(text) {
		ids = append(ids, t.wordPiece(word)...)
	}
	if maxLen > 1 && len(ids) > maxLen-1 {
		ids = ids[:maxLen-1]
	}
	return append(ids, t.sep)
}

func (t *WordPieceTokenizer) wordPiece(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordPieceChars {
		return []int64{t.unk}
	}

	var pieces []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := int64(-1)
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			// BERT maps the whole word to [UNK] if any piece is missing.
			return []int64{t.unk}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

// basicTokenize lowercases, splits on whitespace and isolates punctuation.
func basicTokenize(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
