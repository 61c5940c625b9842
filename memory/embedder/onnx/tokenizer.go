//go:build onnx

package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// wordPiece is a BERT-style lowercase WordPiece tokenizer loaded from a
// Hugging Face tokenizer.json.
type wordPiece struct {
	vocab map[string]int
	cls   int64
	sep   int64
	unk   int64
}

func loadWordPiece(path string) (*wordPiece, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(parsed.Model.Vocab) == 0 {
		return nil, fmt.Errorf("%s has no model.vocab", path)
	}

	t := &wordPiece{vocab: parsed.Model.Vocab}
	t.cls = t.special("[CLS]", 101)
	t.sep = t.special("[SEP]", 102)
	t.unk = t.special("[UNK]", 100)
	return t, nil
}

func (t *wordPiece) special(token string, fallback int64) int64 {
	if id, ok := t.vocab[token]; ok {
		return int64(id)
	}
	return fallback
}

// encode returns [CLS] tokens... [SEP], truncated to maxLen ids.
func (t *wordPiece) encode(text string, maxLen int) []int64 {
	ids := []int64{t.cls}
	for _, word := range splitWords(strings.ToLower(text)) {
		for _, id := range t.pieces(word) {
			if len(ids) == maxLen-1 {
				return append(ids, t.sep)
			}
			ids = append(ids, id)
		}
	}
	return append(ids, t.sep)
}

// pieces splits a word greedily into the longest vocabulary prefixes.
// A word with any unmatched remainder becomes a single [UNK].
func (t *wordPiece) pieces(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{int64(id)}
	}
	var out []int64
	for start := 0; start < len(word); {
		end := len(word)
		matched := false
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				out = append(out, int64(id))
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []int64{t.unk}
		}
	}
	return out
}

// splitWords splits on whitespace and makes every punctuation rune its own
// word, as BERT's basic tokenizer does.
func splitWords(text string) []string {
	var (
		words []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
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
