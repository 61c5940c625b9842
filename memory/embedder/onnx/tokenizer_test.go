//go:build onnx

package onnx

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTokenizer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	data := `{"model":{"vocab":{
		"[PAD]":0,"[UNK]":100,"[CLS]":101,"[SEP]":102,
		"fix":10,"the":11,"login":12,"bug":13,"!":14,"log":15,"##in":16,"##s":17
	}}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWordPiece_Encode(t *testing.T) {
	tok, err := loadWordPiece(writeTokenizer(t))
	if err != nil {
		t.Fatalf("loadWordPiece: %v", err)
	}

	tests := []struct {
		text   string
		maxLen int
		want   []int64
	}{
		{"Fix the login bug!", 16, []int64{101, 10, 11, 12, 13, 14, 102}},
		{"logins", 16, []int64{101, 12, 17, 102}},
		{"logs", 16, []int64{101, 15, 17, 102}},
		{"zzz", 16, []int64{101, 100, 102}},
		{"fix the login bug", 4, []int64{101, 10, 11, 102}},
		{"", 16, []int64{101, 102}},
	}
	for _, tt := range tests {
		if got := tok.encode(tt.text, tt.maxLen); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("encode(%q, %d) = %v, want %v", tt.text, tt.maxLen, got, tt.want)
		}
	}
}

func TestLoadWordPiece_EmptyVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := os.WriteFile(path, []byte(`{"model":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadWordPiece(path); err == nil {
		t.Fatal("expected error for empty vocab")
	}
}
