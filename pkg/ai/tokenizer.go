package ai

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer bounds text to a model's token budget.
type Tokenizer interface {
	// Truncate returns text cut to at most maxTokens tokens and whether
	// anything was removed.
	Truncate(text string, maxTokens int) (string, bool)
}

type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads a BPE encoding such as "cl100k_base".
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return text, false
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false
	}
	// A token boundary can fall inside a multibyte rune; drop the partial tail.
	return strings.ToValidUTF8(t.enc.Decode(tokens[:maxTokens]), ""), true
}
