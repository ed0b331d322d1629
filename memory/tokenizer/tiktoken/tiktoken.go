// Package tiktoken implements memory.Tokenizer with tiktoken BPE
// encodings, used for the auto-branching token ceiling check.
package tiktoken

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding counts tokens the way recent chat models do.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts tokens with a tiktoken encoding.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a tokenizer for the given encoding name; "" uses
// DefaultEncoding.
func New(encodingName string) (*Tokenizer, error) {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encodingName, err)
	}
	return &Tokenizer{encoding: enc}, nil
}

// CountTokens returns the BPE token count for text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}
