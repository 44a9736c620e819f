package recall

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text the way the embedding and chat models do.
type TokenCounter interface {
	Count(text string) int
}

// Tokenizer counts tokens with the cl100k_base encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

var _ TokenCounter = (*Tokenizer)(nil)

// NewTokenizer loads the cl100k_base encoding.
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load cl100k_base: %w", err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// ApproxTokenCounter estimates tokens as len(text)/4, the same heuristic the
// chunker uses for its character budget. Useful where loading the real
// encoding is not worth it.
type ApproxTokenCounter struct{}

var _ TokenCounter = ApproxTokenCounter{}

func (ApproxTokenCounter) Count(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		return 1
	}
	return n
}
