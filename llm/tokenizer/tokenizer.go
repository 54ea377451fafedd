package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Tokenizer counts and encodes tokens for a model family.
type Tokenizer interface {
	CountTokens(text string) (int, error)
	Encode(text string) ([]int, error)
	Decode(tokens []int) (string, error)
	Name() string
}

// ForModel returns a tokenizer that uses tiktoken for model and switches to
// the estimator when the BPE ranks cannot be loaded (offline hosts). The
// encoding is resolved on first use.
func ForModel(model string) Tokenizer {
	return &fallbackTokenizer{primary: NewTiktokenTokenizer(model), fallback: NewEstimatorTokenizer()}
}

type fallbackTokenizer struct {
	primary  *TiktokenTokenizer
	fallback *EstimatorTokenizer
}

func (f *fallbackTokenizer) active() Tokenizer {
	if f.primary.init() != nil {
		return f.fallback
	}
	return f.primary
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) { return f.active().CountTokens(text) }
func (f *fallbackTokenizer) Encode(text string) ([]int, error)    { return f.active().Encode(text) }
func (f *fallbackTokenizer) Decode(tokens []int) (string, error)  { return f.active().Decode(tokens) }
func (f *fallbackTokenizer) Name() string                         { return f.active().Name() }

// Truncate cuts text to at most maxTokens tokens. Non-positive maxTokens
// leaves text unchanged. A trailing ellipsis marks truncated text.
func Truncate(t Tokenizer, text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}
	n, err := t.CountTokens(text)
	if err == nil && n <= maxTokens {
		return text
	}

	if tokens, err := t.Encode(text); err == nil && len(tokens) > maxTokens {
		if out, err := t.Decode(tokens[:maxTokens]); err == nil {
			return strings.TrimRightFunc(out, isSpaceOrBroken) + "…"
		}
	}

	// Decode unsupported: cut by the estimator ratio on a rune boundary.
	limit := maxTokens * 4
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimRightFunc(string(runes[:limit]), isSpaceOrBroken) + "…"
}

func isSpaceOrBroken(r rune) bool {
	return r == utf8.RuneError || r == ' ' || r == '\n' || r == '\t'
}
