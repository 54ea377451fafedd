package tokenizer

import (
	"errors"
	"unicode/utf8"
)

// EstimatorTokenizer approximates token counts from character classes.
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer creates the estimator.
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

// CountTokens assumes ~4 chars/token for Latin text and ~1.5 for CJK.
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}

	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

// Encode is unsupported; Truncate falls back to a rune cut.
func (e *EstimatorTokenizer) Encode(string) ([]int, error) {
	return nil, errors.New("estimator tokenizer does not support encode")
}

func (e *EstimatorTokenizer) Decode([]int) (string, error) {
	return "", errors.New("estimator tokenizer does not support decode")
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}
