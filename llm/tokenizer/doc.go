// Package tokenizer counts and truncates candidate text before it is sent to
// a judgment provider. tiktoken is used when its encodings can be loaded,
// otherwise a character-class estimator.
package tokenizer
