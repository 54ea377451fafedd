/*
Package embedding provides the query embedding provider used by the vector
retriever.

OpenAIProvider talks to any OpenAI-compatible /v1/embeddings endpoint and
returns float32 vectors matching the corpus index. HTTP failures are
mapped to *types.Error codes (UNAUTHORIZED, RATE_LIMITED, UPSTREAM_ERROR,
UPSTREAM_TIMEOUT) so the retriever can log and degrade the channel.
NewFromConfig selects the provider from config.EmbeddingConfig.
*/
package embedding
