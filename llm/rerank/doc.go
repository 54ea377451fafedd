/*
Package rerank provides the judgment providers behind the search reranker.

A Judge scores each candidate against the query in [0,1] with a short
rationale. ChatJudge prompts an OpenAI-compatible chat model for a JSON
answer; CohereJudge calls the Cohere rerank API. Candidate text is
truncated with llm/tokenizer before it leaves the process. Every failure
is a JUDGMENT_UNAVAILABLE *types.Error, which the reranker turns into a
fallback to the merged order.
*/
package rerank
