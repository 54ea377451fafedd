/*
# Overview

Package rag implements hybrid retrieval: a raw query string becomes a
ranked, access-filtered and explained result set.

The Engine drives one request through
Received → Processed → Retrieved → AccessFiltered → Reranked → Cached/Returned.
Vector and text retrieval run concurrently, each under its own timeout.
Restricted corpus items are removed before merging unless the query carries
the authorization token. A failing channel, judge or cache degrades the
response and never fails it; only validation errors reach the caller.

# Core types

  - Corpus / MemoryCorpus: read-only view of ingested CorpusItem records
  - QueryProcessor: normalization, token detection, keywords, intent
  - AccessController: restricted-item gating with one AccessDecision per query
  - VectorIndex / TextIndex: index provider boundaries
  - VectorRetriever / TextRetriever: retrieval channels
  - Merger: weighted, deterministic union of both channels
  - Reranker: judgment-based re-scoring with an order-preserving fallback
  - SearchCache: MemoryCache (sharded) and RedisSearchCache
  - Engine: orchestration, stats and SearchEvent publishing

# Index providers

  - Vector: MemoryVectorIndex (cosine), QdrantIndex (REST), PGVectorIndex (pgvector)
  - Text: MemoryTextIndex (BM25), SQLTextIndex (portable LIKE scan)

Factory functions map config.Config onto these components.
*/
package rag
