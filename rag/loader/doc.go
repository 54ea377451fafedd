// Package loader is the corpus ingestion boundary. It reads curated corpus
// files into rag.CorpusItem records with embeddings already computed.
//
// Supported formats out of the box:
//   - JSON array or single object (.json)
//   - JSON Lines (.jsonl)
//   - CSV with a header row (.csv)
//
// Use LoaderRegistry to route loading by file extension:
//
//	registry := loader.NewLoaderRegistry()
//	items, err := registry.Load(ctx, "/data/corpus.jsonl")
//
// LoadCorpus is a shortcut over the default registry. It also accepts a
// directory of corpus shards and rejects duplicate ids across them.
package loader
