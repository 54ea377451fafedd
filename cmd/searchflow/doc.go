// Command searchflow runs the hybrid search service and its tooling.
//
// The serve subcommand loads the corpus, builds the vector and keyword
// indexes, wires the search engine and the governance service and exposes
// them over HTTP with Prometheus metrics on a separate port. The scan and
// report subcommands produce governance reports offline or from a running
// server, and migrate manages the database schema.
package main
