/*
Package metrics defines the Prometheus collectors of the search service.

Collector covers HTTP traffic, search outcomes and stage latency,
retriever failures, rerank fallbacks, cache hits and errors, governance
queue pressure and the latest dashboard scores. NewCollector registers
on the default registry; NewCollectorWithRegistry accepts any
prometheus.Registerer so tests can use an isolated registry.
*/
package metrics
