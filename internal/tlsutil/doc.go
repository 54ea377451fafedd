// Package tlsutil holds the hardened TLS settings (TLS 1.2+, AEAD-only
// suites) and the shared outbound transport used by the embedding, judgment
// and Qdrant clients. The Redis connection reuses DefaultTLSConfig.
package tlsutil
