// Package server wraps net/http with a start, wait and graceful shutdown
// lifecycle shared by the API listener and the metrics listener.
package server
