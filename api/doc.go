// Package api holds the wire types of the SearchFlow HTTP API.
//
// # API Overview
//
// SearchFlow exposes:
//   - Hybrid search over the curated corpus (POST /api/v1/search)
//   - Engine counters (GET /api/v1/search/stats)
//   - Governance dashboard, coverage, source and obsolescence reports
//   - Report export as JSON, Markdown or HTML
//   - Health, readiness and version probes
//
// # Authentication
//
// When API keys are configured, requests carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// Governance admin routes (scan and export) additionally require a bearer
// JWT when one is configured.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
