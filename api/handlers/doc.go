/*
Package handlers implements the SearchFlow HTTP endpoints.

# Core types

  - SearchHandler      serves hybrid search and engine statistics
  - GovernanceHandler  serves the dashboard, sub-reports, export and scans
  - HealthHandler      serves /health, /healthz, /ready and /version
  - Response           is the common envelope (success, data, error, timestamp)
  - ErrorInfo          carries the error code, message and retryable flag
  - HealthCheck        is a readiness probe; optional ones only degrade

# Conventions

Every JSON endpoint answers with a Response envelope, except the governance
export which streams the raw document in the requested format. Error codes
from the types package map onto HTTP statuses; validation failures are 400.
Request bodies are limited to 1 MB and unknown fields are rejected.
*/
package handlers
