/*
Package types holds the shared type contracts of searchflow.

It is the lowest-level package and imports no other package of the module,
so rag, governance, api and cmd can all depend on it without cycles.

# Errors

Error / ErrorCode form a structured error taxonomy carrying an HTTP status,
a Retryable flag and an optional provider name. Two classes exist:

  - Validation (EMPTY_QUERY, INVALID_REQUEST): surfaced to the caller.
  - Degraded modes (RETRIEVER_UNAVAILABLE, JUDGMENT_UNAVAILABLE,
    CACHE_UNAVAILABLE, GOVERNANCE_SINK_FULL): recovered locally, logged
    and counted.

# Context

WithTraceID / WithUserID / WithRoles propagate request identity set by the
HTTP middleware.
*/
package types
