/*
Package governance keeps the retrieval corpus healthy by watching how it is
used. It consumes the search events published by rag.Engine and maintains
the accumulators behind the governance reports.

# Overview

Search events enter through Pipeline, a bounded queue that implements
rag.EventSink. Publish never blocks the query path: when the queue is full
the event is dropped and counted. One goroutine drains the queue into the
registered consumers.

# Components

  - CoverageMonitor classifies queries into topic buckets and tracks query
    volume and a rolling result quality per topic.
  - SourceAnalyzer tracks per-source access counts and recency, and flags
    high value and obsolete sources.
  - ObsolescenceDetector scans corpus content against an ordered rule set
    of deprecated idioms and outdated versions.
  - Dashboard consolidates the three reports into scored snapshots with
    alerts and priority actions, and exports them as JSON, Markdown or HTML.

# Persistence

Store persists snapshots and accumulator state. GormStore is the gorm
implementation backed by the tables created by internal/migration.
*/
package governance
