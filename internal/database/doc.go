/*
Package database opens the relational store and manages its connection pool.

Open selects a gorm dialector by driver (postgres, mysql, sqlite) and wraps
the handle in a PoolManager, which applies pool limits, runs a background
ping, exposes pool statistics and offers transaction helpers with retry on
deadlocks and serialization failures. The SQL text index, the pgvector index
and the governance store all share the same PoolManager.
*/
package database
