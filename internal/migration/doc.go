/*
Package migration manages the SQL schema behind the corpus text index,
the pgvector embeddings table and the governance store.

SQL files for postgres, mysql and sqlite are embedded with embed.FS and
applied through golang-migrate. DefaultMigrator exposes Up, Down, Steps,
Goto, Force, Version, Status and Info; CLI renders them for the
"searchflow migrate" subcommand. NewMigratorFromConfig builds a migrator
from the database section of the service configuration.
*/
package migration
