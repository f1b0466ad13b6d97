// Package sqlstore keeps task records and generated compositions in a SQL
// database. PostgreSQL is reached through the pgx stdlib driver and SQLite
// through modernc.org/sqlite; the schema is managed by embedded goose
// migrations that run unchanged on both.
package sqlstore
