// Package database bootstraps and shares a single database connection pool.
//
// A Client resolves its connection settings from an explicit Config or from
// the DATABASE_URL environment variable, opens one pool on first use, wraps
// it in a Bun facade, and hands the same instance to every caller. It also
// carries versioned migrations, foreign key management, SQL data seeding,
// health checks, and query logging for the pool it owns.
package database
