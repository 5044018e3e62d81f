// Package mysql opens the shared MySQL connection pool and applies the
// embedded schema migrations. The agent, trade and order packages build their
// stores on top of the *sql.DB returned by Open.
package mysql
