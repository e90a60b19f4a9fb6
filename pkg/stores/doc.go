// Package stores keeps the generation history in SQLite: one row per
// template run with its final state, exit code, diagnostic counts and
// duration. The schema is created by embedded migrations.
package stores
