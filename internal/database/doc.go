// Package database provides PostgreSQL connection pools for the optional
// postgres store backend.
package database
