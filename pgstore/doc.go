// Package pgstore implements the stepauth enrollment store on PostgreSQL
// via database/sql and the pgx stdlib driver. Row-level locking keeps
// activation and backup-code consumption serialized per identity.
package pgstore
