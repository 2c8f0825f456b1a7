package repository

import "github.com/jmoiron/sqlx"

// Queryer is the subset of sqlx satisfied by both *sqlx.DB and *sqlx.Tx,
// letting repository methods participate in a caller-owned transaction.
type Queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}
