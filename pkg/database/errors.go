package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
)

const (
	pgUniqueViolation        = "23505"
	mssqlUniqueConstraint    = 2627
	mssqlUniqueIndex         = 2601
	sqliteUniqueViolationMsg = "UNIQUE constraint failed"
)

// IsUniqueViolation reports whether err is a unique key violation from any
// of the supported drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == mssqlUniqueConstraint || msErr.Number == mssqlUniqueIndex
	}

	return strings.Contains(err.Error(), sqliteUniqueViolationMsg)
}
