package database

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect names a SQL flavour and the driver that speaks it.
type Dialect string

const (
	Postgres  Dialect = "postgres"
	Pgx       Dialect = "pgx"
	SQLite    Dialect = "sqlite"
	SQLServer Dialect = "sqlserver"
)

var identifierRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (d Dialect) Valid() bool {
	switch d {
	case Postgres, Pgx, SQLite, SQLServer:
		return true
	}

	return false
}

func (d Dialect) DriverName() string {
	return string(d)
}

func (d Dialect) GooseDialect() string {
	switch d {
	case Postgres, Pgx:
		return "postgres"
	case SQLite:
		return "sqlite3"
	case SQLServer:
		return "mssql"
	}

	return string(d)
}

// Placeholder is the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	switch d {
	case Postgres, Pgx:
		return fmt.Sprintf("$%d", n)
	case SQLServer:
		return fmt.Sprintf("@p%d", n)
	case SQLite:
		return "?"
	}

	return "?"
}

// Quote quotes an identifier. Callers validate names with ValidIdentifier
// first.
func (d Dialect) Quote(ident string) string {
	if d == SQLServer {
		return "[" + ident + "]"
	}

	return `"` + ident + `"`
}

// Table quotes a table name, qualified by schema when one is given.
func (d Dialect) Table(schema, name string) string {
	if schema == "" {
		return d.Quote(name)
	}

	return d.Quote(schema) + "." + d.Quote(name)
}

// TextCast casts an expression to text for case-insensitive matching.
func (d Dialect) TextCast(expr string) string {
	if d == SQLServer {
		return "CAST(" + expr + " AS NVARCHAR(MAX))"
	}

	return "CAST(" + expr + " AS TEXT)"
}

// Paginate renders the limit/offset clause. SQL Server needs an ORDER BY
// before OFFSET, so ordered tells it whether one was written.
func (d Dialect) Paginate(limit, offset int, ordered bool) string {
	if d == SQLServer {
		prefix := ""
		if !ordered {
			prefix = " ORDER BY (SELECT NULL)"
		}
		return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", prefix, offset, limit)
	}

	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

// ReturningSuffix is appended after a write statement on dialects that
// support RETURNING.
func (d Dialect) ReturningSuffix() string {
	if d == SQLServer {
		return ""
	}

	return " RETURNING *"
}

// OutputClause is placed before VALUES or WHERE on SQL Server.
func (d Dialect) OutputClause() string {
	if d == SQLServer {
		return " OUTPUT INSERTED.*"
	}

	return ""
}

// ValidIdentifier reports whether name can be used as a table or column
// name without quoting problems.
func ValidIdentifier(name string) bool {
	return identifierRx.MatchString(name)
}

// EscapeLike escapes the LIKE wildcards of a search term with a backslash.
func EscapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return r.Replace(term)
}
