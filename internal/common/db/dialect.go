package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Dialect hides the placeholder and id-generation differences between drivers.
// Queries are always written with '?' placeholders.
type Dialect interface {
	Driver() string
	Rebind(query string) string
	// InsertID runs an INSERT and returns the generated id of column "id".
	InsertID(ctx context.Context, q Querier, query string, args ...interface{}) (int64, error)
}

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMySQL:
		return mysqlDialect{}, nil
	case DriverPostgres, "postgresql", "pq":
		return postgresDialect{}, nil
	case DriverSQLite, "sqlite3", "":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Driver() string { return DriverMySQL }

func (mysqlDialect) Rebind(query string) string { return query }

func (mysqlDialect) InsertID(ctx context.Context, q Querier, query string, args ...interface{}) (int64, error) {
	res, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type sqliteDialect struct{}

func (sqliteDialect) Driver() string { return DriverSQLite }

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) InsertID(ctx context.Context, q Querier, query string, args ...interface{}) (int64, error) {
	return returningID(ctx, q, query, args...)
}

type postgresDialect struct{}

func (postgresDialect) Driver() string { return DriverPostgres }

// Rebind rewrites '?' placeholders to $1..$n, leaving quoted literals alone.
func (postgresDialect) Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (postgresDialect) InsertID(ctx context.Context, q Querier, query string, args ...interface{}) (int64, error) {
	return returningID(ctx, q, query, args...)
}

func returningID(ctx context.Context, q Querier, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, strings.TrimRight(query, " \n\t;")+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert returning id failed: %w", err)
	}
	return id, nil
}
