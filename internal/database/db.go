package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB is a connection pool that remembers which dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Rebind is shorthand for db.Dialect.Rebind.
func (db *DB) Rebind(query string) string { return db.Dialect.Rebind(query) }

// DSN builds a connection string from discrete settings. For SQLite, name is
// the database file path.
func DSN(d Dialect, user, pass, host, port, name string) string {
	switch d {
	case Postgres:
		u := url.URL{
			Scheme:   "postgres",
			Host:     host + ":" + port,
			Path:     "/" + name,
			RawQuery: "sslmode=disable",
		}
		if pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
		return u.String()
	case SQLite:
		return name + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	default:
		auth := user
		if pass != "" {
			auth = fmt.Sprintf("%s:%s", user, pass)
		}
		// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
		return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
			auth, host, port, name)
	}
}

// Open connects with the dialect's driver and verifies the connection.
func Open(d Dialect, dsn string) (*DB, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	if d == SQLite {
		// one writer; the file lock would otherwise surface as SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db, Dialect: d}, nil
}
