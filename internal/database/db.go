// Package database opens the MySQL connection pool used by the
// booking and show repositories.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Params describes how to reach the database.
type Params struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

// Open connects to MySQL and verifies the connection before
// returning the pool.  parseTime maps DATETIME columns onto
// time.Time and loc=UTC keeps every timestamp comparison in UTC,
// which the lock-expiry and reaper queries rely on.
func Open(p Params) (*sql.DB, error) {
	auth := p.User
	if p.Pass != "" {
		auth = fmt.Sprintf("%s:%s", p.User, p.Pass)
	}
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, p.Host, p.Port, p.Name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(30)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
