package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"

	sqlite3 "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// open builds the connection pool for cfg. Both drivers begin transactions
// with BEGIN IMMEDIATE so read-modify-write transactions never fail on lock
// upgrade.
func open(cfg Config) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverMattn:
		db = sql.OpenDB(hookConnector{
			dsn:    cfg.DatabasePath + "?_txlock=immediate",
			driver: &sqlite3.SQLiteDriver{ConnectHook: pragmaHook(cfg.pragmas())},
		})
	default:
		db, err = sql.Open(DriverModernc, moderncDSN(cfg))
		if err != nil {
			return nil, err
		}
	}

	if cfg.inMemory() {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return db, nil
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(cfg.poolRecycle())
	return db, nil
}

// moderncDSN encodes the PRAGMAs as _pragma parameters, which the driver
// applies to every new connection.
func moderncDSN(cfg Config) string {
	q := url.Values{}
	for _, p := range cfg.pragmas() {
		q.Add("_pragma", fmt.Sprintf("%s(%s)", p.name, p.value))
	}
	q.Set("_txlock", "immediate")
	return cfg.DatabasePath + "?" + q.Encode()
}

// pragmaHook applies the PRAGMAs when the cgo driver opens a connection.
func pragmaHook(pragmas []pragma) func(*sqlite3.SQLiteConn) error {
	return func(conn *sqlite3.SQLiteConn) error {
		// The non-cgo build of the driver has no Exec method.
		var c any = conn
		exec, ok := c.(driver.ExecerContext)
		if !ok {
			return errors.New("sqlite3 connection does not support exec")
		}
		for _, p := range pragmas {
			stmt := fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)
			if _, err := exec.ExecContext(context.Background(), stmt, nil); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		return nil
	}
}

// hookConnector opens connections through a driver instance carrying a
// ConnectHook, without registering it globally.
type hookConnector struct {
	dsn    string
	driver driver.Driver
}

func (c hookConnector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c hookConnector) Driver() driver.Driver {
	return c.driver
}
