// Package sqlitepool wraps a zombiezen sqlitex pool with the pragmas the
// telemetry store relies on.
package sqlitepool

import (
	"context"
	"fmt"
	"log"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const defaultPoolSize = 4

// Config holds the parameters for opening a pool.
type Config struct {
	// Path is the database file. Its directory must exist. A "sqlite://"
	// or "sqlite:///" prefix is accepted.
	Path string
	// PoolSize defaults to 4.
	PoolSize int
	Logger   *log.Logger
}

// Pool is a fixed-size pool of SQLite connections. Connections are not
// safe for concurrent use; Take one per goroutine and Put it back.
type Pool struct {
	inner  *sqlitex.Pool
	logger *log.Logger
	path   string
}

// Open creates the pool. Connections are initialized lazily on first Take.
func Open(cfg Config) (*Pool, error) {
	path := ResolvePath(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlitepool: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", path, err)
	}
	logger.Printf("sqlite pool opened: path=%s size=%d", path, size)
	return &Pool{inner: inner, logger: logger, path: path}, nil
}

// ResolvePath strips sqlite URL prefixes from a path.
func ResolvePath(value string) string {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sqlite:///"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(value, "sqlite://"); ok {
		return rest
	}
	return value
}

// Take borrows a connection, blocking until one is free or ctx is done.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection. Nil is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	if conn == nil {
		return
	}
	p.inner.Put(conn)
}

// Close waits for borrowed connections and closes the pool.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Printf("sqlite pool close error: path=%s err=%v", p.path, err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	return nil
}

// Ping takes and returns a connection to prove the file is usable.
func (p *Pool) Ping(ctx context.Context) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

// CountRows counts rows of a table. The name must be a plain identifier.
func (p *Pool) CountRows(ctx context.Context, table string) (int64, error) {
	if !isIdentifier(table) {
		return 0, fmt.Errorf("sqlitepool: invalid table %q", table)
	}
	conn, err := p.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer p.Put(conn)

	var count int64
	err = sqlitex.ExecuteTransient(conn, "SELECT COUNT(*) FROM "+table, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	return count, err
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return nil
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
