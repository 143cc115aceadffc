package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

const defaultPoolSize = 5

// Pool is a fixed-size set of live connections to one store file.
// Every connection is initialized with write-ahead logging and
// foreign-key enforcement before it is handed out. Take blocks until
// a connection is free; the pool never grows past its size.
type Pool struct {
	db   *sql.DB
	size int
}

func dsn(path string) string {
	// Pragmas in the DSN run on every new connection before it joins
	// the free set.
	return "file:" + url.PathEscape(path) +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(10000)"
}

// NewPool opens size connections to the file at path and verifies
// each one before returning.
func NewPool(ctx context.Context, path string, size int) (*Pool, error) {
	if size <= 0 {
		size = defaultPoolSize
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	// Warm the whole pool up front so pragma or file errors surface
	// at open time, not on first use.
	conns := make([]*sql.Conn, 0, size)
	for i := 0; i < size; i++ {
		conn, err := db.Conn(ctx)
		if err == nil {
			err = conn.PingContext(ctx)
		}
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			db.Close()
			return nil, fmt.Errorf("initializing connection %d/%d: %w", i+1, size, err)
		}
		conns = append(conns, conn)
	}
	for _, c := range conns {
		c.Close()
	}

	return &Pool{db: db, size: size}, nil
}

// Take checks a connection out of the pool, blocking until one is
// free or ctx is done. The caller must Close the returned connection
// to put it back; Close never closes the underlying connection.
func (p *Pool) Take(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// Checkout failed without a cancelled context: the pool has
		// been disposed under us.
		return nil, fmt.Errorf("%w: %v", ErrPoolClosed, err)
	}
	return conn, nil
}

// Size returns the fixed number of pooled connections.
func (p *Pool) Size() int {
	return p.size
}

// Dispose closes every underlying connection. Callers blocked in
// Take fail fast with ErrPoolClosed rather than hanging.
func (p *Pool) Dispose() error {
	return p.db.Close()
}
