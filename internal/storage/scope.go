package storage

import (
	"context"
	"database/sql"
	"sync"
)

// Querier is the subset of database/sql shared by *sql.DB, *sql.Conn,
// *sql.Tx and *Scope. Stores depend on it rather than on a pool.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Scope holds at most one connection for the lifetime of a request. The
// connection is taken from the pool on first use and returned by Release.
type Scope struct {
	db *sql.DB

	mu   sync.Mutex
	conn *sql.Conn
}

func NewScope(db *sql.DB) *Scope {
	return &Scope{db: db}
}

func (s *Scope) acquire(ctx context.Context) (*sql.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

// Acquired reports whether a connection has been taken from the pool.
func (s *Scope) Acquired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Scope) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

func (s *Scope) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

// QueryRowContext falls back to the pool when no connection can be acquired,
// so the acquisition error surfaces from Row.Scan.
func (s *Scope) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	conn, err := s.acquire(ctx)
	if err != nil {
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return conn.QueryRowContext(ctx, query, args...)
}

// Release returns the connection to the pool. It is safe to call more than
// once and on a scope that never acquired anything.
func (s *Scope) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
