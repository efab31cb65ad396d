// Package postgres stores uploaded images in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/barlink/internal/chat/upload"
	"github.com/cory-johannsen/barlink/internal/config"
)

// Store is a blob store over a pgx connection pool. The blobs table is created
// by the embedded migrations.
type Store struct {
	pool       *pgxpool.Pool
	publicPath string
}

// Connect creates a connection pool from cfg and returns a Store using it.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a Store whose pool has answered a ping, or a non-nil error.
func Connect(ctx context.Context, cfg config.DatabaseConfig, publicPath string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewStore(pool, publicPath), nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool, publicPath string) *Store {
	return &Store{pool: pool, publicPath: strings.TrimRight(publicPath, "/")}
}

// Health checks that the database answers within timeout.
//
// Precondition: The store must not be closed.
func (s *Store) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases all pool resources.
func (s *Store) Close() {
	s.pool.Close()
}

// DB returns the underlying pool.
func (s *Store) DB() *pgxpool.Pool {
	return s.pool
}

// Put inserts b under a fresh UUID.
//
// Postcondition: Returns "<publicPath>/<uuid>".
func (s *Store) Put(ctx context.Context, b upload.Blob) (string, error) {
	id := uuid.New()
	data := b.Data
	if data == nil {
		data = []byte{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blobs (id, name, content_type, data) VALUES ($1, $2, $3, $4)`,
		id, b.Name, b.ContentType, data,
	)
	if err != nil {
		return "", fmt.Errorf("inserting blob %q: %w", b.Name, err)
	}
	return path.Join(s.publicPath, id.String()), nil
}

// Open returns the blob stored under name, which must be the UUID returned by Put.
//
// Postcondition: Returns an error wrapping upload.ErrBlobNotFound for unknown or malformed names.
func (s *Store) Open(ctx context.Context, name string) (upload.Blob, error) {
	id, err := uuid.Parse(name)
	if err != nil {
		return upload.Blob{}, fmt.Errorf("blob %q: %w", name, upload.ErrBlobNotFound)
	}
	var b upload.Blob
	err = s.pool.QueryRow(ctx,
		`SELECT name, content_type, data FROM blobs WHERE id = $1`, id,
	).Scan(&b.Name, &b.ContentType, &b.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return upload.Blob{}, fmt.Errorf("blob %q: %w", name, upload.ErrBlobNotFound)
	}
	if err != nil {
		return upload.Blob{}, fmt.Errorf("reading blob %q: %w", name, err)
	}
	return b, nil
}

// Count returns the number of stored blobs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM blobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting blobs: %w", err)
	}
	return n, nil
}
