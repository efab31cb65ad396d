// Package sqlite stores uploaded images in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cory-johannsen/barlink/internal/chat/upload"
)

const defaultBusyTimeout = 5000

// Store wraps the SQLite handle holding the blobs table.
type Store struct {
	db         *sql.DB
	publicPath string
	newID      func() string
}

// NewStore opens the database at dbPath. Call Migrate before use and Close when done.
//
// Precondition: publicPath is the URL prefix blobs are served under.
// Postcondition: Returns a pinged Store, or a non-nil error.
func NewStore(dbPath, publicPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = "barlink.db"
	}
	db, err := sql.Open("sqlite", buildDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %q: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite %q: %w", dbPath, err)
	}
	return &Store{
		db:         db,
		publicPath: strings.TrimRight(publicPath, "/"),
		newID:      uuid.NewString,
	}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(p string) string {
	switch {
	case strings.HasPrefix(p, "sqlite://"):
		p = p[len("sqlite://"):]
	case strings.HasPrefix(p, "file:"), strings.HasPrefix(p, ":memory:"):
	default:
		p = "file:" + p
	}
	separator := "?"
	if strings.Contains(p, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=journal_mode=WAL", p, separator, defaultBusyTimeout)
}

// Migrate creates the blobs table.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS blobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		return fmt.Errorf("migrating blobs table: %w", err)
	}
	return nil
}

// Put inserts b under a fresh id.
//
// Postcondition: Returns "<publicPath>/<id>".
func (s *Store) Put(ctx context.Context, b upload.Blob) (string, error) {
	id := s.newID()
	data := b.Data
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs(id, name, content_type, data, created_at) VALUES(?, ?, ?, ?, ?)`,
		id, b.Name, b.ContentType, data, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting blob %q: %w", b.Name, err)
	}
	return path.Join(s.publicPath, id), nil
}

// Open returns the blob stored under id.
//
// Postcondition: Returns an error wrapping upload.ErrBlobNotFound when id is unknown.
func (s *Store) Open(ctx context.Context, id string) (upload.Blob, error) {
	var b upload.Blob
	err := s.db.QueryRowContext(ctx,
		`SELECT name, content_type, data FROM blobs WHERE id = ?`, id,
	).Scan(&b.Name, &b.ContentType, &b.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return upload.Blob{}, fmt.Errorf("blob %q: %w", id, upload.ErrBlobNotFound)
	}
	if err != nil {
		return upload.Blob{}, fmt.Errorf("reading blob %q: %w", id, err)
	}
	return b, nil
}

// Count returns the number of stored blobs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting blobs: %w", err)
	}
	return n, nil
}
