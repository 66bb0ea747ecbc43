// Package store persists assembled chunks in a SQLite database, keyed by
// name. Chunks are stored as their CBOR image together with a SHA-256
// digest that is checked on load.
package store

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/clox/pkg/bytecode"
)

// ErrChunkNotFound indicates the requested chunk doesn't exist.
var ErrChunkNotFound = errors.New("chunk not found")

// ErrHashMismatch indicates a stored image no longer matches its digest.
var ErrHashMismatch = errors.New("chunk image hash mismatch")

var log = commonlog.GetLogger("clox.store")

// Entry describes a stored chunk.
type Entry struct {
	Name      string
	ID        uuid.UUID
	Hash      string // hex SHA-256 of the image
	Size      int    // image size in bytes
	CreatedAt time.Time
}

// Store handles SQLite storage for chunks.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path. Missing parent directories
// are created.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		name       TEXT PRIMARY KEY,
		id         TEXT NOT NULL,
		hash       TEXT NOT NULL,
		image      BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened chunk store %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores c under name, replacing any chunk already saved there.
func (s *Store) Save(name string, c *bytecode.Chunk) (Entry, error) {
	if name == "" {
		return Entry{}, errors.New("saving chunk: empty name")
	}
	image, err := c.MarshalImage()
	if err != nil {
		return Entry{}, fmt.Errorf("saving chunk %q: %w", name, err)
	}

	sum := sha256.Sum256(image)
	entry := Entry{
		Name:      name,
		ID:        uuid.New(),
		Hash:      hex.EncodeToString(sum[:]),
		Size:      len(image),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO chunks (name, id, hash, image, created_at) VALUES (?, ?, ?, ?, ?)",
		entry.Name, entry.ID.String(), entry.Hash, image, entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("saving chunk %q: %w", name, err)
	}

	log.Infof("saved chunk %q (%d bytes, %s)", name, entry.Size, entry.Hash[:12])
	return entry, nil
}

// Load retrieves and decodes the chunk saved under name.
func (s *Store) Load(name string) (*bytecode.Chunk, error) {
	var hash string
	var image []byte
	err := s.db.QueryRow("SELECT hash, image FROM chunks WHERE name = ?", name).Scan(&hash, &image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrChunkNotFound, name)
		}
		return nil, fmt.Errorf("querying chunk %q: %w", name, err)
	}

	want, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("chunk %q: %w", name, ErrHashMismatch)
	}
	sum := sha256.Sum256(image)
	if !bytes.Equal(sum[:], want) {
		return nil, fmt.Errorf("chunk %q: %w", name, ErrHashMismatch)
	}

	c, err := bytecode.UnmarshalImage(image)
	if err != nil {
		return nil, fmt.Errorf("chunk %q: %w", name, err)
	}
	log.Debugf("loaded chunk %q", name)
	return c, nil
}

// Get returns the entry for name without decoding the chunk.
func (s *Store) Get(name string) (Entry, error) {
	row := s.db.QueryRow(
		"SELECT name, id, hash, length(image), created_at FROM chunks WHERE name = ?", name)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("%w: %q", ErrChunkNotFound, name)
		}
		return Entry{}, fmt.Errorf("querying chunk %q: %w", name, err)
	}
	return e, nil
}

// List returns all entries ordered by name.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(
		"SELECT name, id, hash, length(image), created_at FROM chunks ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("listing chunks: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	return entries, nil
}

// Delete removes the chunk saved under name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM chunks WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting chunk %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting chunk %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrChunkNotFound, name)
	}
	log.Infof("deleted chunk %q", name)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e       Entry
		id      string
		created int64
	)
	if err := row.Scan(&e.Name, &id, &e.Hash, &e.Size, &created); err != nil {
		return Entry{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, fmt.Errorf("bad id for %q: %w", e.Name, err)
	}
	e.ID = parsed
	e.CreatedAt = time.Unix(0, created).UTC()
	return e, nil
}
