// Package savedjobs persists the job ids a visitor bookmarked.
// Each visitor owns a single key holding a JSON array of ids, read on load
// and rewritten on every toggle. The sqlite database is opened lazily; if
// opening it fails the store falls back to memory.
package savedjobs

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/muhtesem-assistant/internal/logger"
)

// Key is the storage key of the saved-jobs array.
const Key = "muhtesem_saved_jobs"

// Store keeps saved job ids per visitor.
type Store struct {
	path string

	once    sync.Once
	db      *sql.DB
	initErr error

	mu  sync.Mutex
	mem map[string]string // owner -> serialized ids, used when sqlite is unavailable
}

// New returns a store backed by the sqlite file at path.
func New(path string) *Store {
	return &Store{path: path, mem: make(map[string]string)}
}

func (s *Store) init() {
	db, err := sql.Open("sqlite", "file:"+s.path+"?_busy_timeout=10000")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory saved jobs", "error", err)
		return
	}
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
        owner TEXT NOT NULL,
        key TEXT NOT NULL,
        value TEXT NOT NULL,
        updated_at DATETIME,
        PRIMARY KEY (owner, key)
    );`); err != nil {
		s.initErr = err
		db.Close()
		logger.L.Warn("sqlite table creation failed; using in-memory saved jobs", "error", err)
		return
	}
	s.db = db
	logger.L.Info("sqlite saved-jobs store initialized", "path", s.path)
}

func (s *Store) usable() bool {
	s.once.Do(s.init)
	return s.initErr == nil && s.db != nil
}

// Load returns the ids saved by owner, in the order they were saved.
// A corrupt stored value is logged and treated as empty.
func (s *Store) Load(ctx context.Context, owner string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, owner)
}

// Toggle adds jobID to owner's saved set, or removes it if present. It
// returns whether the job is saved afterwards and the full list.
func (s *Store) Toggle(ctx context.Context, owner, jobID string) (bool, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.load(ctx, owner)
	if err != nil {
		return false, nil, err
	}

	saved := true
	if i := slices.Index(ids, jobID); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
		saved = false
	} else {
		ids = append(ids, jobID)
	}

	if err := s.store(ctx, owner, ids); err != nil {
		return false, nil, err
	}
	return saved, ids, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) load(ctx context.Context, owner string) ([]string, error) {
	var raw string
	if s.usable() {
		err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE owner = ? AND key = ?;`, owner, Key).Scan(&raw)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	} else {
		raw = s.mem[owner]
	}
	if raw == "" {
		return []string{}, nil
	}

	var ids []string
	if err := sonic.UnmarshalString(raw, &ids); err != nil {
		logger.L.Error("failed to parse saved jobs", "owner", owner, "error", err)
		return []string{}, nil
	}
	return ids, nil
}

func (s *Store) store(ctx context.Context, owner string, ids []string) error {
	raw, err := sonic.MarshalString(ids)
	if err != nil {
		return err
	}
	if !s.usable() {
		s.mem[owner] = raw
		return nil
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO kv (owner, key, value, updated_at) VALUES (?,?,?,?)
        ON CONFLICT(owner, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
		owner, Key, raw, time.Now().UTC())
	return err
}
