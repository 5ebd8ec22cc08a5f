package workspace

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	dserrors "dartas/internal/errors"
)

// State is the persisted mirror of what the server was told.
type State struct {
	Roots         []string
	PriorityFiles []string
	UpdatedAt     time.Time
}

// Store persists workspace state between invocations.
type Store interface {
	Load() (State, error)
	Save(State) error
	Close() error
}

// MemoryStore keeps state in memory only.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored state.
func (m *MemoryStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Roots:         append([]string(nil), m.state.Roots...),
		PriorityFiles: append([]string(nil), m.state.PriorityFiles...),
		UpdatedAt:     m.state.UpdatedAt,
	}, nil
}

// Save replaces the stored state.
func (m *MemoryStore) Save(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{
		Roots:         append([]string(nil), s.Roots...),
		PriorityFiles: append([]string(nil), s.PriorityFiles...),
		UpdatedAt:     s.UpdatedAt,
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// DBFile is the store's file name inside the state directory.
const DBFile = "workspace.db"

// SQLiteStore persists state in <stateDir>/workspace.db.
type SQLiteStore struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
}

// OpenSQLiteStore opens or creates the workspace database in stateDir.
func OpenSQLiteStore(stateDir string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, dserrors.New(dserrors.StoreFailed, "failed to create state directory", err)
	}

	dbPath := filepath.Join(stateDir, DBFile)
	dbExists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, dserrors.New(dserrors.StoreFailed, "failed to open workspace database", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, dserrors.New(dserrors.StoreFailed, "failed to set pragma", err)
		}
	}

	store := &SQLiteStore{
		conn:   conn,
		logger: logger,
		dbPath: dbPath,
	}

	if !dbExists {
		logger.Info("Creating workspace database", "path", dbPath)
	}
	if err := store.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, dserrors.New(dserrors.StoreFailed, "failed to initialize workspace schema", err)
	}

	return store, nil
}

func (s *SQLiteStore) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS roots (
			position INTEGER NOT NULL,
			path TEXT PRIMARY KEY
		);
		CREATE TABLE IF NOT EXISTS priority_files (
			position INTEGER NOT NULL,
			path TEXT PRIMARY KEY
		);
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Load reads the stored state. An empty database yields an empty state.
func (s *SQLiteStore) Load() (State, error) {
	var state State

	roots, err := s.loadPaths("SELECT path FROM roots ORDER BY position")
	if err != nil {
		return State{}, dserrors.New(dserrors.StoreFailed, "failed to load roots", err)
	}
	files, err := s.loadPaths("SELECT path FROM priority_files ORDER BY position")
	if err != nil {
		return State{}, dserrors.New(dserrors.StoreFailed, "failed to load priority files", err)
	}
	state.Roots = roots
	state.PriorityFiles = files

	var updated string
	err = s.conn.QueryRow("SELECT value FROM meta WHERE key = 'updated_at'").Scan(&updated)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return State{}, dserrors.New(dserrors.StoreFailed, "failed to load metadata", err)
	default:
		if t, perr := time.Parse(time.RFC3339, updated); perr == nil {
			state.UpdatedAt = t
		}
	}

	return state, nil
}

func (s *SQLiteStore) loadPaths(query string) ([]string, error) {
	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Save replaces the stored state in one transaction.
func (s *SQLiteStore) Save(state State) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return dserrors.New(dserrors.StoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := replacePaths(tx, "roots", state.Roots); err != nil {
		return dserrors.New(dserrors.StoreFailed, "failed to save roots", err)
	}
	if err := replacePaths(tx, "priority_files", state.PriorityFiles); err != nil {
		return dserrors.New(dserrors.StoreFailed, "failed to save priority files", err)
	}

	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('updated_at', ?)",
		updated.UTC().Format(time.RFC3339)); err != nil {
		return dserrors.New(dserrors.StoreFailed, "failed to save metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return dserrors.New(dserrors.StoreFailed, "failed to commit workspace state", err)
	}
	return nil
}

func replacePaths(tx *sql.Tx, table string, paths []string) error {
	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return err
	}
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (position, path) VALUES (?, ?)", table))
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i, p := range paths {
		if _, err := stmt.Exec(i, p); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
