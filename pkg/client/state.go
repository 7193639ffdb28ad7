package client

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// State manages client-side persistent state
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Client only needs one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	state := &State{
		db:  db,
		dir: dir,
	}
	if err := state.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return state, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func (s *State) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS Config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ReadState (
	server_address TEXT PRIMARY KEY,
	last_read_at INTEGER NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastUsername returns the last username joined with
func (s *State) GetLastUsername() string {
	username, _ := s.GetConfig("last_username")
	return username
}

// SetLastUsername stores the last username joined with
func (s *State) SetLastUsername(username string) error {
	return s.SetConfig("last_username", username)
}

// GetReadState returns when messages on a server were last read (zero if never)
func (s *State) GetReadState(serverAddress string) (time.Time, error) {
	var lastReadAt int64
	err := s.db.QueryRow(`
		SELECT last_read_at FROM ReadState WHERE server_address = ?
	`, serverAddress).Scan(&lastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(lastReadAt).UTC(), nil
}

// UpdateReadState records the newest message seen on a server
func (s *State) UpdateReadState(serverAddress string, lastReadAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO ReadState (server_address, last_read_at) VALUES (?, ?)
		ON CONFLICT(server_address) DO UPDATE SET last_read_at = MAX(last_read_at, excluded.last_read_at)
	`, serverAddress, lastReadAt.UnixMilli())
	return err
}

// GetFirstRun checks if this is the first time running the client
func (s *State) GetFirstRun() bool {
	val, _ := s.GetConfig("first_run_complete")
	ok, _ := strconv.ParseBool(val)
	return !ok
}

// SetFirstRunComplete marks first run as complete
func (s *State) SetFirstRunComplete() error {
	return s.SetConfig("first_run_complete", "true")
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}
