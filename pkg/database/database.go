package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed message store
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
	stamps    *stamper
	validator *Validator
	closed    atomic.Bool
}

var _ Store = (*DB)(nil)

// pragmas applied to every connection. The write connection uses FULL
// synchronous mode so an acknowledged append survives a power loss.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

func openConn(path string, synchronous string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, p := range append(pragmas, "PRAGMA synchronous = "+synchronous) {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return conn, nil
}

// Open opens (creating if needed) the SQLite database at path and migrates it
func Open(path string, limits Limits) (*DB, error) {
	existed := false
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		existed = true
	}

	conn, err := openConn(path, "NORMAL")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	writeConn, err := openConn(path, "FULL")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := migrate(ctx, writeConn, path, existed); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
		stamps:    newStamper(),
		validator: NewValidator(limits),
	}

	// Never hand out a timestamp older than what is already on disk
	var latest sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT MAX(created_at) FROM Message").Scan(&latest); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read latest message time: %w", err)
	}
	if latest.Valid {
		db.stamps.seed(time.UnixMilli(latest.Int64))
	}

	return db, nil
}

// Close closes both connections. Later calls return ErrStoreUnavailable.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	werr := db.writeConn.Close()
	rerr := db.conn.Close()
	return errors.Join(werr, rerr)
}

func (db *DB) checkOpen(op string) error {
	if db.closed.Load() {
		return unavailable(op, errors.New("database is closed"))
	}
	return nil
}

// Append validates, timestamps and stores a message
func (db *DB) Append(ctx context.Context, username, body string) (*ChatMessage, error) {
	if err := db.validator.Username(username); err != nil {
		return nil, err
	}
	body, err := db.validator.Body(body)
	if err != nil {
		return nil, err
	}
	if err := db.checkOpen("append"); err != nil {
		return nil, err
	}

	start := time.Now()
	id, createdAt := db.stamps.next()
	_, err = db.writeConn.ExecContext(ctx,
		"INSERT INTO Message (id, username, body, created_at) VALUES (?, ?, ?, ?)",
		id, username, body, createdAt.UnixMilli(),
	)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		log.Printf("DB: slow append took %v", elapsed)
	}
	if err != nil {
		return nil, unavailable("append", err)
	}

	return &ChatMessage{
		ID:        id,
		Username:  username,
		Body:      body,
		CreatedAt: createdAt,
	}, nil
}

// Recent returns up to limit of the newest messages in chronological order
func (db *DB) Recent(ctx context.Context, limit int) ([]ChatMessage, error) {
	if err := db.checkOpen("recent"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []ChatMessage{}, nil
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, username, body, created_at FROM (
			SELECT id, username, body, created_at
			FROM Message
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`, limit)
	if err != nil {
		return nil, unavailable("recent", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, unavailable("recent", err)
	}
	return messages, nil
}

// Stats reports totals over the whole history
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	if err := db.checkOpen("stats"); err != nil {
		return Stats{}, err
	}

	var (
		stats  Stats
		latest sql.NullInt64
	)
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT username), MAX(created_at) FROM Message",
	).Scan(&stats.TotalMessages, &stats.UniqueUsernames, &latest)
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	if latest.Valid {
		t := time.UnixMilli(latest.Int64).UTC()
		stats.MostRecent = &t
	}
	return stats, nil
}

// Prune deletes messages created more than olderThanDays days ago
func (db *DB) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, ErrInvalidRetention
	}
	if err := db.checkOpen("prune"); err != nil {
		return 0, err
	}

	start := time.Now()
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour).UnixMilli()
	result, err := db.writeConn.ExecContext(ctx, "DELETE FROM Message WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, unavailable("prune", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("prune", err)
	}
	log.Printf("DB: pruned %d message(s) older than %d day(s) in %v", deleted, olderThanDays, time.Since(start))
	return deleted, nil
}

// Ping checks that the database answers queries
func (db *DB) Ping(ctx context.Context) error {
	if err := db.checkOpen("ping"); err != nil {
		return err
	}
	var one int
	if err := db.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]ChatMessage, error) {
	messages := []ChatMessage{}
	for rows.Next() {
		var (
			msg       ChatMessage
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.Username, &msg.Body, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
