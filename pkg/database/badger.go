package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

var messagePrefix = []byte("msg:")

// BadgerStore keeps messages in BadgerDB under time-ordered keys
type BadgerStore struct {
	db        *badger.DB
	stamps    *stamper
	validator *Validator
}

var _ Store = (*BadgerStore)(nil)

type badgerRecord struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"` // Unix milliseconds
}

// messageKey sorts lexicographically by creation time, then id
func messageKey(createdAt time.Time, id int64) []byte {
	return fmt.Appendf(nil, "msg:%019d:%019d", createdAt.UnixMilli(), id)
}

// OpenBadger opens a Badger store in dir. An empty dir keeps everything in memory.
func OpenBadger(dir string, limits Limits) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithSyncWrites(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s := &BadgerStore{
		db:        db,
		stamps:    newStamper(),
		validator: NewValidator(limits),
	}

	latest, err := s.newest(1)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read latest message: %w", err)
	}
	if len(latest) > 0 {
		s.stamps.seed(latest[0].CreatedAt)
	}
	return s, nil
}

func (s *BadgerStore) checkOpen(op string) error {
	if s.db.IsClosed() {
		return unavailable(op, errors.New("badger is closed"))
	}
	return nil
}

// Append validates, timestamps and stores a message
func (s *BadgerStore) Append(ctx context.Context, username, body string) (*ChatMessage, error) {
	if err := s.validator.Username(username); err != nil {
		return nil, err
	}
	body, err := s.validator.Body(body)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen("append"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable("append", err)
	}

	id, createdAt := s.stamps.next()
	data, err := json.Marshal(badgerRecord{
		ID:        id,
		Username:  username,
		Body:      body,
		CreatedAt: createdAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal failed: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(createdAt, id), data)
	})
	if err != nil {
		return nil, unavailable("append", err)
	}

	return &ChatMessage{ID: id, Username: username, Body: body, CreatedAt: createdAt}, nil
}

// newest returns up to limit messages, newest first
func (s *BadgerStore) newest(limit int) ([]ChatMessage, error) {
	var messages []ChatMessage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = messagePrefix
		opts.PrefetchSize = limit
		it := txn.NewIterator(opts)
		defer it.Close()

		// 0xff sorts after every digit, so seeking here lands on the newest key
		for it.Seek([]byte("msg:\xff")); it.ValidForPrefix(messagePrefix) && len(messages) < limit; it.Next() {
			msg, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	return messages, err
}

// Recent returns up to limit of the newest messages in chronological order
func (s *BadgerStore) Recent(ctx context.Context, limit int) ([]ChatMessage, error) {
	if err := s.checkOpen("recent"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []ChatMessage{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable("recent", err)
	}

	messages, err := s.newest(limit)
	if err != nil {
		return nil, unavailable("recent", err)
	}
	if messages == nil {
		return []ChatMessage{}, nil
	}
	return lo.Reverse(messages), nil
}

// Stats walks every key once
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.checkOpen("stats"); err != nil {
		return Stats{}, err
	}

	var (
		stats     Stats
		usernames = map[string]struct{}{}
		latest    time.Time
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = messagePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(messagePrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			msg, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			stats.TotalMessages++
			usernames[msg.Username] = struct{}{}
			latest = msg.CreatedAt
		}
		return nil
	})
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}

	stats.UniqueUsernames = int64(len(usernames))
	if stats.TotalMessages > 0 {
		stats.MostRecent = &latest
	}
	return stats, nil
}

// Prune deletes every key older than the cutoff in one write batch
func (s *BadgerStore) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, ErrInvalidRetention
	}
	if err := s.checkOpen("prune"); err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	bound := fmt.Appendf(nil, "msg:%019d:", cutoff.UnixMilli())

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = messagePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(messagePrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if bytes.Compare(key, bound) >= 0 {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("prune", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, unavailable("prune", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			wb.Cancel()
			return 0, unavailable("prune", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, unavailable("prune", err)
	}
	return int64(len(keys)), nil
}

// Ping reports whether the store is still open
func (s *BadgerStore) Ping(ctx context.Context) error {
	return s.checkOpen("ping")
}

// Close is safe to call more than once
func (s *BadgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

func decodeItem(item *badger.Item) (ChatMessage, error) {
	var rec badgerRecord
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{
		ID:        rec.ID,
		Username:  rec.Username,
		Body:      rec.Body,
		CreatedAt: time.UnixMilli(rec.CreatedAt).UTC(),
	}, nil
}
