//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable indicates the backing store could not be reached or failed.
	ErrStoreUnavailable = errors.New("message store unavailable")
	// ErrInvalidRetention indicates a negative retention window was requested.
	ErrInvalidRetention = errors.New("retention days must not be negative")
)

// ChatMessage is a persisted chat message. Values are immutable once stored.
type ChatMessage struct {
	ID        int64
	Username  string
	Body      string
	CreatedAt time.Time // UTC, millisecond precision
}

// Stats summarizes the stored history
type Stats struct {
	TotalMessages   int64
	UniqueUsernames int64
	MostRecent      *time.Time // nil when the store is empty
}

// Store is the persistence capability used by the server.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append validates and durably stores a message, assigning its timestamp.
	Append(ctx context.Context, username, body string) (*ChatMessage, error)
	// Recent returns at most limit of the newest messages, oldest first.
	Recent(ctx context.Context, limit int) ([]ChatMessage, error)
	Stats(ctx context.Context) (Stats, error)
	// Prune deletes messages older than the given number of days.
	Prune(ctx context.Context, olderThanDays int) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Reason identifies which rule a value broke
type Reason int

const (
	ReasonInvalidUsername Reason = iota + 1
	ReasonUsernameTooLong
	ReasonEmptyMessage
	ReasonMessageTooLong
)

func (r Reason) String() string {
	switch r {
	case ReasonInvalidUsername:
		return "invalid username"
	case ReasonUsernameTooLong:
		return "username too long"
	case ReasonEmptyMessage:
		return "empty message"
	case ReasonMessageTooLong:
		return "message too long"
	default:
		return "unknown"
	}
}

// ValidationError describes a rejected username or message body
type ValidationError struct {
	Field  string
	Reason Reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for any ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
