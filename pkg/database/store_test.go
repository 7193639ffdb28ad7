package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends opens a fresh instance of every Store implementation
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := Open(filepath.Join(t.TempDir(), "chat.db"), DefaultLimits())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mem, err := OpenBadger("", DefaultLimits())
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"badger": mem,
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, s)
		})
	}
}

func TestAppendAssignsTimestampAndTrims(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		before := time.Now().Add(-time.Second)

		msg, err := s.Append(ctx, "alice", "  hello world \n")
		require.NoError(t, err)
		assert.Equal(t, "alice", msg.Username)
		assert.Equal(t, "hello world", msg.Body)
		assert.NotZero(t, msg.ID)
		assert.True(t, msg.CreatedAt.After(before))
		assert.Equal(t, time.UTC, msg.CreatedAt.Location())
		assert.Zero(t, msg.CreatedAt.Nanosecond()%int(time.Millisecond))

		recent, err := s.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, *msg, recent[0])
	})
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		username string
		body     string
		reason   Reason
	}{
		{"empty username", "", "hi", ReasonInvalidUsername},
		{"username with space", "bad name", "hi", ReasonInvalidUsername},
		{"username padded", " alice", "hi", ReasonInvalidUsername},
		{"username too long", "abcdefghijklmnopqrstu", "hi", ReasonUsernameTooLong},
		{"blank body", "alice", "   ", ReasonEmptyMessage},
		{"body too long", "alice", strings.Repeat("a", 501), ReasonMessageTooLong},
	}

	forEachStore(t, func(t *testing.T, s Store) {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.Append(context.Background(), tt.username, tt.body)
				require.ErrorIs(t, err, ErrValidation)

				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tt.reason, verr.Reason)
			})
		}

		recent, err := s.Recent(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})
}

func TestRecentReturnsNewestInChronologicalOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 60; i++ {
			_, err := s.Append(ctx, "alice", fmt.Sprintf("m%d", i))
			require.NoError(t, err)
		}

		recent, err := s.Recent(ctx, 50)
		require.NoError(t, err)
		require.Len(t, recent, 50)
		assert.Equal(t, "m11", recent[0].Body)
		assert.Equal(t, "m60", recent[49].Body)

		for i := 1; i < len(recent); i++ {
			prev, cur := recent[i-1], recent[i]
			assert.False(t, cur.CreatedAt.Before(prev.CreatedAt), "timestamps must not decrease")
			if cur.CreatedAt.Equal(prev.CreatedAt) {
				assert.Greater(t, cur.ID, prev.ID)
			}
		}
	})
}

func TestRecentLimits(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		empty, err := s.Recent(ctx, 50)
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)

		_, err = s.Append(ctx, "alice", "one")
		require.NoError(t, err)

		none, err := s.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, none)

		neg, err := s.Recent(ctx, -5)
		require.NoError(t, err)
		assert.Empty(t, neg)
	})
}

func TestStats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalMessages)
		assert.Nil(t, stats.MostRecent)

		_, err = s.Append(ctx, "alice", "one")
		require.NoError(t, err)
		_, err = s.Append(ctx, "bob", "two")
		require.NoError(t, err)
		last, err := s.Append(ctx, "alice", "three")
		require.NoError(t, err)

		stats, err = s.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, stats.TotalMessages)
		assert.EqualValues(t, 2, stats.UniqueUsernames)
		require.NotNil(t, stats.MostRecent)
		assert.True(t, last.CreatedAt.Equal(*stats.MostRecent))
	})
}

func TestPrune(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Append(ctx, "alice", "fresh")
		require.NoError(t, err)

		deleted, err := s.Prune(ctx, 30)
		require.NoError(t, err)
		assert.Zero(t, deleted)

		_, err = s.Prune(ctx, -1)
		assert.ErrorIs(t, err, ErrInvalidRetention)

		// Everything strictly older than a moment from now goes
		time.Sleep(5 * time.Millisecond)
		deleted, err = s.Prune(ctx, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, deleted)

		recent, err := s.Recent(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})
}

func TestConcurrentAppends(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const writers, perWriter = 8, 25

		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					_, err := s.Append(ctx, fmt.Sprintf("user%d", w), fmt.Sprintf("msg %d", i))
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, writers*perWriter, stats.TotalMessages)

		recent, err := s.Recent(ctx, writers*perWriter)
		require.NoError(t, err)
		seen := map[int64]bool{}
		for i, m := range recent {
			assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
			seen[m.ID] = true
			if i > 0 {
				assert.False(t, m.CreatedAt.Before(recent[i-1].CreatedAt))
			}
		}
	})
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Ping(ctx))
		require.NoError(t, s.Close())

		_, err := s.Append(ctx, "alice", "hi")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		_, err = s.Recent(ctx, 10)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		_, err = s.Stats(ctx)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		_, err = s.Prune(ctx, 1)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.ErrorIs(t, s.Ping(ctx), ErrStoreUnavailable)

		// validation still wins over availability
		_, err = s.Append(ctx, "", "hi")
		assert.ErrorIs(t, err, ErrValidation)

		assert.NoError(t, s.Close())
	})
}
