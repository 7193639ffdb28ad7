package database

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKeysSortChronologically(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := messageKey(base, 99)
	sameMilliHigherID := messageKey(base, 100)
	later := messageKey(base.Add(time.Millisecond), 1)

	assert.Negative(t, bytes.Compare(earlier, sameMilliHigherID))
	assert.Negative(t, bytes.Compare(sameMilliHigherID, later))
	assert.True(t, bytes.HasPrefix(later, messagePrefix))
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(dir, DefaultLimits())
	require.NoError(t, err)
	first, err := s.Append(ctx, "alice", "one")
	require.NoError(t, err)
	second, err := s.Append(ctx, "bob", "two")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenBadger(dir, DefaultLimits())
	require.NoError(t, err)
	defer reopened.Close()

	recent, err := reopened.Recent(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, []ChatMessage{*first, *second}, recent)

	third, err := reopened.Append(ctx, "carol", "three")
	require.NoError(t, err)
	assert.False(t, third.CreatedAt.Before(second.CreatedAt))
}
