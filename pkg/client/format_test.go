package client

import (
	"testing"
	"time"

	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", FormatBytes(512))
	assert.Equal(t, "1.0KB", FormatBytes(1024))
	assert.Equal(t, "1.5MB", FormatBytes(1536*1024))
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "just now", formatRelativeTimeAt(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", formatRelativeTimeAt(now.Add(-5*time.Minute), now))
	assert.Equal(t, "2h ago", formatRelativeTimeAt(now.Add(-2*time.Hour), now))
	assert.Equal(t, "3d ago", formatRelativeTimeAt(now.Add(-72*time.Hour), now))
}

func TestFormatTimestampKeepsGarbage(t *testing.T) {
	assert.Equal(t, "not-a-time", FormatTimestamp("not-a-time", "absolute"))
	assert.NotEmpty(t, FormatTimestamp(protocol.FormatTimestamp(time.Now()), "absolute"))
	assert.Equal(t, "just now", FormatTimestamp(protocol.FormatTimestamp(time.Now()), "relative"))
}

func TestMentions(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"hey @alice", true},
		{"@Alice: look", true},
		{"(@alice)", true},
		{"alice without at", false},
		{"@alice_2 is someone else", false},
		{"mail me at bob@alice", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Mentions(tt.body, "alice"), tt.body)
	}
	assert.False(t, Mentions("@", ""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hel…", Truncate("hello", 4))
	assert.Equal(t, "a b", Truncate("a\nb", 0))
	assert.Equal(t, "ü…", Truncate("üüü", 2))
}

func TestLinesFromHistory(t *testing.T) {
	ts := protocol.FormatTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 123e6, time.UTC))
	lines := LinesFromHistory([]protocol.HistoryEntry{{Username: "a", Message: "m", Timestamp: ts}})

	assert.Len(t, lines, 1)
	assert.Equal(t, int64(1704067200123), lines[0].CreatedAt.UnixMilli())
	assert.Empty(t, LinesFromHistory(nil))
}
