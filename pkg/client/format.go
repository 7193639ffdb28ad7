// Formatting helpers shared by the terminal client and the load generator
package client

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aeolun/wschat/pkg/protocol"
)

// FormatBytes formats bytes into human-readable form (B, KB, MB, etc.)
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatRelativeTime formats a timestamp relative to now
// Returns strings like "just now", "5m ago", "2h ago", "3d ago"
func FormatRelativeTime(t time.Time) string {
	return formatRelativeTimeAt(t, time.Now())
}

func formatRelativeTimeAt(t, now time.Time) string {
	diff := now.Sub(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}

// FormatTimestamp renders a wire timestamp in the given format ("relative" or "absolute").
// Unparseable timestamps are returned unchanged.
func FormatTimestamp(wire, format string) string {
	t, err := protocol.ParseTimestamp(wire)
	if err != nil {
		return wire
	}
	if format == "relative" {
		return FormatRelativeTime(t)
	}
	return t.Local().Format("15:04")
}

// Line is one rendered chat line
type Line struct {
	Username  string
	Message   string
	Timestamp string
	CreatedAt time.Time
}

// LineFromEvent converts a broadcast message event
func LineFromEvent(ev *protocol.ServerEvent) Line {
	t, _ := protocol.ParseTimestamp(ev.Timestamp)
	return Line{Username: ev.Username, Message: ev.Message, Timestamp: ev.Timestamp, CreatedAt: t}
}

// LinesFromHistory converts a history event
func LinesFromHistory(entries []protocol.HistoryEntry) []Line {
	lines := make([]Line, 0, len(entries))
	for _, e := range entries {
		t, _ := protocol.ParseTimestamp(e.Timestamp)
		lines = append(lines, Line{Username: e.Username, Message: e.Message, Timestamp: e.Timestamp, CreatedAt: t})
	}
	return lines
}

// Mentions reports whether body mentions username as @username (case-insensitive)
func Mentions(body, username string) bool {
	if username == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)(^|[^A-Za-z0-9_-])@` + regexp.QuoteMeta(username) + `($|[^A-Za-z0-9_-])`)
	return re.MatchString(body)
}

// Truncate shortens s to at most max runes, adding an ellipsis
func Truncate(s string, max int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if max <= 0 || len(r) <= max {
		return string(r)
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
