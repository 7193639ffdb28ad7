package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Event types carried in the "type" field of every envelope
const (
	TypeJoin    = "join"
	TypeMessage = "message"
	TypeHistory = "history"
	TypeError   = "error"
)

// WebSocket close codes used by the server
const (
	CloseNormalClosure   = 1000
	ClosePolicyViolation = 1008
)

// Error strings sent to clients in ERROR events
const (
	ErrMsgInvalidMessageType = "Invalid message type"
	ErrMsgMessageTooLong     = "Message exceeds maximum length"
	ErrMsgEmptyMessage       = "Message cannot be empty"
	ErrMsgInvalidUsername    = "Invalid username"
	ErrMsgUsernameTooLong    = "Username exceeds maximum length"
	ErrMsgDatabaseError      = "Database operation failed"
	ErrMsgInternalError      = "Internal server error"
	ErrMsgAuthRequired       = "Authentication required"
	ErrMsgAuthTimeout        = "Authentication timeout"
	ErrMsgServerShutdown     = "Server shutdown"
)

// TimestampLayout is the wire format for timestamps (UTC, millisecond precision)
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMissingType       = errors.New("envelope has no type")
)

// Inbound is a client-to-server envelope.
// Username is only meaningful for join, Message only for message.
type Inbound struct {
	Type     string  `json:"type"`
	Username *string `json:"username,omitempty"`
	Message  *string `json:"message,omitempty"`
}

// JoinMessage is the first event a client must send
type JoinMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// ChatMessage is sent by an authenticated client to post a message
type ChatMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// HistoryEntry is one persisted message as seen by clients
type HistoryEntry struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// HistoryMessage is sent once per connection right after a successful join
type HistoryMessage struct {
	Type     string         `json:"type"`
	Messages []HistoryEntry `json:"messages"`
}

// BroadcastMessage is fanned out to every connected client for each accepted message
type BroadcastMessage struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ErrorMessage reports a problem to a single client
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ServerEvent is the union of everything a server may send, used by clients
// to decode without knowing the type up front.
type ServerEvent struct {
	Type      string         `json:"type"`
	Username  string         `json:"username,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Messages  []HistoryEntry `json:"messages,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// DecodeInbound parses a raw client frame. A frame that is not a JSON object
// with a non-empty string "type" is rejected.
func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.Join(ErrMalformedEnvelope, err)
	}
	if strings.TrimSpace(in.Type) == "" {
		return nil, ErrMissingType
	}
	return &in, nil
}

// DecodeServerEvent parses a raw server frame
func DecodeServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, errors.Join(ErrMalformedEnvelope, err)
	}
	if ev.Type == "" {
		return nil, ErrMissingType
	}
	return &ev, nil
}

// NewHistory builds a HISTORY event. The messages array is never null on the wire.
func NewHistory(entries []HistoryEntry) *HistoryMessage {
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return &HistoryMessage{Type: TypeHistory, Messages: entries}
}

// NewBroadcast builds a MESSAGE event for fan-out
func NewBroadcast(username, body string, createdAt time.Time) *BroadcastMessage {
	return &BroadcastMessage{
		Type:      TypeMessage,
		Username:  username,
		Message:   body,
		Timestamp: FormatTimestamp(createdAt),
	}
}

// NewError builds an ERROR event
func NewError(message string) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, Error: message}
}

// NewJoin builds a JOIN event
func NewJoin(username string) *JoinMessage {
	return &JoinMessage{Type: TypeJoin, Username: username}
}

// NewChat builds a MESSAGE event as sent by a client
func NewChat(body string) *ChatMessage {
	return &ChatMessage{Type: TypeMessage, Message: body}
}

// FormatTimestamp renders t in the wire format
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a wire timestamp
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// Encode marshals any outbound event
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
