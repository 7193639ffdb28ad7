package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is returned when writing to a transport that has been closed
var ErrTransportClosed = errors.New("transport closed")

// Transport is the write side of one client connection
type Transport interface {
	// Send writes one text frame
	Send(data []byte) error
	// Ping writes a ping control frame
	Ping() error
	// Close sends a close frame with code and reason, then closes the connection
	Close(code int, reason string) error
	// Terminate closes the connection without a close handshake
	Terminate() error
	IsOpen() bool
	RemoteAddr() string
}

// wsTransport wraps a gorilla connection with automatic write synchronization
// (gorilla allows one concurrent writer per connection)
type wsTransport struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	closed       atomic.Bool
	writeTimeout time.Duration
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (t *wsTransport) Send(data []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping uses WriteControl, which gorilla allows concurrently with other writes
func (t *wsTransport) Ping() error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) Close(code int, reason string) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	// best effort: the peer may already be gone
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeTimeout))
	return t.conn.Close()
}

func (t *wsTransport) Terminate() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

func (t *wsTransport) IsOpen() bool {
	return !t.closed.Load()
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
