package client

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/gorilla/websocket"
)

// ConnectionStateType represents the connection status
type ConnectionStateType int

const (
	StateTypeConnected ConnectionStateType = iota
	StateTypeDisconnected
	StateTypeReconnecting
)

func (s ConnectionStateType) String() string {
	switch s {
	case StateTypeConnected:
		return "connected"
	case StateTypeDisconnected:
		return "disconnected"
	case StateTypeReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionStateUpdate represents a connection state change
type ConnectionStateUpdate struct {
	State   ConnectionStateType
	Attempt int
	Err     error
}

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("connection closed")
	// ErrRejected means the server closed the connection with a policy violation
	ErrRejected = errors.New("rejected by server")
)

const (
	defaultPort = "8080"
	defaultPath = "/ws"
)

// Connection represents a client connection to the chat server
type Connection struct {
	addr   string // display form
	url    string
	dialer *websocket.Dialer

	mu           sync.RWMutex
	conn         *websocket.Conn
	connected    bool
	reconnecting bool
	username     string // re-sent after every reconnect once set
	writeMu      sync.Mutex

	// Channels for communication
	incoming    chan *protocol.ServerEvent
	errors      chan error
	stateChange chan ConnectionStateUpdate

	// Auto-reconnect settings
	autoReconnect     bool
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	// Traffic counters (payload bytes)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	logger *log.Logger

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConnection creates a new client connection. addr may be "host",
// "host:port", or a full ws:// or wss:// URL.
func NewConnection(addr string) (*Connection, error) {
	u, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}

	return &Connection{
		addr: u.Host,
		url:  u.String(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		incoming:          make(chan *protocol.ServerEvent, 100),
		errors:            make(chan error, 10),
		stateChange:       make(chan ConnectionStateUpdate, 10),
		autoReconnect:     true,
		reconnectDelay:    1 * time.Second,
		maxReconnectDelay: 30 * time.Second,
		shutdown:          make(chan struct{}),
	}, nil
}

// SetLogger sets a logger for debugging connection events
func (c *Connection) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// DisableAutoReconnect disables automatic reconnection on connection loss
func (c *Connection) DisableAutoReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoReconnect = false
}

// SetReconnectDelay sets the initial and maximum reconnect backoff
func (c *Connection) SetReconnectDelay(initial, max time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectDelay = initial
	c.maxReconnectDelay = max
}

func (c *Connection) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Connect dials the server and starts the read loop. If a username has been
// joined before, the join is sent again.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	select {
	case <-c.shutdown:
		return ErrClosed
	default:
	}

	c.logf("Connecting to %s...", c.url)

	conn, resp, err := c.dialer.Dial(c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logf("Connection failed: %v", err)
		if errors.Is(err, websocket.ErrBadHandshake) {
			if strings.HasPrefix(c.url, "wss://") {
				return fmt.Errorf("TLS handshake failed - server may not support WSS (try ws:// instead): %w", err)
			}
			return fmt.Errorf("handshake failed - server may require WSS/TLS (try wss:// instead): %w", err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	select {
	case <-c.shutdown:
		// Close ran while dialing
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	default:
	}
	c.conn = conn
	c.connected = true
	username := c.username
	c.mu.Unlock()

	c.logf("Connected successfully to %s", c.addr)

	c.wg.Add(1)
	go c.readLoop(conn)

	if username != "" {
		if err := c.write(protocol.NewJoin(username)); err != nil {
			return fmt.Errorf("failed to rejoin: %w", err)
		}
	}
	return nil
}

// Join sends the join handshake and remembers the username for reconnects
func (c *Connection) Join(username string) error {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()

	return c.write(protocol.NewJoin(username))
}

// Send posts a chat message
func (c *Connection) Send(body string) error {
	return c.write(protocol.NewChat(body))
}

func (c *Connection) write(v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logf("Write error: %v", err)
		return fmt.Errorf("write error: %w", err)
	}
	c.bytesSent.Add(uint64(len(data)))
	c.logf("→ SEND: %s", data)
	return nil
}

// Disconnect closes the current connection with a normal closure
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.logf("Disconnecting from %s", c.addr)
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// Close shuts down the connection permanently
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.shutdown)
		c.Disconnect()
		c.wg.Wait()
		close(c.incoming)
		close(c.errors)
		close(c.stateChange)
	})
}

// Incoming returns the channel for receiving events from the server
func (c *Connection) Incoming() <-chan *protocol.ServerEvent {
	return c.incoming
}

// Errors returns the channel for connection errors
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// StateChanges returns the channel for connection state updates
func (c *Connection) StateChanges() <-chan ConnectionStateUpdate {
	return c.stateChange
}

// IsConnected returns whether the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// GetAddress returns the server address
func (c *Connection) GetAddress() string {
	return c.addr
}

// GetBytesSent returns the total payload bytes sent
func (c *Connection) GetBytesSent() uint64 {
	return c.bytesSent.Load()
}

// GetBytesReceived returns the total payload bytes received
func (c *Connection) GetBytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// readLoop reads events from one websocket connection
func (c *Connection) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.bytesReceived.Add(uint64(len(data)))
		c.logf("← RECV: %s", data)

		event, err := protocol.DecodeServerEvent(data)
		if err != nil {
			c.logf("Decode error: %v", err)
			c.reportError(fmt.Errorf("decode error: %w", err))
			continue
		}

		select {
		case c.incoming <- event:
		case <-c.shutdown:
			return
		}
	}
}

func (c *Connection) reportError(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

func (c *Connection) reportState(update ConnectionStateUpdate) {
	select {
	case c.stateChange <- update:
	default:
	}
}

// handleDisconnect handles the end of conn's read loop
func (c *Connection) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	current := c.conn == conn && c.connected
	if current {
		c.connected = false
		c.conn = nil
	}
	autoReconnect := c.autoReconnect
	c.mu.Unlock()
	_ = conn.Close()

	if !current {
		// Disconnect or Close already ran
		return
	}

	select {
	case <-c.shutdown:
		return
	default:
	}

	disconnectErr := fmt.Errorf("disconnected from server: %w", cause)
	var ce *websocket.CloseError
	if errors.As(cause, &ce) && ce.Code == websocket.ClosePolicyViolation {
		disconnectErr = fmt.Errorf("%w: %s", ErrRejected, ce.Text)
		autoReconnect = false
	}
	c.logf("Disconnected: %v", disconnectErr)

	c.reportError(disconnectErr)
	c.reportState(ConnectionStateUpdate{State: StateTypeDisconnected, Err: disconnectErr})

	if autoReconnect {
		c.logf("Auto-reconnect enabled, starting reconnect loop")
		c.wg.Add(1)
		go c.reconnectLoop()
	}
}

// reconnectLoop attempts to reconnect with exponential backoff
func (c *Connection) reconnectLoop() {
	defer c.wg.Done()

	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	delay := c.reconnectDelay
	maxDelay := c.maxReconnectDelay
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 1
	for {
		select {
		case <-c.shutdown:
			c.logf("Reconnect loop cancelled (shutdown)")
			return
		case <-time.After(delay):
			c.logf("Reconnect attempt %d to %s", attempt, c.addr)
			c.reportState(ConnectionStateUpdate{State: StateTypeReconnecting, Attempt: attempt})

			if err := c.Connect(); err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				c.logf("Reconnect attempt %d failed: %v", attempt, err)

				delay = min(delay*2, maxDelay)
				attempt++
				continue
			}

			c.logf("Reconnected successfully after %d attempts", attempt)
			c.reportState(ConnectionStateUpdate{State: StateTypeConnected})
			return
		}
	}
}

// parseServerAddress turns user input into a websocket URL
func parseServerAddress(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "ws://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "ws"
	case "wss", "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, errors.New("missing host in server address")
	}
	if u.Port() == "" && u.Scheme == "ws" {
		u.Host = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultPath
	}
	return u, nil
}
