package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/samber/lo"
)

var (
	// ErrDuplicateConnection is returned when registering an id that is already present
	ErrDuplicateConnection = errors.New("connection id already registered")
	// ErrClientNotFound is returned by SendTo for unknown ids
	ErrClientNotFound = errors.New("client not registered")
)

// Client is an authenticated connection
type Client struct {
	ID          string
	Username    string
	ConnectedAt time.Time

	alive     atomic.Bool
	transport Transport
}

// Alive reports whether a pong (or registration) has been seen since the last liveness sweep
func (c *Client) Alive() bool {
	return c.alive.Load()
}

// BroadcastResult summarizes one fan-out
type BroadcastResult struct {
	Recipients int
	Delivered  int
	Failed     int
}

// RegistryStats is a point-in-time view of the registry
type RegistryStats struct {
	Count              int
	Usernames          []string
	LongestConnectedMs int64
}

// Registry tracks authenticated clients, keyed by connection id.
// Usernames are not unique.
type Registry struct {
	clients map[string]*Client
	mu      sync.RWMutex
	metrics *Metrics
	now     func() time.Time
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		metrics: metrics,
		now:     time.Now,
	}
}

// Register adds a client. The client starts out alive.
func (r *Registry) Register(id, username string, transport Transport) (*Client, error) {
	client := &Client{
		ID:          id,
		Username:    username,
		ConnectedAt: r.now(),
		transport:   transport,
	}
	client.alive.Store(true)

	r.mu.Lock()
	if _, exists := r.clients[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("register %s: %w", id, ErrDuplicateConnection)
	}
	r.clients[id] = client
	count := len(r.clients)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveConnections(count)
	}
	debugLog.Printf("Client %s registered as %q (%d connected)", id, username, count)
	return client, nil
}

// Unregister removes a client. It is safe to call more than once and
// reports whether an entry was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	count := len(r.clients)
	r.mu.Unlock()

	if ok {
		if r.metrics != nil {
			r.metrics.RecordActiveConnections(count)
		}
		debugLog.Printf("Client %s unregistered (%d connected)", id, count)
	}
	return ok
}

// remove deletes the entry only if it still points at c
func (r *Registry) remove(c *Client) bool {
	r.mu.Lock()
	cur, ok := r.clients[c.ID]
	if ok && cur == c {
		delete(r.clients, c.ID)
	} else {
		ok = false
	}
	count := len(r.clients)
	r.mu.Unlock()

	if ok && r.metrics != nil {
		r.metrics.RecordActiveConnections(count)
	}
	return ok
}

// Evict unregisters a client and terminates its transport
func (r *Registry) Evict(c *Client, reason string) {
	if r.remove(c) {
		debugLog.Printf("Client %s (%s) evicted: %s", c.ID, c.Username, reason)
	}
	_ = c.transport.Terminate()
}

// Get returns the client registered under id
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	return c, ok
}

// Snapshot returns the current clients. The slice is owned by the caller.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.clients)
}

// Count returns the number of registered clients
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// MarkAlive records a pong for id
func (r *Registry) MarkAlive(id string) {
	if c, ok := r.Get(id); ok {
		c.alive.Store(true)
	}
}

// ConnectedUsernames returns the distinct usernames currently connected, sorted
func (r *Registry) ConnectedUsernames() []string {
	return distinctUsernames(r.Snapshot())
}

func distinctUsernames(clients []*Client) []string {
	names := lo.Uniq(lo.Map(clients, func(c *Client, _ int) string {
		return c.Username
	}))
	sort.Strings(names)
	return names
}

// Stats returns counts for the health endpoint
func (r *Registry) Stats() RegistryStats {
	clients := r.Snapshot()
	now := r.now()

	var longest int64
	for _, c := range clients {
		if d := now.Sub(c.ConnectedAt).Milliseconds(); d > longest {
			longest = d
		}
	}

	return RegistryStats{
		Count:              len(clients),
		Usernames:          distinctUsernames(clients),
		LongestConnectedMs: longest,
	}
}

// Broadcast sends event to every registered client, sender included
func (r *Registry) Broadcast(event any) (BroadcastResult, error) {
	return r.broadcast(event, "")
}

// BroadcastExcept sends event to every registered client except exceptID
func (r *Registry) BroadcastExcept(event any, exceptID string) (BroadcastResult, error) {
	return r.broadcast(event, exceptID)
}

func (r *Registry) broadcast(event any, exceptID string) (BroadcastResult, error) {
	data, err := protocol.Encode(event)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("failed to encode broadcast: %w", err)
	}

	start := time.Now()
	var result BroadcastResult

	// Copy under the lock, write outside it
	for _, c := range r.Snapshot() {
		if c.ID == exceptID {
			continue
		}
		result.Recipients++
		if err := r.deliver(c, data); err != nil {
			debugLog.Printf("Client %s: broadcast delivery failed: %v", c.ID, err)
			result.Failed++
			continue
		}
		result.Delivered++
	}

	if r.metrics != nil {
		r.metrics.RecordBroadcast(result, time.Since(start))
	}
	return result, nil
}

// SendTo sends event to a single client
func (r *Registry) SendTo(id string, event any) error {
	c, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("send to %s: %w", id, ErrClientNotFound)
	}

	data, err := protocol.Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return r.deliver(c, data)
}

// deliver writes to one client, evicting it if the transport is unusable
func (r *Registry) deliver(c *Client, data []byte) error {
	if !c.transport.IsOpen() {
		r.Evict(c, "transport closed")
		return ErrTransportClosed
	}
	if err := c.transport.Send(data); err != nil {
		if r.metrics != nil {
			r.metrics.RecordDeliveryFailure()
		}
		r.Evict(c, "write failed")
		return err
	}
	return nil
}

// CloseAll closes every registered transport with code and reason and empties the registry
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.Lock()
	clients := lo.Values(r.clients)
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		_ = c.transport.Close(code, reason)
	}
	if r.metrics != nil {
		r.metrics.RecordActiveConnections(0)
	}
	return len(clients)
}
