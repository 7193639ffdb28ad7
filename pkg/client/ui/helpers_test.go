package ui

import (
	"sync"

	"github.com/aeolun/wschat/pkg/client"
	"github.com/aeolun/wschat/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
)

// fakeConn is an in-memory ConnectionInterface
type fakeConn struct {
	mu        sync.Mutex
	connected bool
	joins     []string
	sent      []string
	connects  int
	sendErr   error
	connErr   error

	incoming chan *protocol.ServerEvent
	errs     chan error
	states   chan client.ConnectionStateUpdate
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		connected: true,
		incoming:  make(chan *protocol.ServerEvent, 10),
		errs:      make(chan error, 10),
		states:    make(chan client.ConnectionStateUpdate, 10),
	}
}

// closedFakeConn has closed channels so listener commands return at once
func closedFakeConn() *fakeConn {
	c := newFakeConn()
	close(c.incoming)
	close(c.errs)
	close(c.states)
	return c
}

func (c *fakeConn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connErr != nil {
		return c.connErr
	}
	c.connected = true
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeConn) Close() { c.Disconnect() }

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) GetAddress() string { return "chat.test:8080" }

func (c *fakeConn) Join(username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.joins = append(c.joins, username)
	return nil
}

func (c *fakeConn) Send(body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, body)
	return nil
}

func (c *fakeConn) Incoming() <-chan *protocol.ServerEvent            { return c.incoming }
func (c *fakeConn) Errors() <-chan error                              { return c.errs }
func (c *fakeConn) StateChanges() <-chan client.ConnectionStateUpdate { return c.states }

// setupTestModel returns a sized model in the username phase
func setupTestModel(conn *fakeConn, state *client.MockState, opts Options) Model {
	m := NewModel(conn, state, opts)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model)
}

// runCmd executes cmd and any batched commands, collecting non-nil messages
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, runCmd(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

func typeText(m Model, text string) Model {
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return updated.(Model)
}

func pressEnter(m Model) (Model, tea.Cmd) {
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Model), cmd
}

func deliver(m Model, ev *protocol.ServerEvent) (Model, tea.Cmd) {
	updated, cmd := m.Update(ServerEventMsg{Event: ev})
	return updated.(Model), cmd
}
