package ui

import (
	"context"
	"time"

	"github.com/aeolun/wschat/pkg/client"
	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/aeolun/wschat/pkg/updater"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Phase is where the user is in the join handshake
type Phase int

const (
	PhaseUsername Phase = iota // prompting for a username
	PhaseJoining               // join sent, waiting for history
	PhaseChat                  // joined
)

func (p Phase) String() string {
	switch p {
	case PhaseUsername:
		return "Username"
	case PhaseJoining:
		return "Joining"
	case PhaseChat:
		return "Chat"
	default:
		return "Unknown"
	}
}

// ConnectionState represents the connection status
type ConnectionState int

const (
	StateConnected ConnectionState = iota
	StateDisconnected
	StateReconnecting
)

const defaultMaxMessageLength = 500

// Notifier shows a desktop notification
type Notifier func(title, body string) error

// VersionChecker returns the latest released version
type VersionChecker func(ctx context.Context) (string, error)

// Options configure the chat model
type Options struct {
	CurrentVersion   string
	ShowTimestamps   bool
	TimestampFormat  string // "absolute" or "relative"
	AutoJoin         bool   // join with the remembered username without prompting
	MaxMessageLength int

	// Optional hooks; nil disables the feature
	Notify       Notifier
	CheckVersion VersionChecker
}

// Model represents the application state
type Model struct {
	// Connection and state
	conn             client.ConnectionInterface
	state            client.StateInterface
	opts             Options
	connectionState  ConnectionState
	reconnectAttempt int

	phase    Phase
	username string

	// Chat log
	lines       []client.Line
	lastReadAt  time.Time
	unreadIndex int // index of the first unread line in lines, -1 if none

	// UI state
	width    int
	height   int
	ready    bool
	input    textinput.Model
	viewport viewport.Model

	// Error and status
	errorMessage  string
	statusMessage string

	// Version tracking
	latestVersion   string
	updateAvailable bool
}

// NewModel creates a new application model
func NewModel(conn client.ConnectionInterface, state client.StateInterface, opts Options) Model {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = defaultMaxMessageLength
	}
	if opts.TimestampFormat == "" {
		opts.TimestampFormat = "absolute"
	}

	input := textinput.New()
	input.Focus()

	lastRead, err := state.GetReadState(conn.GetAddress())
	if err != nil {
		lastRead = time.Time{}
	}

	connState := StateDisconnected
	if conn.IsConnected() {
		connState = StateConnected
	}

	m := Model{
		conn:            conn,
		state:           state,
		opts:            opts,
		connectionState: connState,
		phase:           PhaseUsername,
		username:        state.GetLastUsername(),
		lastReadAt:      lastRead,
		unreadIndex:     -1,
		input:           input,
	}

	if opts.AutoJoin && m.username != "" {
		m.phase = PhaseJoining
	}
	m.resetInput()

	return m
}

// resetInput configures the input line for the current phase
func (m *Model) resetInput() {
	m.input.Reset()
	switch m.phase {
	case PhaseChat:
		m.input.Prompt = "> "
		m.input.Placeholder = "Type a message, Enter to send"
		m.input.CharLimit = m.opts.MaxMessageLength
	default:
		m.input.Prompt = "Username: "
		m.input.Placeholder = "letters, digits, _ and -"
		m.input.CharLimit = 0
		if m.phase == PhaseUsername && m.username != "" {
			m.input.SetValue(m.username)
		}
	}
}

// Username returns the joined (or pending) username
func (m Model) Username() string {
	return m.username
}

// Phase returns the current handshake phase
func (m Model) Phase() Phase {
	return m.phase
}

// Lines returns the chat log
func (m Model) Lines() []client.Line {
	return m.lines
}

// Message types for bubbletea

// ServerEventMsg wraps an incoming server event
type ServerEventMsg struct {
	Event *protocol.ServerEvent
}

// ErrorMsg represents a connection error
type ErrorMsg struct {
	Err error
}

// SendFailedMsg reports a failed join or send
type SendFailedMsg struct {
	Err error
}

// ConnectedMsg is sent when successfully connected or reconnected
type ConnectedMsg struct{}

// DisconnectedMsg is sent when connection is lost
type DisconnectedMsg struct {
	Err error
}

// ReconnectingMsg is sent when attempting to reconnect
type ReconnectingMsg struct {
	Attempt int
}

// TickMsg is sent periodically
type TickMsg time.Time

// VersionCheckMsg is sent with version check results
type VersionCheckMsg struct {
	LatestVersion   string
	UpdateAvailable bool
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		listenForServerFrames(m.conn),
		tickCmd(),
		textinput.Blink,
	}
	if m.opts.CheckVersion != nil {
		cmds = append(cmds, checkForUpdates(m.opts.CheckVersion, m.opts.CurrentVersion))
	}
	if m.phase == PhaseJoining {
		cmds = append(cmds, joinCmd(m.conn, m.username))
	}
	return tea.Batch(cmds...)
}

// listenForServerFrames listens for incoming server events and connection state changes
func listenForServerFrames(conn client.ConnectionInterface) tea.Cmd {
	return func() tea.Msg {
		select {
		case event, ok := <-conn.Incoming():
			if !ok {
				return nil
			}
			return ServerEventMsg{Event: event}
		case err, ok := <-conn.Errors():
			if !ok {
				return nil
			}
			return ErrorMsg{Err: err}
		case stateUpdate, ok := <-conn.StateChanges():
			if !ok {
				return nil
			}
			switch stateUpdate.State {
			case client.StateTypeConnected:
				return ConnectedMsg{}
			case client.StateTypeDisconnected:
				return DisconnectedMsg{Err: stateUpdate.Err}
			case client.StateTypeReconnecting:
				return ReconnectingMsg{Attempt: stateUpdate.Attempt}
			}
		}
		return nil
	}
}

// tickCmd returns a command that sends a tick message every second
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// joinCmd connects if needed and sends the join handshake
func joinCmd(conn client.ConnectionInterface, username string) tea.Cmd {
	return func() tea.Msg {
		if !conn.IsConnected() {
			if err := conn.Connect(); err != nil {
				return SendFailedMsg{Err: err}
			}
		}
		if err := conn.Join(username); err != nil {
			return SendFailedMsg{Err: err}
		}
		return nil
	}
}

func sendCmd(conn client.ConnectionInterface, body string) tea.Cmd {
	return func() tea.Msg {
		if err := conn.Send(body); err != nil {
			return SendFailedMsg{Err: err}
		}
		return nil
	}
}

// notifyCmd raises a desktop notification; failures are ignored
func notifyCmd(notify Notifier, title, body string) tea.Cmd {
	return func() tea.Msg {
		_ = notify(title, body)
		return nil
	}
}

// checkForUpdates checks for available updates in the background
func checkForUpdates(check VersionChecker, currentVersion string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		latestVersion, err := check(ctx)
		if err != nil {
			// Don't bother the user with update check failures
			return nil
		}

		return VersionCheckMsg{
			LatestVersion:   latestVersion,
			UpdateAvailable: updater.CompareVersions(currentVersion, latestVersion),
		}
	}
}
