package ui

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aeolun/wschat/pkg/client"
	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Height taken by the header, input box and footer
const chromeHeight = 6

// Update handles incoming messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := max(1, msg.Height-chromeHeight)
		if !m.ready {
			m.viewport = viewport.New(max(1, msg.Width-2), vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = max(1, msg.Width-2)
			m.viewport.Height = vpHeight
		}
		m.input.Width = max(1, msg.Width-6-len(m.input.Prompt))
		m.refreshViewport(true)
		return m, nil

	case ServerEventMsg:
		return m.handleServerEvent(msg.Event)

	case ErrorMsg:
		m.errorMessage = msg.Err.Error()
		if errors.Is(msg.Err, client.ErrRejected) && m.phase != PhaseChat {
			m.phase = PhaseUsername
			m.resetInput()
		}
		return m, listenForServerFrames(m.conn)

	case SendFailedMsg:
		m.errorMessage = msg.Err.Error()
		if m.phase == PhaseJoining {
			m.phase = PhaseUsername
			m.resetInput()
		}
		return m, nil

	case ConnectedMsg:
		m.connectionState = StateConnected
		m.reconnectAttempt = 0
		m.errorMessage = ""
		m.statusMessage = "Connected"
		return m, listenForServerFrames(m.conn)

	case DisconnectedMsg:
		m.connectionState = StateDisconnected
		m.statusMessage = ""
		return m, listenForServerFrames(m.conn)

	case ReconnectingMsg:
		m.connectionState = StateReconnecting
		m.reconnectAttempt = msg.Attempt
		return m, listenForServerFrames(m.conn)

	case TickMsg:
		// Relative timestamps age
		if m.opts.ShowTimestamps && m.opts.TimestampFormat == "relative" {
			m.refreshViewport(false)
		}
		return m, tickCmd()

	case VersionCheckMsg:
		m.latestVersion = msg.LatestVersion
		m.updateAvailable = msg.UpdateAvailable
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKeyPress processes keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit

	case tea.KeyEnter:
		switch m.phase {
		case PhaseUsername:
			return m.submitUsername()
		case PhaseChat:
			return m.submitMessage()
		}
		return m, nil

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		if m.ready {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.phase == PhaseJoining {
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submitUsername() (tea.Model, tea.Cmd) {
	// The server is authoritative on username rules; only blank input is caught here
	username := m.input.Value()
	if strings.TrimSpace(username) == "" {
		m.errorMessage = "Username cannot be empty"
		return m, nil
	}

	m.username = username
	m.phase = PhaseJoining
	m.errorMessage = ""
	m.statusMessage = fmt.Sprintf("Joining as %s...", username)
	m.resetInput()
	return m, joinCmd(m.conn, username)
}

func (m Model) submitMessage() (tea.Model, tea.Cmd) {
	body := m.input.Value()
	if strings.TrimSpace(body) == "" {
		return m, nil
	}
	if utf8.RuneCountInString(body) > m.opts.MaxMessageLength {
		m.errorMessage = protocol.ErrMsgMessageTooLong
		return m, nil
	}

	m.errorMessage = ""
	m.input.Reset()
	return m, sendCmd(m.conn, body)
}

// handleServerEvent applies one server event
func (m Model) handleServerEvent(ev *protocol.ServerEvent) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{listenForServerFrames(m.conn)}
	if ev == nil {
		return m, cmds[0]
	}

	switch ev.Type {
	case protocol.TypeHistory:
		// Sent once per (re)join; it replaces whatever we had
		m.lines = client.LinesFromHistory(ev.Messages)
		m.unreadIndex = m.firstUnread()
		m.enterChat()
		m.markRead()
		m.refreshViewport(true)

	case protocol.TypeMessage:
		line := client.LineFromEvent(ev)
		m.lines = append(m.lines, line)
		if ev.Username != m.username && client.Mentions(ev.Message, m.username) && m.opts.Notify != nil {
			cmds = append(cmds, notifyCmd(m.opts.Notify, "Mentioned by "+ev.Username, client.Truncate(ev.Message, 120)))
		}
		m.markRead()
		m.refreshViewport(m.atBottom())

	case protocol.TypeError:
		m.errorMessage = ev.Error
		switch ev.Error {
		case protocol.ErrMsgInvalidUsername, protocol.ErrMsgUsernameTooLong,
			protocol.ErrMsgAuthRequired, protocol.ErrMsgAuthTimeout:
			m.phase = PhaseUsername
			m.resetInput()
		case protocol.ErrMsgDatabaseError:
			// The join succeeded but history could not be loaded
			if m.phase == PhaseJoining {
				m.lines = nil
				m.unreadIndex = -1
				m.enterChat()
				m.errorMessage = ev.Error
				m.refreshViewport(true)
			}
		}
	}

	return m, tea.Batch(cmds...)
}

// enterChat switches to the chat phase once the server has accepted the join
func (m *Model) enterChat() {
	if m.phase != PhaseChat {
		m.phase = PhaseChat
		m.resetInput()
		if err := m.state.SetLastUsername(m.username); err != nil {
			m.errorMessage = fmt.Sprintf("Failed to save username: %v", err)
		}
	}
	m.statusMessage = fmt.Sprintf("Joined as %s", m.username)
}

// firstUnread finds the first line newer than the stored read position
func (m Model) firstUnread() int {
	if m.lastReadAt.IsZero() {
		return -1
	}
	for i, line := range m.lines {
		if line.CreatedAt.After(m.lastReadAt) {
			return i
		}
	}
	return -1
}

// markRead advances the read position to the newest line
func (m *Model) markRead() {
	if len(m.lines) == 0 {
		return
	}
	newest := m.lines[len(m.lines)-1].CreatedAt
	if newest.IsZero() || !newest.After(m.lastReadAt) {
		return
	}
	m.lastReadAt = newest
	if err := m.state.UpdateReadState(m.conn.GetAddress(), newest); err != nil {
		m.errorMessage = fmt.Sprintf("Failed to save read position: %v", err)
	}
}

func (m Model) atBottom() bool {
	return !m.ready || m.viewport.AtBottom()
}

// refreshViewport re-renders the chat log into the viewport
func (m *Model) refreshViewport(gotoBottom bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.buildChatContent())
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}
