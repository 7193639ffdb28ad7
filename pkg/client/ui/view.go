package ui

import (
	"fmt"
	"strings"

	"github.com/aeolun/wschat/pkg/client"
	"github.com/charmbracelet/lipgloss"
)

// View renders the current view
func (m Model) View() string {
	// Don't render until we have dimensions
	if m.width == 0 || m.height == 0 || !m.ready {
		return "Loading..."
	}

	if m.phase != PhaseChat {
		return m.renderUsernamePrompt()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		ChatPaneStyle.Width(m.width-2).Render(m.viewport.View()),
		m.renderInput(),
		m.renderFooter(),
	)
}

// renderUsernamePrompt renders the join dialog
func (m Model) renderUsernamePrompt() string {
	title := ModalTitleStyle.Render("Join " + m.conn.GetAddress())

	var body string
	if m.phase == PhaseJoining {
		body = MutedTextStyle.Render(fmt.Sprintf("Joining as %s...", m.username))
	} else {
		body = m.input.View()
	}

	parts := []string{title, body}
	if m.errorMessage != "" {
		parts = append(parts, "", RenderError(m.errorMessage))
	}
	parts = append(parts, "", RenderShortcut("Enter", "join")+"  "+RenderShortcut("Esc", "quit"))

	box := ModalStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m Model) renderHeader() string {
	name := "wschat"
	if m.opts.CurrentVersion != "" {
		name += " " + m.opts.CurrentVersion
	}
	left := HeaderStyle.Render(name)
	if m.updateAvailable {
		left += " " + RenderWarning(m.latestVersion+" available")
	}

	var status string
	switch m.connectionState {
	case StateConnected:
		status = fmt.Sprintf("%s @ %s", m.username, m.conn.GetAddress())
	case StateReconnecting:
		status = RenderWarning(fmt.Sprintf("Reconnecting (attempt %d)", m.reconnectAttempt))
	default:
		status = RenderError("Disconnected")
	}
	right := StatusStyle.Render(status)

	spacer := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return left + spacer + right
}

func (m Model) renderInput() string {
	style := InputFocusedStyle
	if m.connectionState != StateConnected {
		style = InputBlurredStyle
	}
	return style.Width(m.width - 2).Render(m.input.View())
}

func (m Model) renderFooter() string {
	footer := RenderShortcut("Enter", "send") + "  " +
		RenderShortcut("PgUp/PgDn", "scroll") + "  " +
		RenderShortcut("Esc", "quit")

	if m.errorMessage != "" {
		footer += "  " + RenderError(m.errorMessage)
	} else if m.statusMessage != "" {
		footer += "  " + SuccessStyle.Render(m.statusMessage)
	}

	return FooterStyle.Render(footer)
}

// buildChatContent renders every line of the chat log
func (m Model) buildChatContent() string {
	if len(m.lines) == 0 {
		return MutedTextStyle.Render("No messages yet. Say hi!")
	}

	width := max(10, m.viewport.Width)
	var b strings.Builder
	for i, line := range m.lines {
		if i == m.unreadIndex {
			b.WriteString(m.unreadDivider(width))
			b.WriteString("\n")
		}
		b.WriteString(m.formatLine(line, width))
		if i < len(m.lines)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) unreadDivider(width int) string {
	label := " new messages "
	side := max(0, (width-len(label))/2)
	return UnreadDividerStyle.Render(strings.Repeat("─", side) + label + strings.Repeat("─", side))
}

// formatLine renders one chat line, wrapped to width
func (m Model) formatLine(line client.Line, width int) string {
	var prefix string
	if m.opts.ShowTimestamps {
		prefix = MessageTimeStyle.Render(client.FormatTimestamp(line.Timestamp, m.opts.TimestampFormat)) + " "
	}
	prefix += UsernameStyle(line.Username, line.Username == m.username).Render(line.Username) + ": "

	bodyStyle := MessageContentStyle
	if line.Username != m.username && client.Mentions(line.Message, m.username) {
		bodyStyle = MentionStyle
	}

	bodyWidth := max(1, width-lipgloss.Width(prefix))
	body := bodyStyle.Width(bodyWidth).Render(line.Message)
	return lipgloss.JoinHorizontal(lipgloss.Top, prefix, body)
}
