package ui

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Color scheme
	PrimaryColor   = lipgloss.Color("39")  // Blue
	SecondaryColor = lipgloss.Color("213") // Pink
	SuccessColor   = lipgloss.Color("42")  // Green
	ErrorColor     = lipgloss.Color("196") // Red
	WarningColor   = lipgloss.Color("214") // Orange
	MutedColor     = lipgloss.Color("243") // Gray
	BorderColor    = lipgloss.Color("238") // Dark gray

	// Other users get a stable color picked from this palette
	usernamePalette = []lipgloss.Color{"213", "141", "117", "221", "209", "183", "159", "186"}

	BaseStyle = lipgloss.NewStyle()

	HeaderStyle = BaseStyle.Copy().
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	StatusStyle = BaseStyle.Copy().
			Foreground(MutedColor).
			Padding(0, 1)

	FooterStyle = BaseStyle.Copy().
			Foreground(MutedColor).
			Padding(0, 1)

	ShortcutKeyStyle = BaseStyle.Copy().
				Foreground(PrimaryColor).
				Bold(true)

	ShortcutDescStyle = BaseStyle.Copy().
				Foreground(lipgloss.Color("252"))

	ChatPaneStyle = BaseStyle.Copy().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor)

	MessageOwnAuthorStyle = BaseStyle.Copy().
				Foreground(SuccessColor).
				Bold(true)

	MessageTimeStyle = BaseStyle.Copy().
				Foreground(MutedColor).
				Italic(true)

	MessageContentStyle = BaseStyle.Copy().
				Foreground(lipgloss.Color("252"))

	MentionStyle = BaseStyle.Copy().
			Foreground(WarningColor).
			Bold(true)

	UnreadDividerStyle = BaseStyle.Copy().
				Foreground(WarningColor)

	// Note: Width sets content width, border (2 chars) is added on top
	ModalStyle = BaseStyle.Copy().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(PrimaryColor).
			Padding(1, 2).
			Width(58)

	ModalTitleStyle = BaseStyle.Copy().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	InputFocusedStyle = BaseStyle.Copy().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(PrimaryColor).
				Padding(0, 1)

	InputBlurredStyle = BaseStyle.Copy().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(BorderColor).
				Foreground(MutedColor).
				Padding(0, 1)

	ErrorStyle = BaseStyle.Copy().
			Foreground(ErrorColor).
			Bold(true)

	SuccessStyle = BaseStyle.Copy().
			Foreground(SuccessColor).
			Bold(true)

	WarningStyle = BaseStyle.Copy().
			Foreground(WarningColor).
			Bold(true)

	MutedTextStyle = BaseStyle.Copy().
			Foreground(MutedColor)
)

// UsernameStyle returns the style for a username. The current user is
// highlighted; everyone else keeps the same color for the whole session.
func UsernameStyle(username string, own bool) lipgloss.Style {
	if own {
		return MessageOwnAuthorStyle
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	return BaseStyle.Copy().
		Bold(true).
		Foreground(usernamePalette[h.Sum32()%uint32(len(usernamePalette))])
}

// RenderShortcut renders a keyboard shortcut
func RenderShortcut(key, desc string) string {
	return ShortcutKeyStyle.Render("["+key+"]") + " " + ShortcutDescStyle.Render(desc)
}

// RenderError renders an error message
func RenderError(msg string) string {
	return ErrorStyle.Render("✗ " + msg)
}

// RenderSuccess renders a success message
func RenderSuccess(msg string) string {
	return SuccessStyle.Render("✓ " + msg)
}

// RenderWarning renders a warning message
func RenderWarning(msg string) string {
	return WarningStyle.Render("⚠ " + msg)
}
