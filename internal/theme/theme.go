// Package theme provides the styling for operator-facing sdb messages:
// session banners on the debugged process's side, and relay/client notices
// in the terminal client. Debug output itself is colorized by the render
// package, not here.
//
// lipgloss picks the color profile from the output terminal, so these styles
// degrade to plain text when stderr is redirected.
package theme

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	Accent  = lipgloss.Color("#22d3ee") // Cyan - session identity
	Success = lipgloss.Color("#22c55e") // Green - session started
	Warning = lipgloss.Color("#f59e0b") // Amber - waiting for a client
	Error   = lipgloss.Color("#ef4444") // Red - failures
	Muted   = lipgloss.Color("#6b7280") // Gray - session ended, hints
)

// Styles
var (
	// Ident styles the "Socket Debugger:<port>" prefix.
	Ident = lipgloss.NewStyle().
		Foreground(Accent).
		Bold(true)

	// Waiting styles the banner's connection instructions.
	Waiting = lipgloss.NewStyle().
		Foreground(Warning)

	// Started styles the "Now in session" notice.
	Started = lipgloss.NewStyle().
		Foreground(Success)

	// Ended styles the "Session ended" and "connection closed" notices.
	Ended = lipgloss.NewStyle().
		Foreground(Muted)

	// Failure styles fatal CLI errors.
	Failure = lipgloss.NewStyle().
		Foreground(Error).
		Bold(true)
)

// Say renders "<ident>: <msg>" with the ident highlighted and msg in style.
func Say(ident string, style lipgloss.Style, msg string) string {
	return Ident.Render(ident) + ": " + style.Render(msg)
}
