package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("62")  // Purple
	colorMuted   = lipgloss.Color("241") // Gray
	colorPass    = lipgloss.Color("78")  // Green
	colorFail    = lipgloss.Color("203") // Red
	colorAlert   = lipgloss.Color("52")  // Dark red
)

var titleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary).
	Padding(0, 1)

var badgeConnected = lipgloss.NewStyle().
	Foreground(lipgloss.Color("0")).
	Background(colorPass).
	Padding(0, 1)

var badgeIdle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("238")).
	Padding(0, 1)

var counterStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255"))

var mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)

var passStyle = lipgloss.NewStyle().Foreground(colorPass)

var failStyle = lipgloss.NewStyle().Foreground(colorFail)

// alertRow highlights events where either sub-check alerts.
var alertRow = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(colorAlert)

var errorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(colorFail).
	Padding(0, 1)

var helpStyle = lipgloss.NewStyle().
	Foreground(colorMuted).
	Background(lipgloss.Color("236")).
	Padding(0, 1)
