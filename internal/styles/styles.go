// Package styles provides shared lipgloss styles for CLI output and prompts.
package styles

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/sublet/internal/core/auth"
)

// Tokyo Night color palette.
var (
	ColorGreen  = lipgloss.Color("#9ece6a")
	ColorYellow = lipgloss.Color("#e0af68")
	ColorRed    = lipgloss.Color("#d75f6b")
	ColorBlue   = lipgloss.Color("#7aa2f7")
	ColorGray   = lipgloss.Color("#565f89")
	ColorWhite  = lipgloss.Color("#c0caf5")
)

// CardStyle frames the session status card.
var CardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorGray).
	Padding(0, 1)

// TitleStyle styles the card heading.
var TitleStyle = lipgloss.NewStyle().
	Foreground(ColorBlue).
	Bold(true)

// LabelStyle styles field labels inside the card.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Width(10)

// ValueStyle styles field values inside the card.
var ValueStyle = lipgloss.NewStyle().
	Foreground(ColorWhite)

// StateStyle returns the style used to render a session state.
func StateStyle(s auth.State) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch s {
	case auth.StateAuthenticated:
		return base.Foreground(ColorGreen)
	case auth.StateAuthenticating, auth.StateSigningOut:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorRed)
	}
}

// FormTheme is the huh theme used by credential prompts.
func FormTheme() *huh.Theme {
	t := huh.ThemeCharm()
	t.Focused.Base = t.Focused.Base.BorderForeground(ColorBlue)
	t.Focused.Title = t.Focused.Title.Foreground(ColorBlue).Bold(true)
	t.Blurred.Title = t.Blurred.Title.Foreground(ColorGray)
	return t
}
