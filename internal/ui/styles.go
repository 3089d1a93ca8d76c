// Package ui renders session events to a terminal.
package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Palette. Adaptive colors pick the light or dark variant from the
// terminal background.
var (
	Foreground  = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#f2f2f2"}
	Muted       = lipgloss.AdaptiveColor{Light: "#6a737d", Dark: "#8b949e"}
	Accent      = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#8BC34A")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
)

// Styles holds the styled components used by Console.
type Styles struct {
	Timestamp lipgloss.Style
	Banner    lipgloss.Style
	Label     lipgloss.Style
	Body      lipgloss.Style
	Muted     lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style

	DiffExpected lipgloss.Style
	DiffActual   lipgloss.Style
	DiffContext  lipgloss.Style
}

// NewRenderer returns a renderer for w. With noColor set every style
// renders as plain text.
func NewRenderer(w io.Writer, noColor bool) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	if noColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

// NewStyles creates styles bound to r.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Timestamp: r.NewStyle().Foreground(Muted),
		Banner:    r.NewStyle().Foreground(Accent).Bold(true),
		Label:     r.NewStyle().Foreground(Foreground).Bold(true),
		Body:      r.NewStyle().Foreground(Foreground),
		Muted:     r.NewStyle().Foreground(Muted),

		Success: r.NewStyle().Foreground(Success).Bold(true),
		Error:   r.NewStyle().Foreground(Destructive).Bold(true),
		Warning: r.NewStyle().Foreground(Warning).Bold(true),
		Info:    r.NewStyle().Foreground(Info),

		DiffExpected: r.NewStyle().Foreground(Destructive),
		DiffActual:   r.NewStyle().Foreground(Success),
		DiffContext:  r.NewStyle().Foreground(Muted),
	}
}
