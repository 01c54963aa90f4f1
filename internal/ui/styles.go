// Package ui renders o324 output for terminals.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	// Colors
	ColorAccent  = lipgloss.Color("75")  // Blue
	ColorPass    = lipgloss.Color("42")  // Green
	ColorWarn    = lipgloss.Color("214") // Orange
	ColorFail    = lipgloss.Color("160") // Red
	ColorMuted   = lipgloss.Color("241") // Gray
	ColorRunning = lipgloss.Color("205") // Pink

	StyleAccent  = lipgloss.NewStyle().Foreground(ColorAccent)
	StylePass    = lipgloss.NewStyle().Foreground(ColorPass)
	StyleWarn    = lipgloss.NewStyle().Foreground(ColorWarn)
	StyleFail    = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	StyleMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleRunning = lipgloss.NewStyle().Foreground(ColorRunning).Bold(true)
	StyleTitle   = lipgloss.NewStyle().Bold(true)
	StyleID      = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Setup picks the color profile for output written to f. Colors are
// disabled when f is not a terminal or NO_COLOR is set.
func Setup(f *os.File) {
	if !IsTerminal(f) || os.Getenv("NO_COLOR") != "" {
		DisableColor()
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(f).EnvColorProfile())
}

// DisableColor makes every style render plain text.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string  { return StyleAccent.Render(s) }
func RenderPass(s string) string    { return StylePass.Render(s) }
func RenderWarn(s string) string    { return StyleWarn.Render(s) }
func RenderFail(s string) string    { return StyleFail.Render(s) }
func RenderMuted(s string) string   { return StyleMuted.Render(s) }
func RenderRunning(s string) string { return StyleRunning.Render(s) }
func RenderTitle(s string) string   { return StyleTitle.Render(s) }

// RenderID highlights the unique prefix of id and dims the rest.
func RenderID(id, prefix string) string {
	if len(prefix) > len(id) || id[:len(prefix)] != prefix {
		return StyleID.Render(id)
	}
	return StyleID.Render(prefix) + StyleMuted.Render(id[len(prefix):])
}
