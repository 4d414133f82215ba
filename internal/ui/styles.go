// Package ui holds the terminal styles and renderers used by the devflow CLI.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette.
var (
	ColorPrimary   = lipgloss.Color("#a78bfa") // Purple - main accent
	ColorSecondary = lipgloss.Color("#67e8f9") // Cyan - ids and keys
	ColorWarning   = lipgloss.Color("#fbbf24") // Amber
	ColorSuccess   = lipgloss.Color("#22c55e")
	ColorError     = lipgloss.Color("#ef4444")
	ColorMuted     = lipgloss.Color("#6b7280")
	ColorText      = lipgloss.Color("#e5e7eb")
	ColorTextDim   = lipgloss.Color("#9ca3af")
	ColorBright    = lipgloss.Color("#f9fafb")
)

// Icons used in listings.
const (
	IconSuccess    = "✓"
	IconError      = "✗"
	IconWarning    = "△"
	IconPending    = "○"
	IconRunning    = "◐"
	IconComplete   = "●"
	IconSkipped    = "⊘"
	IconCurrent    = "▶"
	IconArrowRight = "→"
	IconBullet     = "•"
)

// Styles holds all the CLI styles.
type Styles struct {
	Header  lipgloss.Style
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	ID      lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	// Width is the usable terminal width, capped at 120.
	Width int
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	width := TerminalWidth()
	if width > 120 {
		width = 120
	}
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
		Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorBright),
		Label:   lipgloss.NewStyle().Foreground(ColorTextDim),
		Value:   lipgloss.NewStyle().Foreground(ColorText),
		ID:      lipgloss.NewStyle().Foreground(ColorSecondary),
		Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
		Success: lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),
		Error:   lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		Width:   width,
	}
}

// StatusIcon picks an icon for a session or stage status name.
func StatusIcon(status string) string {
	switch strings.ToUpper(status) {
	case "RUNNING", "ACTIVE":
		return IconRunning
	case "COMPLETED":
		return IconComplete
	case "SKIPPED":
		return IconSkipped
	case "CLOSED":
		return IconError
	case "PAUSED":
		return IconWarning
	}
	return IconPending
}

// StatusStyle colors a session or stage status.
func (s Styles) StatusStyle(status string) lipgloss.Style {
	switch strings.ToUpper(status) {
	case "RUNNING", "ACTIVE":
		return lipgloss.NewStyle().Foreground(ColorPrimary)
	case "COMPLETED":
		return lipgloss.NewStyle().Foreground(ColorSuccess)
	case "PAUSED":
		return s.Warning
	case "CLOSED":
		return lipgloss.NewStyle().Foreground(ColorError)
	}
	return s.Muted
}

// ProgressBar renders fraction (0..1) as a bar of the given width.
func ProgressBar(fraction float64, width int) string {
	if width <= 0 {
		return ""
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction*float64(width) + 0.5)
	return lipgloss.NewStyle().Foreground(ColorSuccess).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(ColorMuted).Render(strings.Repeat("░", width-filled))
}

// TerminalWidth returns the stdout width, or 80 when it is not a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
