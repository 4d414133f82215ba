package ui

import (
	"github.com/charmbracelet/glamour"

	"github.com/alexcabrera/devflow/internal/pipe"
)

// NewMarkdownRenderer creates a glamour renderer sized to the terminal.
func NewMarkdownRenderer() (*glamour.TermRenderer, error) {
	width := TerminalWidth()
	if width > 120 {
		width = 120
	}
	return glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
		glamour.WithPreservedNewLines(),
	)
}

// RenderMarkdown renders md for the terminal. Piped output and renderer
// failures get the raw markdown back.
func RenderMarkdown(md string) string {
	if pipe.IsStdoutPiped() {
		return md
	}
	r, err := NewMarkdownRenderer()
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
