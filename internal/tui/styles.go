package tui

import (
	"sync"

	"charm.land/lipgloss/v2"
)

// Palette colors.
const (
	colorAccent    = "#7aa2f7"
	colorText      = "#c0caf5"
	colorMuted     = "#565f89"
	colorUser      = "#9ece6a"
	colorAssistant = "#7dcfff"
	colorThinking  = "#bb9af7"
	colorTool      = "#e0af68"
	colorError     = "#ff6b6b"
	colorLive      = "#7fcc5a"
)

// Styles holds all the computed lipgloss styles for the TUI.
type Styles struct {
	// Header and footer
	Title        lipgloss.Style
	Info         lipgloss.Style
	Help         lipgloss.Style
	Live         lipgloss.Style
	Disconnected lipgloss.Style

	// Conversation block styles
	UserBlock      lipgloss.Style
	AssistantBlock lipgloss.Style
	ThinkingBlock  lipgloss.Style
	ToolBlock      lipgloss.Style
	ErrorBlock     lipgloss.Style
	OutputBlock    lipgloss.Style

	// Block labels
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	ThinkingLabel  lipgloss.Style
	ToolLabel      lipgloss.Style
	ErrorLabel     lipgloss.Style
	GroupLabel     lipgloss.Style

	// Raw process output
	StdOut lipgloss.Style
	StdErr lipgloss.Style

	Muted lipgloss.Style
}

var (
	stylesOnce sync.Once
	styles     Styles
)

// GetStyles returns the shared styles.
func GetStyles() *Styles {
	stylesOnce.Do(func() {
		styles = buildStyles()
	})
	return &styles
}

func fg(c string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
}

func buildStyles() Styles {
	block := lipgloss.NewStyle().Padding(0, 1).MarginBottom(1)
	return Styles{
		Title:        fg(colorAccent).Bold(true),
		Info:         fg(colorMuted),
		Help:         fg(colorMuted),
		Live:         fg(colorLive),
		Disconnected: fg(colorError),

		UserBlock:      block.Foreground(lipgloss.Color(colorText)),
		AssistantBlock: block.Foreground(lipgloss.Color(colorText)),
		ThinkingBlock:  block.Foreground(lipgloss.Color(colorMuted)).Italic(true),
		ToolBlock:      block.Foreground(lipgloss.Color(colorText)),
		ErrorBlock:     block.Foreground(lipgloss.Color(colorError)),
		OutputBlock:    lipgloss.NewStyle().PaddingLeft(1),

		UserLabel:      fg(colorUser).Bold(true),
		AssistantLabel: fg(colorAssistant).Bold(true),
		ThinkingLabel:  fg(colorThinking).Bold(true),
		ToolLabel:      fg(colorTool).Bold(true),
		ErrorLabel:     fg(colorError).Bold(true),
		GroupLabel:     fg(colorTool),

		StdOut: fg(colorText),
		StdErr: fg(colorError),

		Muted: fg(colorMuted).Italic(true),
	}
}
