package tui

import "charm.land/bubbles/v2/key"

// timelineKeyMap defines key bindings for the timeline
type timelineKeyMap struct {
	Up          key.Binding
	Down        key.Binding
	PgUp        key.Binding
	PgDown      key.Binding
	Top         key.Binding
	Bottom      key.Binding
	NextAttempt key.Binding
	PrevAttempt key.Binding
	Expand      key.Binding
	Quit        key.Binding
}

// defaultTimelineKeyMap returns the default key bindings for the timeline
func defaultTimelineKeyMap() timelineKeyMap {
	return timelineKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
		PgUp: key.NewBinding(
			key.WithKeys("pgup", "b"),
			key.WithHelp("pgup", "page up"),
		),
		PgDown: key.NewBinding(
			key.WithKeys("pgdown", "space"),
			key.WithHelp("pgdn", "page down"),
		),
		Top: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("g", "go to top"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("G", "follow"),
		),
		NextAttempt: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next attempt"),
		),
		PrevAttempt: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "prev attempt"),
		),
		Expand: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "expand groups"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// helpLine renders the short help for the footer.
func (k timelineKeyMap) helpLine() string {
	bindings := []key.Binding{k.Down, k.Up, k.Bottom, k.NextAttempt, k.Expand, k.Quit}
	line := ""
	for i, b := range bindings {
		if i > 0 {
			line += "  "
		}
		h := b.Help()
		line += h.Key + ": " + h.Desc
	}
	return line
}
