package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Open    key.Binding
	Toggle  key.Binding
	Run     key.Binding
	Stop    key.Binding
	Reset   key.Binding
	Search  key.Binding
	Help    key.Binding
	History key.Binding
	Refresh key.Binding
	Escape  key.Binding
	Confirm key.Binding
	Deny    key.Binding
	Quit    key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Open: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open"),
		),
		Toggle: key.NewBinding(
			key.WithKeys(" ", "space"),
			key.WithHelp("space", "toggle task"),
		),
		Run: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "run"),
		),
		Stop: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "stop run"),
		),
		Reset: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "reset tasks"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "search"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		History: key.NewBinding(
			key.WithKeys("h"),
			key.WithHelp("h", "history"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "refresh"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y", "enter"),
			key.WithHelp("y", "yes"),
		),
		Deny: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "no"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Apply overrides bindings by action name, as stored under shortcut.<action>.
// Unknown actions are ignored.
func (k *KeyMap) Apply(overrides map[string][]string) {
	bindings := map[string]*key.Binding{
		"up":      &k.Up,
		"down":    &k.Down,
		"open":    &k.Open,
		"toggle":  &k.Toggle,
		"run":     &k.Run,
		"stop":    &k.Stop,
		"reset":   &k.Reset,
		"search":  &k.Search,
		"help":    &k.Help,
		"history": &k.History,
		"refresh": &k.Refresh,
		"quit":    &k.Quit,
	}
	for action, keys := range overrides {
		b, ok := bindings[action]
		if !ok || len(keys) == 0 {
			continue
		}
		desc := b.Help().Desc
		b.SetKeys(keys...)
		b.SetHelp(strings.Join(keys, "/"), desc)
	}
}

// helpLines lists bindings for the help overlay.
func (k KeyMap) helpLines() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Open, k.Toggle, k.Run, k.Stop, k.Reset,
		k.Search, k.History, k.Refresh, k.Help, k.Escape, k.Quit,
	}
}
