package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keyboard bindings for consolectl.
type KeyMap struct {
	Send        key.Binding
	StartServer key.Binding
	StopServer  key.Binding
	RefreshAuth key.Binding
	ToggleFav   key.Binding
	NextFav     key.Binding
	Quit        key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send command"),
		),
		StartServer: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("ctrl+s", "start server"),
		),
		StopServer: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("ctrl+x", "stop server"),
		),
		RefreshAuth: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "refresh auth"),
		),
		ToggleFav: key.NewBinding(
			key.WithKeys("ctrl+f"),
			key.WithHelp("ctrl+f", "favorite command"),
		),
		NextFav: key.NewBinding(
			key.WithKeys("ctrl+p"),
			key.WithHelp("ctrl+p", "cycle favorites"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}
