package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Send      key.Binding
	Stop      key.Binding
	Retry     key.Binding
	Save      key.Binding
	Load      key.Binding
	Export    key.Binding
	Narration key.Binding
	AutoSave  key.Binding
	History   key.Binding
	Clear     key.Binding
	Quit      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Send:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Stop:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "stop")),
		Retry:     key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "retry")),
		Save:      key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),
		Load:      key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "load latest")),
		Export:    key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "export replay")),
		Narration: key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "narration")),
		AutoSave:  key.NewBinding(key.WithKeys("ctrl+a"), key.WithHelp("ctrl+a", "auto-save")),
		History:   key.NewBinding(key.WithKeys("ctrl+f"), key.WithHelp("ctrl+f", "search history")),
		Clear:     key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear input")),
		Quit:      key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

func (k keyMap) helpLine() string {
	var line string
	for i, binding := range []key.Binding{k.Send, k.Stop, k.Retry, k.Save, k.Load, k.Export, k.Narration, k.AutoSave, k.History, k.Quit} {
		if i > 0 {
			line += " · "
		}
		line += binding.Help().Key + " " + binding.Help().Desc
	}
	return line
}
