package tui

import "github.com/charmbracelet/bubbles/key"

var keys = struct {
	Quit       key.Binding
	Connect    key.Binding
	Disconnect key.Binding
	Clear      key.Binding
	Power      key.Binding
	Up         key.Binding
	Down       key.Binding
	Top        key.Binding
}{
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
	Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
	Clear:      key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear")),
	Power:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "power")),
	Up:         key.NewBinding(key.WithKeys("k", "up")),
	Down:       key.NewBinding(key.WithKeys("j", "down")),
	Top:        key.NewBinding(key.WithKeys("g", "home")),
}

func helpLine(withPower bool) string {
	bindings := []key.Binding{keys.Connect, keys.Disconnect, keys.Clear}
	if withPower {
		bindings = append(bindings, keys.Power)
	}
	bindings = append(bindings, keys.Quit)

	line := ""
	for i, b := range bindings {
		if i > 0 {
			line += "  "
		}
		h := b.Help()
		line += h.Key + " " + h.Desc
	}
	return line
}
