// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package picker is a full-screen model chooser backed by the
// provider's model catalog. It is the one interactive surface that
// takes over the terminal; the rest of the CLI stays line-oriented.
package picker

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/anvil/internal/api"
)

type item struct {
	info    api.ModelInfo
	current bool
}

func (i item) Title() string {
	if i.current {
		return i.info.ID + " (current)"
	}
	return i.info.ID
}

func (i item) Description() string {
	name := i.info.Name
	if i.info.ContextLen > 0 {
		if name != "" {
			name += " · "
		}
		name += fmt.Sprintf("%dk context", i.info.ContextLen/1024)
	}
	return name
}

func (i item) FilterValue() string {
	return i.info.ID + " " + i.info.Name
}

type model struct {
	list   list.Model
	choice string
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		// Don't swallow keys while the filter input is active.
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "enter":
			if it, ok := m.list.SelectedItem().(item); ok {
				m.choice = it.info.ID
			}
			return m, tea.Quit
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) View() string {
	return m.list.View()
}

// Pick runs the chooser and returns the selected model ID, or "" when
// the user backed out.
func Pick(models []api.ModelInfo, current string) (string, error) {
	items := make([]list.Item, 0, len(models))
	selected := 0
	for i, info := range models {
		isCurrent := info.ID == current
		if isCurrent {
			selected = i
		}
		items = append(items, item{info: info, current: isCurrent})
	}

	delegate := list.NewDefaultDelegate()
	l := list.New(items, delegate, 0, 0)
	l.Title = "Select a model"
	l.Styles.Title = lipgloss.NewStyle().Bold(true)
	l.SetShowStatusBar(false)
	l.Select(selected)

	final, err := tea.NewProgram(model{list: l}, tea.WithAltScreen()).Run()
	if err != nil {
		return "", fmt.Errorf("run model picker: %w", err)
	}
	return final.(model).choice, nil
}
