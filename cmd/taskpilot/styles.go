package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const panelWidth = 60

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7ec699")) // sage green

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c9d1d9")) // light gray

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7eb8da"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e")) // mid gray

	dividerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3d4450")) // slate
)

func divider() string {
	return dividerStyle.Render(strings.Repeat("─", panelWidth))
}

// field renders a padded label and a value on one line.
func field(label, value string) string {
	return "  " + labelStyle.Width(12).Render(label) + " " + valueStyle.Render(value)
}
