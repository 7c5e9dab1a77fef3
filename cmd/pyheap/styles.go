package main

import "github.com/charmbracelet/lipgloss"

var (
	headerColor    = lipgloss.Color("#4682B4") // Steel blue
	separatorColor = lipgloss.Color("#666666") // Dark gray

	headerStyle    = lipgloss.NewStyle().Foreground(headerColor).Bold(true)
	separatorStyle = lipgloss.NewStyle().Foreground(separatorColor)
)
