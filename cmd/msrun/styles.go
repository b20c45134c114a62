// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Palette shared by all CLI output, tuned for dark terminals.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	// TitleStyle renders headers.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	// SubtitleStyle renders secondary, de-emphasized text.
	SubtitleStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	// SuccessStyle renders positive outcomes.
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	// ErrorStyle renders failures.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	// WarningStyle renders warnings.
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	// CmdStyle renders command names, image tags and URLs.
	CmdStyle = lipgloss.NewStyle().Foreground(ColorHighlight)
	// KeyStyle renders keys of key/value listings.
	KeyStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorHighlight)
)

const (
	arrow = "→"
	check = "✓"
	cross = "✗"
)

// ArrowStyle renders the progress arrow.
func ArrowStyle() string { return CmdStyle.Render(arrow) }

// PassStyle renders the success check.
func PassStyle() string { return SuccessStyle.Bold(true).Render(check) }
