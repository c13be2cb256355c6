package ui

import "github.com/charmbracelet/lipgloss"

// Palette shared by every renderer. Adaptive pairs keep output legible
// on both light and dark terminals.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "63", Dark: "86"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "78"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "124", Dark: "204"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "245", Dark: "240"}
)
