package cli

import "github.com/charmbracelet/lipgloss"

// Fire colour palette 🔥
// Shared fire theme colours used by the CLI help printer
var (
	// Core fire colours (dark to bright)
	FireYellow  = lipgloss.Color("#FFD700") // Bright yellow
	FireOrange  = lipgloss.Color("#FF8C00") // Deep orange
	FireRed     = lipgloss.Color("#FF4500") // Orange-red
	FireCrimson = lipgloss.Color("#DC143C") // Deep crimson

	// Accent colours
	WarmGray = lipgloss.Color("#B8860B") // Dark goldenrod for subtle text
)
