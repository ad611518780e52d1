// Package ui provides terminal styling and user-facing alerts.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0969da", Dark: "#58a6ff"}).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#656d76", Dark: "#8b949e"})
)

func init() {
	// NO_COLOR (https://no-color.org) and dumb terminals get plain text.
	if _, ok := os.LookupEnv("NO_COLOR"); ok || os.Getenv("TERM") == "dumb" {
		DisableColor()
	}
}

// DisableColor forces plain, unstyled output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// RenderAccent renders s in the accent color, used for headings and icons.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning marker.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as an error marker.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
