package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// Style definitions shared by the terminal UIs.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("69")).Bold(true)
	personaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Bold(true)
	stampStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusQueued    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	statusSelection = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	statusDone      = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func jobStatusStyle(status models.JobStatus) lipgloss.Style {
	switch status {
	case models.JobRunning:
		return statusRunning
	case models.JobAwaitingSelection:
		return statusSelection
	case models.JobDone:
		return statusDone
	case models.JobError:
		return statusFailed
	default:
		return statusQueued
	}
}

// progressBar renders progress (0-100) as a fixed-width bar.
func progressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	filled := int(progress / 100 * float64(width))
	return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("#", filled), strings.Repeat("-", width-filled), progress)
}
