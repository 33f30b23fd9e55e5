package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	renderSummary(&b, m)

	if len(m.Rows) > 0 {
		b.WriteString(DeviceTable(m.Rows))
		b.WriteString("\n")
	}

	if m.FetchErr != nil {
		b.WriteString(failedStyle.Render(fmt.Sprintf("  %s %v", crossMark, m.FetchErr)))
		b.WriteString("\n")
	}

	renderFooter(&b, m)
	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	b.WriteString(titleStyle.Render(fmt.Sprintf("btmesh: %s", m.Application)))

	status := " "
	switch {
	case m.Err != nil:
		status += failedStyle.Render(fmt.Sprintf("Error: %v", m.Err))
	case m.LastRefresh.IsZero():
		status += dimStyle.Render("Loading...")
	default:
		status += dimStyle.Render(fmt.Sprintf("%d devices", len(m.Rows)))
	}
	b.WriteString(status)
	b.WriteString("\n")
}

// summaryStates lists the states in display order.
var summaryStates = []string{"provisioning", "provisioned", "reset", StateNew, StateDeleting, StateInvalid}

func renderSummary(b *strings.Builder, m Model) {
	if m.LastRefresh.IsZero() {
		return
	}
	b.WriteString(sectionStyle.Render("  Devices"))
	b.WriteString("\n")

	counts := m.counts()
	for _, state := range summaryStates {
		n := counts[state]
		if n == 0 {
			continue
		}
		icon, style := stateIcon(state, m.SpinnerFrame)
		fmt.Fprintf(b, "    %s %s\n", style(icon), style(fmt.Sprintf("%-13s %d", state, n)))
	}
}

func renderFooter(b *strings.Builder, m Model) {
	parts := []string{fmt.Sprintf("watching: %s", formatDuration(m.clock().Sub(m.StartTime)))}
	if !m.LastRefresh.IsZero() {
		parts = append(parts, fmt.Sprintf("refreshed: %s ago", formatDuration(m.clock().Sub(m.LastRefresh))))
	}
	b.WriteString(footerStyle.Render(fmt.Sprintf("  %s  |  q: quit", strings.Join(parts, "  |  "))))
	b.WriteString("\n")
}

// Helper functions

func stateIcon(state string, frame int) (string, styleFunc) {
	switch state {
	case "provisioned":
		return checkMark, sf(readyStyle)
	case "provisioning", StateDeleting:
		return currentSpinner(frame), sf(warningStyle)
	case StateInvalid:
		return crossMark, sf(failedStyle)
	case StateNew:
		return pending, sf(dimStyle)
	default:
		return warnMark, sf(dimStyle)
	}
}

func currentSpinner(frame int) string {
	if len(spinnerFrames) == 0 {
		return spinner
	}
	if frame < 0 {
		frame = -frame
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
